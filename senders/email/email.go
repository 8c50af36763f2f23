package email

import (
	_ "embed"
	"fmt"
	"html/template"
	"strings"

	"github.com/fiffu/reviewwatch/lib/models"
)

var (
	//go:embed report.html
	reportHTML     string
	reportTemplate = template.Must(template.New("report.html").Parse(reportHTML))
)

func mustFillTemplate(tmpl *template.Template, values any) string {
	buf := new(strings.Builder)
	err := tmpl.Execute(buf, values)
	if err != nil {
		return ""
	}
	return buf.String()
}

type HealthReportFormat struct {
	Report  *models.HealthReport
	Failing []models.HealthCheck
}

func NewHealthReportFormat(report *models.HealthReport) *HealthReportFormat {
	return &HealthReportFormat{report, report.Failing()}
}

func (ef *HealthReportFormat) Subject() string {
	return fmt.Sprintf("Reviewwatch: %d health check(s) failing", len(ef.Failing))
}

func (ef *HealthReportFormat) Body() string {
	return mustFillTemplate(reportTemplate, ef)
}
