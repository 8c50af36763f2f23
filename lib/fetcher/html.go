package fetcher

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/fiffu/reviewwatch/lib/models"
	"golang.org/x/net/html"
)

var (
	whitespace = regexp.MustCompile(`\s+`)
	nonDigits  = regexp.MustCompile(`[^0-9]`)
)

const (
	summaryXPath      = "//*[@data-average-rating]"
	bucketXPath       = "//*[@data-rating-bucket]"
	reviewXPath       = "//*[@data-merchant-review]"
	reviewRatingXPath = ".//*[@data-rating]"
)

// ExtractReviews reads the rating summary, the star distribution and up to limit of the
// newest reviews. A page without the rating summary is treated as a parse failure, since
// that means the markup changed rather than the app having no reviews.
func ExtractReviews(doc *html.Node, limit int) (*models.ReviewPayload, error) {
	summary := htmlquery.FindOne(doc, summaryXPath)
	if summary == nil {
		return nil, fmt.Errorf("%w: rating summary not found", ErrParse)
	}

	avg, err := strconv.ParseFloat(strings.TrimSpace(htmlquery.SelectAttr(summary, "data-average-rating")), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: average rating: %w", ErrParse, err)
	}

	total, err := parseCount(htmlquery.SelectAttr(summary, "data-review-count"))
	if err != nil {
		return nil, fmt.Errorf("%w: review count: %w", ErrParse, err)
	}

	payload := &models.ReviewPayload{
		TotalReviews:  total,
		AverageRating: avg,
		Distribution:  map[int]int{1: 0, 2: 0, 3: 0, 4: 0, 5: 0},
		Recent:        []models.Review{},
	}

	for _, bucket := range htmlquery.Find(doc, bucketXPath) {
		stars, err := strconv.Atoi(htmlquery.SelectAttr(bucket, "data-rating-bucket"))
		if err != nil || stars < 1 || stars > 5 {
			continue
		}
		raw := htmlquery.SelectAttr(bucket, "data-count")
		if raw == "" {
			raw = digForText(bucket)
		}
		if count, err := parseCount(raw); err == nil {
			payload.Distribution[stars] = count
		}
	}

	for _, node := range htmlquery.Find(doc, reviewXPath) {
		if limit > 0 && len(payload.Recent) >= limit {
			break
		}
		payload.Recent = append(payload.Recent, extractReview(node))
	}

	return payload, nil
}

func extractReview(n *html.Node) models.Review {
	review := models.Review{
		Date:    selectClassText(n, "review-date"),
		Country: selectClassText(n, "review-country"),
		Author:  selectClassText(n, "review-author"),
		Content: selectClassText(n, "review-content"),
	}
	if ratingNode := htmlquery.FindOne(n, reviewRatingXPath); ratingNode != nil {
		review.Rating, _ = strconv.Atoi(strings.TrimSpace(htmlquery.SelectAttr(ratingNode, "data-rating")))
	}
	return review
}

func selectClassText(n *html.Node, class string) string {
	xpath := fmt.Sprintf(".//*[contains(concat(' ', normalize-space(@class), ' '), ' %s ')]", class)
	return SelectText(n, xpath)
}

// parseCount accepts formatted numbers such as "1,234" or "(87)".
func parseCount(s string) (int, error) {
	digits := nonDigits.ReplaceAllString(s, "")
	if digits == "" {
		return 0, fmt.Errorf("no digits in %q", s)
	}
	return strconv.Atoi(digits)
}

func SelectText(n *html.Node, xpath string) string {
	node := htmlquery.FindOne(n, xpath)
	return digForText(node)
}

func digForText(n *html.Node) string {
	if n == nil {
		return ""
	}
	buf := new(bytes.Buffer)
	dig(n, buf)
	return compactWhitespace(buf.String())
}

func dig(n *html.Node, buf *bytes.Buffer) {
	if n == nil {
		return
	}
	if n.Type == html.TextNode {
		buf.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		dig(c, buf)
	}
}

func compactWhitespace(s string) string {
	s = whitespace.ReplaceAllString(s, " ")
	s = strings.Trim(s, " ")
	return s
}
