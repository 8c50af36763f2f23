package models

import "time"

type HealthCheck struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

type HealthReport struct {
	CheckedAt time.Time     `json:"checked_at"`
	Healthy   bool          `json:"healthy"`
	Checks    []HealthCheck `json:"checks"`
}

func (r *HealthReport) Failing() []HealthCheck {
	var out []HealthCheck
	for _, c := range r.Checks {
		if !c.OK {
			out = append(out, c)
		}
	}
	return out
}
