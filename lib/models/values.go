package models

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

type ReviewPayload struct {
	TotalReviews  int         `json:"total_reviews"`
	AverageRating float64     `json:"average_rating"`
	Distribution  map[int]int `json:"rating_distribution"`
	Recent        []Review    `json:"recent_reviews"`
}

type Review struct {
	Rating  int    `json:"rating"`
	Date    string `json:"date"`
	Country string `json:"country"`
	Author  string `json:"author"`
	Content string `json:"content"`
}

// Fingerprint hashes the canonical JSON form of the payload, so equal content always
// yields the same fingerprint regardless of map ordering or float formatting.
func Fingerprint(p *ReviewPayload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize payload: %w", err)
	}
	return fmt.Sprintf("%x", sha256.Sum256(canonical)), nil
}
