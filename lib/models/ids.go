package models

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidSource = errors.New("invalid source")
	ErrInvalidClient = errors.New("invalid client id")

	sourcePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)
)

const clientIDLength = 36

// ValidateClientID accepts only the canonical hyphenated UUID text form.
func ValidateClientID(clientID string) error {
	if len(clientID) != clientIDLength {
		return fmt.Errorf("%w: expected %d characters", ErrInvalidClient, clientIDLength)
	}
	if _, err := uuid.Parse(clientID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidClient, err)
	}
	return nil
}

// SourceCatalog is the set of sources we are willing to fetch.
// An empty catalog accepts any well-formed source slug.
type SourceCatalog map[string]struct{}

func NewSourceCatalog(sources []string) (SourceCatalog, error) {
	catalog := make(SourceCatalog, len(sources))
	for _, src := range sources {
		if !sourcePattern.MatchString(src) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSource, src)
		}
		catalog[src] = struct{}{}
	}
	return catalog, nil
}

func (c SourceCatalog) Validate(source string) error {
	if !sourcePattern.MatchString(source) {
		return fmt.Errorf("%w: malformed %q", ErrInvalidSource, source)
	}
	if len(c) == 0 {
		return nil
	}
	if _, ok := c[source]; !ok {
		return fmt.Errorf("%w: %q is not tracked", ErrInvalidSource, source)
	}
	return nil
}

// WindowKey identifies the cooldown bucket a fetch belongs to.
func WindowKey(source, clientID string, now time.Time, cooldown time.Duration) string {
	bucket := now.UnixNano() / int64(cooldown)
	return fmt.Sprintf("%s:%s:%d", source, clientID, bucket)
}
