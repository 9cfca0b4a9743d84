// Package feature describes the unit of work the orchestrator ships and the
// backlog it draws features from.
package feature

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var slugUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

// Spec is one feature to ship.
type Spec struct {
	Name        string `yaml:"name" json:"name"`
	Slug        string `yaml:"slug" json:"slug"`
	Description string `yaml:"description" json:"description"`
	Tagline     string `yaml:"tagline,omitempty" json:"tagline,omitempty"`
}

// Slugify lowercases s and collapses every run of non-alphanumerics to "-".
func Slugify(s string) string {
	s = slugUnsafe.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "-")
	return strings.Trim(s, "-")
}

// Normalize trims fields and derives a slug from the name when missing.
func (s Spec) Normalize() Spec {
	s.Name = strings.TrimSpace(s.Name)
	s.Description = strings.TrimSpace(s.Description)
	s.Tagline = strings.TrimSpace(s.Tagline)
	if strings.TrimSpace(s.Slug) == "" {
		s.Slug = Slugify(s.Name)
	} else {
		s.Slug = Slugify(s.Slug)
	}
	return s
}

// Validate reports missing required fields.
func (s Spec) Validate() error {
	var errs []error
	if strings.TrimSpace(s.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if Slugify(s.Slug) == "" {
		errs = append(errs, errors.New("slug is required"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("feature: %w", errors.Join(errs...))
}

func (s Spec) String() string {
	if s.Name == "" {
		return s.Slug
	}
	return fmt.Sprintf("%s (%s)", s.Name, s.Slug)
}
