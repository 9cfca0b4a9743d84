// Package classifier decides whether a feature's trailer needs real captured
// footage or can be a purely synthetic composition.
package classifier

import "strings"

// Source names where a match was found.
type Source string

const (
	SourceNone        Source = ""
	SourceSlug        Source = "slug"
	SourceDescription Source = "description"
	SourceRoute       Source = "route"
)

// Keywords associated with dynamic or interactive UIs. Order matters: the
// first hit is reported.
var Keywords = []string{
	"real-time",
	"realtime",
	"simulation",
	"simulator",
	"3d",
	"webgl",
	"three.js",
	"threejs",
	"shader",
	"canvas",
	"game",
	"platformer",
	"physics",
	"particle",
	"animation",
	"animated",
	"interactive",
	"multiplayer",
	"visualizer",
	"visualization",
}

// ComplexRoutes are slug tokens known to host dynamic experiences.
var ComplexRoutes = []string{
	"playground",
	"arcade",
	"sandbox",
	"studio",
	"lab",
	"world",
}

// Decision is the classifier verdict plus the match that produced it.
type Decision struct {
	NeedsFootage bool   `json:"needs_footage"`
	Match        string `json:"match,omitempty"`
	Source       Source `json:"source,omitempty"`
}

// Classify evaluates slug and description case-insensitively. Keywords are
// checked in the slug, then the description, then slug tokens against
// ComplexRoutes. The first match wins.
func Classify(slug, description string) Decision {
	slug = strings.ToLower(strings.TrimSpace(slug))
	description = strings.ToLower(description)
	for _, kw := range Keywords {
		if strings.Contains(slug, kw) {
			return Decision{NeedsFootage: true, Match: kw, Source: SourceSlug}
		}
	}
	for _, kw := range Keywords {
		if strings.Contains(description, kw) {
			return Decision{NeedsFootage: true, Match: kw, Source: SourceDescription}
		}
	}
	for _, token := range slugTokens(slug) {
		for _, route := range ComplexRoutes {
			if token == route {
				return Decision{NeedsFootage: true, Match: route, Source: SourceRoute}
			}
		}
	}
	return Decision{}
}

// NeedsFootage reports only the boolean verdict.
func NeedsFootage(slug, description string) bool {
	return Classify(slug, description).NeedsFootage
}

func slugTokens(slug string) []string {
	return strings.FieldsFunc(slug, func(r rune) bool {
		return r == '-' || r == '_' || r == '/' || r == '.' || r == ' '
	})
}
