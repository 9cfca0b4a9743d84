package classifier

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		name        string
		slug        string
		description string
		want        bool
		match       string
		source      Source
	}{
		{name: "3d description", slug: "jumpy", description: "a 3D platformer", want: true, match: "3d", source: SourceDescription},
		{name: "static pricing", slug: "pricing-page", description: "a static pricing table", want: false},
		{name: "slug keyword", slug: "physics-toy", description: "bouncy balls", want: true, match: "physics", source: SourceSlug},
		{name: "slug beats description", slug: "webgl-demo", description: "real-time charts", want: true, match: "webgl", source: SourceSlug},
		{name: "route token", slug: "color-playground", description: "pick colors", want: true, match: "playground", source: SourceRoute},
		{name: "route must be whole token", slug: "labels-editor", description: "rename labels", want: false},
		{name: "case insensitive", slug: "Orbit", description: "A REAL-TIME Orbit Simulation", want: true, match: "real-time", source: SourceDescription},
		{name: "empty", slug: "", description: "", want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.slug, tc.description)
			if got.NeedsFootage != tc.want {
				t.Fatalf("NeedsFootage = %v, want %v (%+v)", got.NeedsFootage, tc.want, got)
			}
			if got.Match != tc.match || got.Source != tc.source {
				t.Fatalf("match = %q/%q, want %q/%q", got.Match, got.Source, tc.match, tc.source)
			}
			if NeedsFootage(tc.slug, tc.description) != tc.want {
				t.Fatalf("NeedsFootage helper disagrees with Classify")
			}
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	first := Classify("arcade-racer", "a racing game with particle effects")
	for i := 0; i < 10; i++ {
		if got := Classify("arcade-racer", "a racing game with particle effects"); got != first {
			t.Fatalf("classification changed between calls: %+v vs %+v", got, first)
		}
	}
}
