package report

import (
	"path/filepath"
	"strings"

	"github.com/parchment-ai/deckhand/pkg/state"
)

// ResolveVisuals assigns rendered visual artifacts to slides. Each slide's
// placeholder is resolved in order of preference:
//
//  1. exact match against an artifact path or its filename stem
//  2. templated placeholder ("{{id}}") whose id matches a stem
//  3. an artifact stem containing the slide's own id
//  4. the next unused artifact in rendering order
//
// A slide is never left without a visual while unused artifacts remain.
// Artifacts are assigned at most once.
func ResolveVisuals(slides []state.Slide, artifacts []string) []state.Slide {
	out := state.CloneSlides(slides)
	used := make(map[string]bool, len(artifacts))

	claim := func(path string) string {
		used[path] = true
		return path
	}

	findByStem := func(id string) string {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" {
			return ""
		}
		for _, a := range artifacts {
			if used[a] {
				continue
			}
			if strings.ToLower(stem(a)) == id {
				return a
			}
		}
		return ""
	}

	for i := range out {
		ref := strings.TrimSpace(out[i].VisualRef)

		// Exact path or stem match.
		if ref != "" {
			matched := ""
			for _, a := range artifacts {
				if used[a] {
					continue
				}
				if a == ref || stem(a) == ref {
					matched = a
					break
				}
			}
			if matched != "" {
				out[i].VisualRef = claim(matched)
				continue
			}
		}

		// Templated placeholder.
		if id, ok := templateID(ref); ok {
			if a := findByStem(id); a != "" {
				out[i].VisualRef = claim(a)
				continue
			}
		}

		// The slide's own id names an artifact.
		if a := findByStem(out[i].ID); a != "" {
			out[i].VisualRef = claim(a)
			continue
		}

		// Next unused artifact in order.
		assigned := false
		for _, a := range artifacts {
			if !used[a] {
				out[i].VisualRef = claim(a)
				assigned = true
				break
			}
		}
		if !assigned {
			out[i].VisualRef = ""
		}
	}
	return out
}

func templateID(ref string) (string, bool) {
	if strings.HasPrefix(ref, "{{") && strings.HasSuffix(ref, "}}") {
		return strings.TrimSpace(ref[2 : len(ref)-2]), true
	}
	return "", false
}

func stem(path string) string {
	base := filepath.Base(path)
	for {
		ext := filepath.Ext(base)
		if ext == "" {
			return base
		}
		base = strings.TrimSuffix(base, ext)
	}
}
