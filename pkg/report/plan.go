package report

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/parchment-ai/deckhand/pkg/errors"
	"github.com/parchment-ai/deckhand/pkg/state"
)

// ParseSlidePlan decodes a model-produced slide plan. It accepts a bare JSON
// array, an object with a "slides" field, and either form wrapped in a
// markdown code fence.
func ParseSlidePlan(raw string) ([]state.Slide, error) {
	payload := stripCodeFence(raw)
	if payload == "" {
		return nil, errors.New(errors.ErrCodeValidationFailed, "slide plan is empty")
	}

	var slides []state.Slide
	if err := json.Unmarshal([]byte(payload), &slides); err != nil {
		var wrapper struct {
			Slides []state.Slide `json:"slides"`
		}
		if err2 := json.Unmarshal([]byte(payload), &wrapper); err2 != nil || wrapper.Slides == nil {
			return nil, errors.Wrap(err, errors.ErrCodeValidationFailed, "slide plan is not valid JSON")
		}
		slides = wrapper.Slides
	}

	if len(slides) == 0 {
		return nil, errors.New(errors.ErrCodeValidationFailed, "slide plan has no entries")
	}
	for i := range slides {
		if slides[i].ID == "" {
			slides[i].ID = fmt.Sprintf("slide-%d", i+1)
		}
		if strings.TrimSpace(slides[i].Title) == "" {
			return nil, errors.New(errors.ErrCodeValidationFailed,
				fmt.Sprintf("slide %d has no title", i+1))
		}
	}
	return slides, nil
}

// FallbackSlidePlan deterministically builds a slide plan from draft
// headings when structuring fails. Top-level and section headings each
// become one slide; a draft with no headings yields a single overview slide.
func FallbackSlidePlan(headings []Heading, objective string) []state.Slide {
	var slides []state.Slide
	for _, h := range headings {
		if h.Level > 2 || strings.TrimSpace(h.Text) == "" {
			continue
		}
		slides = append(slides, state.Slide{
			ID:    fmt.Sprintf("slide-%d", len(slides)+1),
			Title: h.Text,
		})
	}
	if len(slides) == 0 {
		title := strings.TrimSpace(objective)
		if title == "" {
			title = "Report"
		}
		slides = append(slides, state.Slide{ID: "slide-1", Title: title})
	}
	return slides
}

func stripCodeFence(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return trimmed
	}
	// Drop the opening fence (with optional language tag) and closing fence.
	lines = lines[1:]
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) != "```" {
		if len(lines) == 1 {
			break
		}
		last := strings.TrimSpace(lines[len(lines)-1])
		if last == "" {
			lines = lines[:len(lines)-1]
			continue
		}
		break
	}
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
