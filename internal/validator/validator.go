// Package validator turns raw model output into a structured behavior
// decision. Parsing is best-effort and never returns an error: anything
// unusable degrades to a nil decision.
package validator

import (
	"encoding/json"
	"strings"
)

const (
	// SpeechMaxRunes bounds how much a decision may say at once.
	SpeechMaxRunes = 50
	// SimilarityThreshold is the normalized edit-distance score above
	// which a speech act counts as a repeat and is suppressed.
	SimilarityThreshold = 0.8
)

// Actions a decision may request from the presentation layer.
var Actions = map[string]bool{
	"idle":    true,
	"walk":    true,
	"run":     true,
	"jump":    true,
	"sit":     true,
	"sleep":   true,
	"dance":   true,
	"wave":    true,
	"stretch": true,
}

var Emotions = map[string]bool{
	"happy":     true,
	"excited":   true,
	"curious":   true,
	"sleepy":    true,
	"bored":     true,
	"lonely":    true,
	"love":      true,
	"surprised": true,
	"neutral":   true,
}

// Decision is a validated behavior choice. Empty fields mean "no act of
// that kind"; a nil Decision means the output was unusable.
type Decision struct {
	Speech  string `json:"speech,omitempty"`
	Action  string `json:"action,omitempty"`
	Emotion string `json:"emotion,omitempty"`
}

func (d *Decision) Empty() bool {
	return d == nil || (d.Speech == "" && d.Action == "" && d.Emotion == "")
}

// Parse extracts the first balanced JSON object from raw (tolerating
// surrounding prose or markdown fences), strict-parses it, clamps the
// speech length and nulls out-of-enum action/emotion values instead of
// rejecting the object. Any failure yields nil.
func Parse(raw string) *Decision {
	obj, ok := ExtractObject(raw)
	if !ok {
		return nil
	}

	var fields struct {
		Speech  *string `json:"speech"`
		Action  *string `json:"action"`
		Emotion *string `json:"emotion"`
	}
	if err := json.Unmarshal([]byte(obj), &fields); err != nil {
		return nil
	}

	d := &Decision{}
	if fields.Speech != nil {
		d.Speech = clampRunes(strings.TrimSpace(*fields.Speech), SpeechMaxRunes)
	}
	if fields.Action != nil {
		if a := strings.ToLower(strings.TrimSpace(*fields.Action)); Actions[a] {
			d.Action = a
		}
	}
	if fields.Emotion != nil {
		if e := strings.ToLower(strings.TrimSpace(*fields.Emotion)); Emotions[e] {
			d.Emotion = e
		}
	}
	return d
}

// Dedup suppresses the decision's speech when it scores above the
// similarity threshold against any recently spoken line. Action and
// emotion stand regardless.
func Dedup(d *Decision, recent []string) {
	if d == nil || d.Speech == "" {
		return
	}
	for _, prev := range recent {
		if Similarity(d.Speech, prev) > SimilarityThreshold {
			d.Speech = ""
			return
		}
	}
}

// ExtractObject returns the first balanced top-level JSON object in s.
// The scanner is string- and escape-aware, so braces inside string
// values do not unbalance it. Extraction from free-form text is
// inherently lossy; when the model emits several JSON-ish blocks, the
// first balanced one wins.
func ExtractObject(s string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i, r := range s {
		if start >= 0 && inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '{':
			if start < 0 {
				start = i
			}
			depth++
		case '}':
			if start < 0 {
				continue
			}
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		case '"':
			if start >= 0 {
				inString = true
			}
		}
	}
	return "", false
}

func clampRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
