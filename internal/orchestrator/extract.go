package orchestrator

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoStructuredContent is returned when nothing JSON-shaped could be
// recovered from model output.
var ErrNoStructuredContent = errors.New("no structured content in model output")

// analysisPayload is the schema the analysis prompt constrains the model to.
type analysisPayload struct {
	DimensionScores map[string]float64 `json:"dimension_scores"`
	Evidence        []string           `json:"evidence"`
	Confidence      float64            `json:"confidence"`
}

// coherencePayload is the schema the coherence prompt constrains the model to.
type coherencePayload struct {
	Coherent   bool     `json:"coherent"`
	Issues     []string `json:"issues"`
	Confidence float64  `json:"confidence"`
}

// extractJSON recovers the JSON object from model output. The happy path is
// schema-constrained output that unmarshals directly; the tolerant path
// strips code fences and surrounding prose and retries. The lowConfidence
// flag marks results recovered by the tolerant path so callers see the
// degradation explicitly instead of a silently defaulted value.
func extractJSON(content string, v any) (lowConfidence bool, err error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return false, ErrNoStructuredContent
	}

	if err := json.Unmarshal([]byte(trimmed), v); err == nil {
		return false, nil
	}

	if fenced, ok := stripCodeFence(trimmed); ok {
		if err := json.Unmarshal([]byte(fenced), v); err == nil {
			return true, nil
		}
	}

	if obj, ok := firstBalancedObject(trimmed); ok {
		if err := json.Unmarshal([]byte(obj), v); err == nil {
			return true, nil
		}
	}

	return false, ErrNoStructuredContent
}

// stripCodeFence extracts the body of the first fenced code block.
func stripCodeFence(s string) (string, bool) {
	start := strings.Index(s, "```")
	if start < 0 {
		return "", false
	}
	body := s[start+3:]
	// Drop an optional language tag on the fence line.
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		firstLine := strings.TrimSpace(body[:nl])
		if firstLine == "json" || firstLine == "" {
			body = body[nl+1:]
		}
	}
	end := strings.Index(body, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(body[:end]), true
}

// firstBalancedObject returns the first brace-balanced {...} span, skipping
// braces inside JSON strings.
func firstBalancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// clampConfidence bounds a model-reported confidence into [0,1].
func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
