package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONDirect(t *testing.T) {
	var payload coherencePayload
	low, err := extractJSON(`{"coherent": true, "issues": [], "confidence": 0.95}`, &payload)
	require.NoError(t, err)
	assert.False(t, low, "schema-constrained output is full confidence")
	assert.True(t, payload.Coherent)
	assert.InDelta(t, 0.95, payload.Confidence, 1e-9)
}

func TestExtractJSONFencedBlock(t *testing.T) {
	content := "Here is my assessment:\n```json\n{\"coherent\": false, \"issues\": [\"scope mismatch\"], \"confidence\": 0.8}\n```\nLet me know if you need more."

	var payload coherencePayload
	low, err := extractJSON(content, &payload)
	require.NoError(t, err)
	assert.True(t, low, "recovered output must be tagged")
	assert.False(t, payload.Coherent)
	assert.Equal(t, []string{"scope mismatch"}, payload.Issues)
}

func TestExtractJSONProseWrapped(t *testing.T) {
	content := `The document scores as follows: {"dimension_scores": {"clarity": 0.7}, "evidence": ["a {quoted} brace"], "confidence": 0.6} based on my reading.`

	var payload analysisPayload
	low, err := extractJSON(content, &payload)
	require.NoError(t, err)
	assert.True(t, low)
	assert.InDelta(t, 0.7, payload.DimensionScores["clarity"], 1e-9)
	assert.Equal(t, []string{"a {quoted} brace"}, payload.Evidence)
}

func TestExtractJSONBracesInsideStrings(t *testing.T) {
	content := `prefix {"coherent": true, "issues": ["unmatched { inside"], "confidence": 0.5} suffix`

	var payload coherencePayload
	_, err := extractJSON(content, &payload)
	require.NoError(t, err)
	assert.Equal(t, []string{"unmatched { inside"}, payload.Issues)
}

func TestExtractJSONNothingRecoverable(t *testing.T) {
	var payload coherencePayload

	_, err := extractJSON("I cannot provide a structured answer.", &payload)
	assert.ErrorIs(t, err, ErrNoStructuredContent)

	_, err = extractJSON("", &payload)
	assert.ErrorIs(t, err, ErrNoStructuredContent)

	_, err = extractJSON("{\"coherent\": true", &payload)
	assert.ErrorIs(t, err, ErrNoStructuredContent, "unterminated object is unrecoverable")
}

func TestStripCodeFence(t *testing.T) {
	body, ok := stripCodeFence("```json\n{\"a\": 1}\n```")
	require.True(t, ok)
	assert.Equal(t, `{"a": 1}`, body)

	body, ok = stripCodeFence("```\n{\"a\": 1}\n```")
	require.True(t, ok)
	assert.Equal(t, `{"a": 1}`, body)

	_, ok = stripCodeFence("no fences here")
	assert.False(t, ok)

	_, ok = stripCodeFence("```json\nnever closed")
	assert.False(t, ok)
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0.0, clampConfidence(-0.2))
	assert.Equal(t, 1.0, clampConfidence(1.7))
	assert.Equal(t, 0.42, clampConfidence(0.42))
}
