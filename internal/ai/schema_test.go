package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSONPlain(t *testing.T) {
	var out struct {
		Title string `json:"title"`
	}
	require.NoError(t, decodeJSON(`{"title": "Jazz"}`, &out))
	assert.Equal(t, "Jazz", out.Title)
}

func TestDecodeJSONStripsFences(t *testing.T) {
	var out []struct {
		Date string `json:"date"`
	}
	response := "```json\n[{\"date\": \"2026-05-20\"}]\n```"
	require.NoError(t, decodeJSON(response, &out))
	require.Len(t, out, 1)
	assert.Equal(t, "2026-05-20", out[0].Date)
}

func TestDecodeJSONCutsLeadingProse(t *testing.T) {
	var out struct {
		IsValid bool `json:"isValid"`
	}
	require.NoError(t, decodeJSON(`Here is the result: {"isValid": true}`, &out))
	assert.True(t, out.IsValid)
}

func TestDecodeJSONRejectsGarbage(t *testing.T) {
	var out map[string]any
	assert.Error(t, decodeJSON("I could not find any events on this page.", &out))
	assert.Error(t, decodeJSON("", &out))
}
