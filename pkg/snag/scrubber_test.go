package snag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScrubber_FiltersMatchKeySubstringsCaseInsensitive(t *testing.T) {
	s := NewScrubber(ScrubberConfig{Filters: []string{"Password", " token "}})

	got := s.ScrubMetadata(map[string]any{
		"db_password": "x",
		"AuthToken":   "y",
		"user":        "alice",
		"nested": []any{
			map[string]any{"password": "z", "id": 7},
		},
		"headers": map[string]string{"x-token": "t", "accept": "json"},
	})

	assert.Equal(t, FilteredPlaceholder, got["db_password"])
	assert.Equal(t, FilteredPlaceholder, got["AuthToken"])
	assert.Equal(t, "alice", got["user"])

	nested := got["nested"].([]any)[0].(map[string]any)
	assert.Equal(t, FilteredPlaceholder, nested["password"])
	assert.Equal(t, 7, nested["id"])

	headers := got["headers"].(map[string]any)
	assert.Equal(t, FilteredPlaceholder, headers["x-token"])
	assert.Equal(t, "json", headers["accept"])
	assert.Equal(t, []string{"password", "token"}, s.Filters())
}

func TestScrubber_MetadataNotMutatedInPlace(t *testing.T) {
	s := NewScrubber(DefaultScrubberConfig())
	meta := map[string]any{"password": "secret"}

	_ = s.ScrubMetadata(meta)

	assert.Equal(t, "secret", meta["password"])
	assert.Nil(t, s.ScrubMetadata(nil))
}

func TestScrubber_ScrubMessage(t *testing.T) {
	s := NewScrubber(DefaultScrubberConfig())

	msg := s.ScrubMessage("connect failed password=hunter2 for bob@example.com")
	assert.NotContains(t, msg, "hunter2")
	assert.NotContains(t, msg, "bob@example.com")

	off := NewScrubber(ScrubberConfig{ScrubMessages: false})
	assert.Equal(t, "password=hunter2", off.ScrubMessage("password=hunter2"))
}

func TestScrubber_TruncatesLongValues(t *testing.T) {
	s := NewScrubber(ScrubberConfig{MaxMessageSize: 20, MaxStringSize: 20})

	msg := s.ScrubMessage(strings.Repeat("a", 100))
	assert.Len(t, msg, 20)
	assert.True(t, strings.HasSuffix(msg, "...[TRUNCATED]"))

	got := s.ScrubMetadata(map[string]any{"body": strings.Repeat("b", 100)})
	assert.Len(t, got["body"], 20)
}

func TestScrubber_ScrubStacktrace(t *testing.T) {
	s := NewScrubber(ScrubberConfig{MaxFrames: 2})

	frames := s.ScrubStacktrace([]Frame{
		{File: "/home/alice/src/app/main.go", Line: 10, Function: "main.main"},
		{File: "/usr/local/go/src/runtime/proc.go", Line: 250},
		{File: "dropped.go", Line: 1},
	})

	assert.Len(t, frames, 2)
	assert.Equal(t, "/[PATH]/src/app/main.go", frames[0].File)
	assert.Equal(t, "/usr/local/go/src/runtime/proc.go", frames[1].File)
}
