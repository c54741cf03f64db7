package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"registrywarden/internal/models"
)

func tagsByName(names ...string) []models.Tag {
	out := make([]models.Tag, len(names))
	for i, n := range names {
		out[i] = models.Tag{Repository: "repo", Name: n, Created: time.Now(), Size: 1}
	}
	return out
}

func TestTagPattern_Matching(t *testing.T) {
	tags := tagsByName("test-matching", "not-matching")
	p := NewTagPattern("test-.*", nil)

	assert.True(t, p.Enabled())
	assert.Equal(t, []string{"test-matching"}, tagNames(p.Affects(tags)))
}

func TestTagPattern_Empty(t *testing.T) {
	p := NewTagPattern("", nil)

	assert.False(t, p.Enabled())
	assert.Empty(t, p.Affects(tagsByName("test-matching", "not-matching")))
}

func TestTagPattern_Default(t *testing.T) {
	tags := tagsByName("test-matching", "not-matching")
	p := NewTagPatternDefault()

	assert.True(t, p.Enabled())
	assert.ElementsMatch(t, tagNames(tags), tagNames(p.Affects(tags)))
}

func TestTagPattern_InvalidRegex(t *testing.T) {
	p := NewTagPattern("([a-zA-Z]+", nil)

	assert.False(t, p.Enabled())
	assert.Empty(t, p.Affects(tagsByName("test-matching", "not-matching")))
}
