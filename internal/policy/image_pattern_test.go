package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"registrywarden/internal/models"
)

func repos(names ...string) []models.Repository {
	out := make([]models.Repository, len(names))
	for i, n := range names {
		out[i] = models.Repository{Name: n}
	}
	return out
}

func repoNames(repositories []models.Repository) []string {
	names := make([]string, len(repositories))
	for i, r := range repositories {
		names[i] = r.Name
	}
	return names
}

func TestImagePattern_Matching(t *testing.T) {
	r := repos("test-matching", "not-matching")
	p := NewImagePattern("test-.*", nil)

	assert.True(t, p.Enabled())
	assert.Equal(t, []string{"test-matching"}, repoNames(p.Affects(r)))
}

func TestImagePattern_Empty(t *testing.T) {
	p := NewImagePattern("", nil)

	assert.False(t, p.Enabled())
	assert.Empty(t, p.Affects(repos("test-matching", "not-matching")))
}

func TestImagePattern_Default(t *testing.T) {
	r := repos("test-matching", "not-matching")
	p := NewImagePatternDefault()

	assert.True(t, p.Enabled())
	assert.ElementsMatch(t, repoNames(r), repoNames(p.Affects(r)))
}

func TestImagePattern_InvalidRegex(t *testing.T) {
	p := NewImagePattern("([a-zA-Z]+", nil)

	assert.False(t, p.Enabled())
	assert.Empty(t, p.Affects(repos("test-matching", "not-matching")))
}
