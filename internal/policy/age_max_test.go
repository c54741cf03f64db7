package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAgeMax_Keeping(t *testing.T) {
	now := time.Now()
	tags := offsetTags(now)
	p := &AgeMax{age: 10 * time.Minute, enabled: true, now: func() time.Time { return now }}

	affected := p.Affects(tags)

	assert.ElementsMatch(t, []string{"first", "third", "fourth", "sixth"}, tagNames(affected))
}

func TestAgeMax_InFuture(t *testing.T) {
	now := time.Now()
	tags := offsetTags(now)
	p := &AgeMax{age: 10 * 24 * time.Hour, enabled: true, now: func() time.Time { return now }}

	assert.Empty(t, p.Affects(tags))
}

func TestAgeMax_InvalidDuration(t *testing.T) {
	p := NewAgeMax("asdf", nil)

	assert.False(t, p.Enabled())
	assert.Empty(t, p.Affects(offsetTags(time.Now())))
}

func TestAgeMax_Empty(t *testing.T) {
	p := NewAgeMax("", nil)

	assert.False(t, p.Enabled())
	assert.Equal(t, Target, p.AffectionType())
	assert.Equal(t, IDAgeMax, p.ID())
}
