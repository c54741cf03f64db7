package policy

import (
	"time"

	"go.uber.org/zap"

	"registrywarden/internal/models"
)

// AgeMax selects tags whose creation time plus the configured duration has
// already passed: created+duration <= now. Empty or invalid values disable
// the policy entirely (Affects then returns nil).
type AgeMax struct {
	age     time.Duration
	enabled bool
	now     func() time.Time
}

// NewAgeMax parses a duration-policy value (see parseDuration). An empty
// string or unparsable value disables the policy; the caller's logger
// receives a warning rather than the whole rule being dropped.
func NewAgeMax(value string, log *zap.Logger) *AgeMax {
	if value == "" {
		return &AgeMax{now: time.Now}
	}
	age, err := parseDuration(value)
	if err != nil {
		if log != nil {
			log.Warn("invalid age.max duration, disabling policy", zap.String("value", value), zap.Error(err))
		}
		return &AgeMax{now: time.Now}
	}
	return &AgeMax{age: age, enabled: true, now: time.Now}
}

func (p *AgeMax) ID() string               { return IDAgeMax }
func (p *AgeMax) AffectionType() AffectionType { return Target }
func (p *AgeMax) Enabled() bool            { return p.enabled }

// Affects returns the tags old enough to be deleted under this policy.
func (p *AgeMax) Affects(tags []models.Tag) []models.Tag {
	if !p.enabled {
		return nil
	}
	now := time.Now()
	if p.now != nil {
		now = p.now()
	}
	var affected []models.Tag
	for _, tag := range tags {
		if tag.Created.Add(p.age).Before(now) || tag.Created.Add(p.age).Equal(now) {
			affected = append(affected, tag)
		}
	}
	return affected
}
