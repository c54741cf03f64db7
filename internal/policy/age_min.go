package policy

import (
	"time"

	"go.uber.org/zap"

	"registrywarden/internal/models"
)

// AgeMin is a safety floor: it selects tags younger than the configured
// duration so the rule engine's requirement-subtraction phase can remove
// them from a target union, preventing brand-new tags from being deleted
// no matter what targets matched them.
type AgeMin struct {
	age     time.Duration
	enabled bool
	now     func() time.Time
}

// NewAgeMin parses a duration-policy value. As with AgeMax there is no
// implicit default to fall back to; an empty or invalid value simply
// disables the floor (Affects returns nil, so nothing is protected).
func NewAgeMin(value string, log *zap.Logger) *AgeMin {
	if value == "" {
		return &AgeMin{now: time.Now}
	}
	age, err := parseDuration(value)
	if err != nil {
		if log != nil {
			log.Warn("invalid age.min duration, disabling policy", zap.String("value", value), zap.Error(err))
		}
		return &AgeMin{now: time.Now}
	}
	return &AgeMin{age: age, enabled: true, now: time.Now}
}

func (p *AgeMin) ID() string               { return IDAgeMin }
func (p *AgeMin) AffectionType() AffectionType { return Requirement }
func (p *AgeMin) Enabled() bool            { return p.enabled }

// Affects returns the tags younger than the configured age; under the
// Requirement contract these are the elements that must be excluded from
// whatever a Target policy selected.
func (p *AgeMin) Affects(tags []models.Tag) []models.Tag {
	if !p.enabled {
		return nil
	}
	now := time.Now()
	if p.now != nil {
		now = p.now()
	}
	var affected []models.Tag
	for _, tag := range tags {
		if tag.Created.Add(p.age).After(now) {
			affected = append(affected, tag)
		}
	}
	return affected
}
