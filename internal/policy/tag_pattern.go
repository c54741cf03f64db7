package policy

import (
	"regexp"

	"go.uber.org/zap"

	"registrywarden/internal/models"
)

// TagPattern selects tags whose name matches a regex.
type TagPattern struct {
	pattern *regexp.Regexp
}

// NewTagPattern compiles value as a regex. An empty/whitespace value or an
// invalid regex disables the policy.
func NewTagPattern(value string, log *zap.Logger) *TagPattern {
	if trimmedEmpty(value) {
		return &TagPattern{}
	}
	re, err := regexp.Compile(value)
	if err != nil {
		if log != nil {
			log.Warn("invalid tag.pattern regex, disabling policy", zap.String("value", value), zap.Error(err))
		}
		return &TagPattern{}
	}
	return &TagPattern{pattern: re}
}

// NewTagPatternDefault returns the default-slot instance: matches every
// tag name.
func NewTagPatternDefault() *TagPattern {
	return &TagPattern{pattern: regexp.MustCompile(".*")}
}

func (p *TagPattern) ID() string               { return IDTagPattern }
func (p *TagPattern) AffectionType() AffectionType { return Target }
func (p *TagPattern) Enabled() bool            { return p.pattern != nil }

func (p *TagPattern) Affects(tags []models.Tag) []models.Tag {
	if p.pattern == nil {
		return nil
	}
	var affected []models.Tag
	for _, tag := range tags {
		if p.pattern.MatchString(tag.Name) {
			affected = append(affected, tag)
		}
	}
	return affected
}
