package policy

import (
	"regexp"

	"go.uber.org/zap"

	"registrywarden/internal/models"
)

// ImagePattern selects repositories whose name matches a regex.
type ImagePattern struct {
	pattern *regexp.Regexp
}

// NewImagePattern compiles value as a regex. An empty/whitespace value or
// an invalid regex disables the policy.
func NewImagePattern(value string, log *zap.Logger) *ImagePattern {
	if trimmedEmpty(value) {
		return &ImagePattern{}
	}
	re, err := regexp.Compile(value)
	if err != nil {
		if log != nil {
			log.Warn("invalid image.pattern regex, disabling policy", zap.String("value", value), zap.Error(err))
		}
		return &ImagePattern{}
	}
	return &ImagePattern{pattern: re}
}

// NewImagePatternDefault returns the default-slot instance: matches every
// repository name.
func NewImagePatternDefault() *ImagePattern {
	return &ImagePattern{pattern: regexp.MustCompile(".*")}
}

func (p *ImagePattern) ID() string               { return IDImagePattern }
func (p *ImagePattern) AffectionType() AffectionType { return Target }
func (p *ImagePattern) Enabled() bool            { return p.pattern != nil }

func (p *ImagePattern) Affects(repos []models.Repository) []models.Repository {
	if p.pattern == nil {
		return nil
	}
	var affected []models.Repository
	for _, repo := range repos {
		if p.pattern.MatchString(repo.Name) {
			affected = append(affected, repo)
		}
	}
	return affected
}
