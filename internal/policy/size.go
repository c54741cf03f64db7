package policy

import (
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"registrywarden/internal/models"
)

// sizePattern is the accepted size grammar: a number, an optional single
// space, and an optional case-sensitive unit from {B, KiB, MiB, GiB, TiB}.
var sizePattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)? ?(B|KiB|MiB|GiB|TiB)?$`)

// Size selects tags whose total size is at or above a threshold.
type Size struct {
	threshold uint64
	enabled   bool
}

// NewSize parses a human-readable size ("<number>[ ]<unit>" with units in
// {B, KiB, MiB, GiB, TiB}, case-sensitive; a bare number means bytes) via
// dustin/go-humanize. Invalid or negative values disable the policy.
func NewSize(value string, log *zap.Logger) *Size {
	if trimmedEmpty(value) {
		return &Size{}
	}
	if hasNegativeSign(value) {
		if log != nil {
			log.Warn("negative size, disabling policy", zap.String("value", value))
		}
		return &Size{}
	}
	if !sizePattern.MatchString(value) {
		if log != nil {
			log.Warn("invalid size value, disabling policy", zap.String("value", value))
		}
		return &Size{}
	}
	bytes, err := humanize.ParseBytes(value)
	if err != nil {
		if log != nil {
			log.Warn("invalid size value, disabling policy", zap.String("value", value), zap.Error(err))
		}
		return &Size{}
	}
	return &Size{threshold: bytes, enabled: true}
}

// hasNegativeSign reports whether value's first non-space rune is '-'.
// go-humanize.ParseBytes accepts a leading '-' and silently returns a huge
// uint64 via wraparound, so negative input must be rejected up front.
func hasNegativeSign(value string) bool {
	trimmed := strings.TrimLeft(value, " ")
	return strings.HasPrefix(trimmed, "-")
}

func (p *Size) ID() string               { return IDSize }
func (p *Size) AffectionType() AffectionType { return Target }
func (p *Size) Enabled() bool            { return p.enabled }

func (p *Size) Affects(tags []models.Tag) []models.Tag {
	if !p.enabled {
		return nil
	}
	var affected []models.Tag
	for _, tag := range tags {
		if tag.Size >= p.threshold {
			affected = append(affected, tag)
		}
	}
	return affected
}
