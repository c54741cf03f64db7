package policy

import (
	"sort"
	"strconv"

	"go.uber.org/zap"

	"registrywarden/internal/models"
)

// DefaultRevisions is used when the policy is present but unconfigured.
const DefaultRevisions = 15

// Revision keeps the N newest tags (by creation time) and targets the
// rest for deletion.
type Revision struct {
	revisions int
	enabled   bool
}

// NewRevision parses a positive-integer value. Zero, negative or
// unparsable values disable the policy.
func NewRevision(value string, log *zap.Logger) *Revision {
	if value == "" {
		return &Revision{revisions: DefaultRevisions, enabled: true}
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		if log != nil {
			log.Warn("invalid revisions value, disabling policy", zap.String("value", value))
		}
		return &Revision{}
	}
	return &Revision{revisions: n, enabled: true}
}

// NewRevisionDefault builds the enabled default-slot instance used when
// materializing a fresh default Rule.
func NewRevisionDefault() *Revision {
	return &Revision{revisions: DefaultRevisions, enabled: true}
}

func (p *Revision) ID() string               { return IDRevisions }
func (p *Revision) AffectionType() AffectionType { return Target }
func (p *Revision) Enabled() bool            { return p.enabled }

// Affects sorts tags oldest-first by creation time and, if there are more
// than `revisions` of them, returns the oldest len(tags)-revisions — the
// ones that should be deleted to keep only the newest `revisions`. Ties in
// Created are broken by sort.SliceStable's input order, which callers must
// not depend on.
func (p *Revision) Affects(tags []models.Tag) []models.Tag {
	if !p.enabled {
		return nil
	}
	sorted := make([]models.Tag, len(tags))
	copy(sorted, tags)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Created.Before(sorted[j].Created)
	})
	if len(sorted) <= p.revisions {
		return nil
	}
	return sorted[:len(sorted)-p.revisions]
}
