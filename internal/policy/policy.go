// Package policy implements the predicate-with-classification primitives
// the rule engine composes (age, revision count, name pattern, size).
package policy

import "registrywarden/internal/models"

// AffectionType classifies how a policy's affected set participates in
// rule composition. Target policies name candidates for deletion;
// Requirement policies name elements that must be preserved.
type AffectionType int

const (
	// Target affections are unioned to build the initial candidate set.
	Target AffectionType = iota
	// Requirement affections are subtracted from the candidate set after
	// every Target has been unioned in.
	Requirement
)

func (a AffectionType) String() string {
	if a == Requirement {
		return "requirement"
	}
	return "target"
}

// Repository is the predicate-with-classification interface over
// repositories (image name pattern matching).
type Repository interface {
	// ID is the stable string key used inside a Rule's policy map and in
	// container-label / config-file keys.
	ID() string
	AffectionType() AffectionType
	Enabled() bool
	// Affects returns the subset of elements this policy names. For a
	// Requirement policy this is the subset that FAILS the requirement
	// and must therefore be removed from the candidate set.
	Affects(elements []models.Repository) []models.Repository
}

// Tag is the predicate-with-classification interface over tags (age,
// revision count, name pattern, size).
type Tag interface {
	ID() string
	AffectionType() AffectionType
	Enabled() bool
	Affects(elements []models.Tag) []models.Tag
}

// Policy ids, used as map keys inside a Rule and as the suffix of the
// label / config keys the label parser recognizes.
const (
	IDAgeMax       = "age.max"
	IDAgeMin       = "age.min"
	IDRevisions    = "revisions"
	IDImagePattern = "image.pattern"
	IDTagPattern   = "tag.pattern"
	IDSize         = "size"
)
