// Package rule implements the two-phase Target/Requirement composition
// algorithm that turns a set of policies into the concrete set of
// repositories or tags a Rule affects.
package rule

import (
	"go.uber.org/zap"

	"registrywarden/internal/models"
	"registrywarden/internal/policy"
)

// Rule bundles the repository- and tag-scoped policies that apply to one
// named reconciliation unit, plus the cron schedule it runs on.
type Rule struct {
	Name               string
	RepositoryPolicies map[string]policy.Repository
	TagPolicies        map[string]policy.Tag
	Schedule           string

	log *zap.Logger
}

// New returns an empty rule with the given name. Callers populate
// RepositoryPolicies/TagPolicies/Schedule directly (mirroring how the
// label parser and config overlay build up a Rule field by field).
func New(name string, log *zap.Logger) *Rule {
	return &Rule{
		Name:               name,
		RepositoryPolicies: make(map[string]policy.Repository),
		TagPolicies:        make(map[string]policy.Tag),
		log:                log,
	}
}

// Empty reports whether the rule carries no policies at all. Rules in
// this state are dropped by the caller rather than scheduled.
func (r *Rule) Empty() bool {
	return len(r.RepositoryPolicies) == 0 && len(r.TagPolicies) == 0
}

// AffectedRepositories computes the set of repositories this rule
// affects, following the two-phase algorithm: union every enabled
// Target's affects(all), falling back to "all" when only Requirements
// are present, then subtract each Requirement's failing subset.
func (r *Rule) AffectedRepositories(candidates []models.Repository) []models.Repository {
	var targets, requirements []policy.Repository
	for _, p := range r.RepositoryPolicies {
		if !p.Enabled() {
			continue
		}
		if p.AffectionType() == policy.Requirement {
			requirements = append(requirements, p)
			continue
		}
		targets = append(targets, p)
	}

	var affected []models.Repository
	if len(targets) == 0 && len(requirements) > 0 {
		affected = append(affected, candidates...)
	} else {
		seen := make(map[string]bool)
		for _, t := range targets {
			for _, repo := range t.Affects(candidates) {
				if seen[repo.Name] {
					continue
				}
				seen[repo.Name] = true
				affected = append(affected, repo)
			}
		}
	}

	for _, req := range requirements {
		excluded := req.Affects(affected)
		exclude := make(map[string]bool, len(excluded))
		for _, repo := range excluded {
			exclude[repo.Name] = true
		}
		affected = filterRepositories(affected, exclude)
	}

	if r.log != nil {
		r.log.Debug("rule affected repositories",
			zap.String("rule", r.Name),
			zap.Int("count", len(affected)))
	}
	return affected
}

// AffectedTags computes the set of tags this rule affects, using the
// same two-phase algorithm as AffectedRepositories.
func (r *Rule) AffectedTags(candidates []models.Tag) []models.Tag {
	var targets, requirements []policy.Tag
	for _, p := range r.TagPolicies {
		if !p.Enabled() {
			continue
		}
		if p.AffectionType() == policy.Requirement {
			requirements = append(requirements, p)
			continue
		}
		targets = append(targets, p)
	}

	var affected []models.Tag
	if len(targets) == 0 && len(requirements) > 0 {
		affected = append(affected, candidates...)
	} else {
		seen := make(map[string]bool)
		for _, t := range targets {
			for _, tag := range t.Affects(candidates) {
				key := tag.Repository + "@" + tag.Digest + ":" + tag.Name
				if seen[key] {
					continue
				}
				seen[key] = true
				affected = append(affected, tag)
			}
		}
	}

	for _, req := range requirements {
		excluded := req.Affects(affected)
		exclude := make(map[string]bool, len(excluded))
		for _, tag := range excluded {
			exclude[tag.Repository+"@"+tag.Digest+":"+tag.Name] = true
		}
		affected = filterTags(affected, exclude)
	}

	if r.log != nil {
		r.log.Debug("rule affected tags",
			zap.String("rule", r.Name),
			zap.Int("count", len(affected)))
	}
	return affected
}

func filterRepositories(repos []models.Repository, exclude map[string]bool) []models.Repository {
	if len(exclude) == 0 {
		return repos
	}
	var kept []models.Repository
	for _, repo := range repos {
		if exclude[repo.Name] {
			continue
		}
		kept = append(kept, repo)
	}
	return kept
}

func filterTags(tags []models.Tag, exclude map[string]bool) []models.Tag {
	if len(exclude) == 0 {
		return tags
	}
	var kept []models.Tag
	for _, tag := range tags {
		if exclude[tag.Repository+"@"+tag.Digest+":"+tag.Name] {
			continue
		}
		kept = append(kept, tag)
	}
	return kept
}
