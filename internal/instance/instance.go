// Package instance builds Instances (one per discovered registry
// container) from container descriptors and label maps, and drives
// rule application against the registry's HTTP endpoint plus the
// container's GC exec.
package instance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"registrywarden/internal/audit"
	"registrywarden/internal/labels"
	"registrywarden/internal/metrics"
	"registrywarden/internal/models"
	"registrywarden/internal/policy"
	"registrywarden/internal/registryclient"
	"registrywarden/internal/rule"
	"registrywarden/internal/runtime"
)

// ErrNoNetwork is returned when a container has no attached networks at
// all; construction can't proceed without at least one to reach the
// registry on.
var ErrNoNetwork = errors.New("container has no attached network")

// DefaultSchedule is the global fallback cron expression: daily at
// midnight, expressed in the 7-field sec/min/hour/dom/month/dow/year
// grammar.
const DefaultSchedule = "0 0 0 * * * *"

const (
	defaultPort = 5000

	gcUser = "root"
)

var gcCommand = []string{"/bin/registry", "garbage-collect", "--delete-untagged", "/etc/docker/registry/config.yml"}

// Instance is one discovered, labeled registry container: its reachable
// endpoint, its default and named rules, and the runtime handle used to
// invoke its garbage collector.
type Instance struct {
	ID       string
	Name     string
	Endpoint models.DistributionEndpoint
	Port     uint16

	DefaultRule *rule.Rule
	Rules       map[string]*rule.Rule

	// AlwaysRunGC controls whether the GC exec runs even when a cron tick
	// deleted zero tags. Set from the instance's config overlay only —
	// there is no container-label equivalent.
	AlwaysRunGC bool

	runtimeClient runtime.Client
	auditDB       *audit.DB
	log           *zap.Logger
}

// SetAuditDB attaches the durable audit store written to after every
// ApplyRules call. Nil is valid and simply disables audit recording.
func (i *Instance) SetAuditDB(db *audit.DB) {
	i.auditDB = db
}

// New constructs an Instance from a container descriptor: its id, display
// name, merged label map (container labels plus any config overlay), and
// the network-endpoint map from `inspect`.
func New(id, name string, labelMap map[string]string, networks map[string]runtime.NetworkEndpoint, rtClient runtime.Client, alwaysRunGC bool, log *zap.Logger) (*Instance, error) {
	if len(networks) == 0 {
		return nil, ErrNoNetwork
	}

	defaultRule, rules := parseRules(id, labelMap, log)

	var networkName string
	if custom, ok := labelMap[labels.NetworkLabel]; ok {
		if _, exists := networks[custom]; exists {
			networkName = custom
		} else if log != nil {
			log.Warn("named network doesn't exist on container, using default instead",
				zap.String("instance", name), zap.String("network", custom))
		}
	}

	var endpoint runtime.NetworkEndpoint
	if networkName != "" {
		endpoint = networks[networkName]
	} else {
		endpoint = anyEndpoint(networks)
	}

	address := endpoint.IPAddress
	if address == "" {
		address = "127.0.0.1"
	}

	port := uint16(defaultPort)
	if custom, ok := labelMap[labels.PortLabel]; ok {
		if parsed, err := strconv.ParseUint(custom, 10, 16); err == nil {
			port = uint16(parsed)
		} else if log != nil {
			log.Warn("invalid custom port, using default instead",
				zap.String("instance", name), zap.String("value", custom), zap.Uint16("default", defaultPort))
		}
	}

	displayName := strings.TrimPrefix(name, "/")

	inst := &Instance{
		ID:   id,
		Name: displayName,
		Endpoint: models.DistributionEndpoint{
			Host:     fmt.Sprintf("%s:%d", address, port),
			Username: labelMap[labels.UsernameLabel],
			Password: labelMap[labels.PasswordLabel],
			Insecure: true,
		},
		Port:          port,
		DefaultRule:   defaultRule,
		Rules:         rules,
		AlwaysRunGC:   alwaysRunGC,
		runtimeClient: rtClient,
		log:           log,
	}
	inst.applyDefaults()

	if log != nil {
		log.Debug("constructed instance", zap.String("instance", displayName), zap.String("address", inst.Endpoint.Host), zap.Int("rules", len(rules)))
	}
	return inst, nil
}

// anyEndpoint picks a deterministic-enough (but unordered across runs)
// entry from the network map; callers must not depend on which one.
func anyEndpoint(networks map[string]runtime.NetworkEndpoint) runtime.NetworkEndpoint {
	for _, endpoint := range networks {
		return endpoint
	}
	return runtime.NetworkEndpoint{}
}

// applyDefaults copies every default-rule policy slot into each named
// rule missing that slot, and inherits the default schedule when a named
// rule's own schedule is empty.
func (i *Instance) applyDefaults() {
	for _, r := range i.Rules {
		for id, p := range i.DefaultRule.TagPolicies {
			if _, ok := r.TagPolicies[id]; !ok {
				r.TagPolicies[id] = p
			}
		}
		for id, p := range i.DefaultRule.RepositoryPolicies {
			if _, ok := r.RepositoryPolicies[id]; !ok {
				r.RepositoryPolicies[id] = p
			}
		}
		if r.Schedule == "" {
			r.Schedule = i.DefaultRule.Schedule
		}
	}
}

// parseRules partitions labelMap into the default rule and any named
// rules, materializing the default rule's policy slots with the
// zero-configured instance of every policy variant so there's always
// something to inherit from.
func parseRules(id string, labelMap map[string]string, log *zap.Logger) (*rule.Rule, map[string]*rule.Rule) {
	defaultEntries, ruleEntries := labels.Parse(labelMap)

	defaultRule := rule.New(id, log)
	defaultRule.RepositoryPolicies[policy.IDImagePattern] = policy.NewImagePatternDefault()
	defaultRule.TagPolicies[policy.IDTagPattern] = policy.NewTagPatternDefault()
	defaultRule.TagPolicies[policy.IDAgeMax] = policy.NewAgeMax("", log)
	defaultRule.TagPolicies[policy.IDAgeMin] = policy.NewAgeMin("", log)
	defaultRule.TagPolicies[policy.IDRevisions] = policy.NewRevisionDefault()
	defaultRule.TagPolicies[policy.IDSize] = policy.NewSize("", log)

	applyEntries(defaultRule, defaultEntries, log)
	if defaultRule.Schedule == "" {
		defaultRule.Schedule = DefaultSchedule
	}

	rules := make(map[string]*rule.Rule, len(ruleEntries))
	for name, entries := range ruleEntries {
		r := rule.New(name, log)
		applyEntries(r, entries, log)
		if r.Empty() {
			if log != nil {
				log.Info("rule has no policies, ignoring it", zap.String("rule", name))
			}
			continue
		}
		rules[name] = r
	}
	return defaultRule, rules
}

// applyEntries parses each label.Entry and inserts the resulting policy
// (or schedule) into r. Unknown policy ids are warned and ignored; a
// malformed value disables the individual policy, not the whole rule.
func applyEntries(r *rule.Rule, entries []labels.Entry, log *zap.Logger) {
	for _, entry := range entries {
		switch entry.Key {
		case labels.ScheduleKey:
			r.Schedule = entry.Value
		case policy.IDAgeMax:
			r.TagPolicies[policy.IDAgeMax] = policy.NewAgeMax(entry.Value, log)
		case policy.IDAgeMin:
			r.TagPolicies[policy.IDAgeMin] = policy.NewAgeMin(entry.Value, log)
		case policy.IDRevisions:
			r.TagPolicies[policy.IDRevisions] = policy.NewRevision(entry.Value, log)
		case policy.IDTagPattern:
			r.TagPolicies[policy.IDTagPattern] = policy.NewTagPattern(entry.Value, log)
		case policy.IDImagePattern:
			r.RepositoryPolicies[policy.IDImagePattern] = policy.NewImagePattern(entry.Value, log)
		case policy.IDSize:
			r.TagPolicies[policy.IDSize] = policy.NewSize(entry.Value, log)
		default:
			if log != nil {
				log.Warn("unknown policy, ignoring it", zap.String("rule", r.Name), zap.String("policy", entry.Key))
			}
		}
	}
}

// GetBundledRules groups rule names by their cron schedule so the caller
// registers exactly one job per distinct schedule.
func (i *Instance) GetBundledRules() map[string][]string {
	bundles := make(map[string][]string)
	for _, r := range i.Rules {
		bundles[r.Schedule] = append(bundles[r.Schedule], r.Name)
	}
	return bundles
}

// ApplyRules enumerates the registry's repositories, restricts to the
// named rules, and for each rule computes and deletes its affected tags,
// then invokes the registry's GC. GC is skipped when no tag was deleted
// and AlwaysRunGC is false; a registry with no repositories returns
// before any rule or GC runs. Repositories' tags-with-data are
// fetched at most once per invocation, cached by repository name across
// the rules being applied.
func (i *Instance) ApplyRules(ctx context.Context, names []string) error {
	client := registryclient.New(i.Endpoint)

	repositories, err := client.ListRepositories()
	if err != nil {
		metrics.RuleApplications.WithLabelValues(i.Name, "error").Inc()
		return fmt.Errorf("listing repositories for %q: %w", i.Name, err)
	}
	if len(repositories) == 0 {
		if i.log != nil {
			i.log.Info("registry has no repositories, skipping it", zap.String("instance", i.Name))
		}
		return nil
	}

	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}

	tagCache := make(map[string][]models.Tag)
	affectedRepositories := make(map[string]bool)
	deletedTags := 0

	for _, r := range i.Rules {
		if !wanted[r.Name] {
			continue
		}

		matched := r.AffectedRepositories(repositories)
		for _, repo := range matched {
			affectedRepositories[repo.Name] = true

			tags, ok := tagCache[repo.Name]
			if !ok {
				tags, err = client.GetTagsWithData(repo.Name)
				if err != nil {
					if i.log != nil {
						i.log.Warn("failed to fetch tags, skipping repository",
							zap.String("instance", i.Name), zap.String("repository", repo.Name), zap.Error(err))
					}
					continue
				}
				tagCache[repo.Name] = tags
			}

			affectedTags := r.AffectedTags(tags)
			if len(affectedTags) == 0 {
				continue
			}

			remaining := make([]models.Tag, 0, len(tags))
			deleted := make(map[string]bool, len(affectedTags))
			for _, tag := range affectedTags {
				deleted[tag.Digest] = true
				if i.log != nil {
					i.log.Info("deleting tag",
						zap.String("instance", i.Name), zap.String("repository", repo.Name), zap.String("tag", tag.Name))
				}
				if err := client.DeleteManifest(repo.Name, tag.Digest); err != nil {
					if i.log != nil {
						i.log.Warn("failed to delete tag",
							zap.String("instance", i.Name), zap.String("repository", repo.Name), zap.String("tag", tag.Name), zap.Error(err))
					}
					i.recordAudit(repo.Name, tag, r.Name, audit.ActionError, err.Error())
					continue
				}
				deletedTags++
				metrics.TagsDeleted.WithLabelValues(i.Name, r.Name).Inc()
				metrics.BytesReclaimed.WithLabelValues(i.Name).Add(float64(tag.Size))
				i.recordAudit(repo.Name, tag, r.Name, audit.ActionDeleted, "")
			}
			for _, tag := range tags {
				if !deleted[tag.Digest] {
					remaining = append(remaining, tag)
				}
			}
			tagCache[repo.Name] = remaining
		}
	}

	if deletedTags == 0 {
		if i.log != nil {
			i.log.Info("left all repositories unmodified", zap.String("instance", i.Name))
		}
		metrics.RuleApplications.WithLabelValues(i.Name, "success").Inc()
	} else {
		if i.log != nil {
			i.log.Info("deleted tags",
				zap.String("instance", i.Name), zap.Int("tags", deletedTags), zap.Int("repositories", len(affectedRepositories)))
		}
		metrics.RuleApplications.WithLabelValues(i.Name, "success").Inc()
	}

	if deletedTags == 0 && !i.AlwaysRunGC {
		return nil
	}
	i.runGC(ctx)
	return nil
}

// recordAudit persists one tag-level decision (delete succeeded or
// failed) to the audit store. Write failures are logged at warn and
// never propagate: the audit trail is a best-effort record, not a gate
// on the deletion itself.
func (i *Instance) recordAudit(repository string, tag models.Tag, ruleName, action, reason string) {
	if i.auditDB == nil {
		return
	}
	rec := audit.Record{
		Instance:   i.Name,
		Repository: repository,
		Tag:        tag.Name,
		Digest:     tag.Digest,
		SizeBytes:  tag.Size,
		Rule:       ruleName,
		Action:     action,
		Reason:     reason,
	}
	if _, err := i.auditDB.RecordDecision(rec); err != nil {
		if i.log != nil {
			i.log.Warn("failed to record audit entry",
				zap.String("instance", i.Name), zap.String("repository", repository), zap.String("tag", tag.Name), zap.Error(err))
		}
	}
}

// recordGCAudit persists the outcome of one GC invocation to the audit
// store. Repository/Tag/Digest are left empty since this row describes
// the instance-wide GC call, not a single tag.
func (i *Instance) recordGCAudit(action, reason string) {
	if i.auditDB == nil {
		return
	}
	rec := audit.Record{
		Instance: i.Name,
		Action:   action,
		Reason:   reason,
	}
	if _, err := i.auditDB.RecordDecision(rec); err != nil {
		if i.log != nil {
			i.log.Warn("failed to record GC audit entry", zap.String("instance", i.Name), zap.Error(err))
		}
	}
}

// runGC invokes the registry's garbage collector inside the container.
// It is best-effort: failure is logged but never fails ApplyRules.
func (i *Instance) runGC(ctx context.Context) {
	if err := i.runtimeClient.Exec(ctx, i.ID, gcCommand, gcUser); err != nil {
		if i.log != nil {
			i.log.Error("garbage collector invocation failed", zap.String("instance", i.Name), zap.Error(err))
		}
		metrics.GCInvocations.WithLabelValues(i.Name, "error").Inc()
		i.recordGCAudit(audit.ActionError, err.Error())
		return
	}
	if i.log != nil {
		i.log.Info("garbage collector ran successfully", zap.String("instance", i.Name))
	}
	metrics.GCInvocations.WithLabelValues(i.Name, "success").Inc()
	i.recordGCAudit(audit.ActionDeleted, "")
}
