package instance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"registrywarden/internal/audit"
	"registrywarden/internal/labels"
	"registrywarden/internal/models"
	"registrywarden/internal/runtime"
)

type fakeRuntime struct {
	execCalls   int
	execErr     error
	lastCommand []string
	lastUser    string
}

func (f *fakeRuntime) Ping(ctx context.Context) error { return nil }
func (f *fakeRuntime) ListContainers(ctx context.Context, labelFilter map[string]string) ([]runtime.ContainerSummary, error) {
	return nil, nil
}
func (f *fakeRuntime) InspectContainer(ctx context.Context, id string) (runtime.ContainerDetails, error) {
	return runtime.ContainerDetails{}, nil
}
func (f *fakeRuntime) Events(ctx context.Context, labelFilter map[string]string) (<-chan runtime.Event, <-chan error) {
	return nil, nil
}
func (f *fakeRuntime) Exec(ctx context.Context, containerID string, cmd []string, user string) error {
	f.execCalls++
	f.lastCommand = cmd
	f.lastUser = user
	return f.execErr
}

func networks() map[string]runtime.NetworkEndpoint {
	return map[string]runtime.NetworkEndpoint{
		"bridge": {IPAddress: "172.17.0.2"},
	}
}

func TestNew_RejectsEmptyNetworks(t *testing.T) {
	_, err := New("abc123", "myregistry", map[string]string{}, map[string]runtime.NetworkEndpoint{}, &fakeRuntime{}, false, nil)
	assert.ErrorIs(t, err, ErrNoNetwork)
}

func TestNew_UsesDefaultPortAndAddress(t *testing.T) {
	inst, err := New("abc123", "/myregistry", map[string]string{}, networks(), &fakeRuntime{}, false, nil)
	require.NoError(t, err)

	assert.Equal(t, "myregistry", inst.Name)
	assert.Equal(t, "172.17.0.2:5000", inst.Endpoint.Host)
}

func TestNew_CustomPortLabel(t *testing.T) {
	labelMap := map[string]string{labels.PortLabel: "5001"}
	inst, err := New("abc123", "myregistry", labelMap, networks(), &fakeRuntime{}, false, nil)
	require.NoError(t, err)

	assert.Equal(t, "172.17.0.2:5001", inst.Endpoint.Host)
}

func TestNew_InvalidPortFallsBackToDefault(t *testing.T) {
	labelMap := map[string]string{labels.PortLabel: "not-a-number"}
	inst, err := New("abc123", "myregistry", labelMap, networks(), &fakeRuntime{}, false, nil)
	require.NoError(t, err)

	assert.Equal(t, "172.17.0.2:5000", inst.Endpoint.Host)
}

func TestNew_UnknownNamedNetworkFallsBackToAny(t *testing.T) {
	labelMap := map[string]string{labels.NetworkLabel: "nonexistent"}
	inst, err := New("abc123", "myregistry", labelMap, networks(), &fakeRuntime{}, false, nil)
	require.NoError(t, err)

	assert.Equal(t, "172.17.0.2:5000", inst.Endpoint.Host)
}

func TestNew_CredentialsFromLabels(t *testing.T) {
	labelMap := map[string]string{
		labels.UsernameLabel: "alice",
		labels.PasswordLabel: "secret",
	}
	inst, err := New("abc123", "myregistry", labelMap, networks(), &fakeRuntime{}, false, nil)
	require.NoError(t, err)

	assert.Equal(t, "alice", inst.Endpoint.Username)
	assert.Equal(t, "secret", inst.Endpoint.Password)
}

func TestNew_DefaultRuleMaterializesAllSlots(t *testing.T) {
	inst, err := New("abc123", "myregistry", map[string]string{}, networks(), &fakeRuntime{}, false, nil)
	require.NoError(t, err)

	require.NotNil(t, inst.DefaultRule)
	assert.True(t, inst.DefaultRule.RepositoryPolicies["image.pattern"].Enabled())
	assert.True(t, inst.DefaultRule.TagPolicies["tag.pattern"].Enabled())
	assert.True(t, inst.DefaultRule.TagPolicies["revisions"].Enabled())
	assert.False(t, inst.DefaultRule.TagPolicies["age.max"].Enabled())
	assert.False(t, inst.DefaultRule.TagPolicies["age.min"].Enabled())
	assert.False(t, inst.DefaultRule.TagPolicies["size"].Enabled())
	assert.Equal(t, DefaultSchedule, inst.DefaultRule.Schedule)
}

func TestNew_NamedRuleInheritsDefaultsForMissingSlots(t *testing.T) {
	labelMap := map[string]string{
		"registrywarden.default.age.max": "30d",
		"registrywarden.rule.nightly.revisions": "5",
	}
	inst, err := New("abc123", "myregistry", labelMap, networks(), &fakeRuntime{}, false, nil)
	require.NoError(t, err)

	r, ok := inst.Rules["nightly"]
	require.True(t, ok)

	// Explicit override wins.
	assert.True(t, r.TagPolicies["revisions"].Enabled())
	// Inherited from default since not set on the named rule.
	assert.True(t, r.TagPolicies["age.max"].Enabled())
	// Inherited default schedule since the named rule set none.
	assert.Equal(t, DefaultSchedule, r.Schedule)
}

func TestNew_NamedRuleOwnScheduleNotOverridden(t *testing.T) {
	labelMap := map[string]string{
		"registrywarden.rule.nightly.revisions": "5",
		"registrywarden.rule.nightly.schedule":  "0 0 3 * * * *",
	}
	inst, err := New("abc123", "myregistry", labelMap, networks(), &fakeRuntime{}, false, nil)
	require.NoError(t, err)

	r, ok := inst.Rules["nightly"]
	require.True(t, ok)
	assert.Equal(t, "0 0 3 * * * *", r.Schedule)
}

func TestGetBundledRules_GroupsByIdenticalSchedule(t *testing.T) {
	labelMap := map[string]string{
		"registrywarden.rule.a.revisions": "5",
		"registrywarden.rule.a.schedule":  "0 0 3 * * * *",
		"registrywarden.rule.b.revisions": "10",
		"registrywarden.rule.b.schedule":  "0 0 3 * * * *",
		"registrywarden.rule.c.revisions": "15",
		"registrywarden.rule.c.schedule":  "0 0 4 * * * *",
	}
	inst, err := New("abc123", "myregistry", labelMap, networks(), &fakeRuntime{}, false, nil)
	require.NoError(t, err)

	bundles := inst.GetBundledRules()
	assert.ElementsMatch(t, []string{"a", "b"}, bundles["0 0 3 * * * *"])
	assert.ElementsMatch(t, []string{"c"}, bundles["0 0 4 * * * *"])
}

func TestApplyRules_EmptyRegistrySkipsGC(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"repositories":[]}`))
	}))
	defer server.Close()

	rt := &fakeRuntime{}
	inst, err := New("abc123", "myregistry", map[string]string{}, networks(), rt, false, nil)
	require.NoError(t, err)
	inst.Endpoint.Host = server.Listener.Addr().String()
	inst.Endpoint.Insecure = true

	err = inst.ApplyRules(context.Background(), []string{"default"})
	require.NoError(t, err)
	assert.Equal(t, 0, rt.execCalls)
}

func TestApplyRules_AlwaysRunGCStillSkipsEmptyRegistry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"repositories":[]}`))
	}))
	defer server.Close()

	rt := &fakeRuntime{}
	inst, err := New("abc123", "myregistry", map[string]string{}, networks(), rt, true, nil)
	require.NoError(t, err)
	inst.Endpoint.Host = server.Listener.Addr().String()
	inst.Endpoint.Insecure = true

	// With zero repositories ApplyRules returns before reaching the GC
	// gate, so exec is still not invoked; the always-run-GC branch is
	// only reachable once a registry has repositories to enumerate.
	err = inst.ApplyRules(context.Background(), []string{"default"})
	require.NoError(t, err)
	assert.Equal(t, 0, rt.execCalls)
}

func openTestAuditDB(t *testing.T) *audit.DB {
	t.Helper()
	db, err := audit.Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordAudit_PersistsSuccessfulDeletion(t *testing.T) {
	inst, err := New("abc123", "myregistry", map[string]string{}, networks(), &fakeRuntime{}, false, nil)
	require.NoError(t, err)

	db := openTestAuditDB(t)
	inst.SetAuditDB(db)

	inst.recordAudit("myapp", models.Tag{Name: "v1.0.0", Digest: "sha256:abc", Size: 1024}, "nightly", audit.ActionDeleted, "")

	records, err := db.ListByInstance("myregistry")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, audit.ActionDeleted, records[0].Action)
	assert.Equal(t, "nightly", records[0].Rule)
	assert.Empty(t, records[0].Reason)
}

func TestRecordAudit_PersistsFailedDeletionWithReason(t *testing.T) {
	inst, err := New("abc123", "myregistry", map[string]string{}, networks(), &fakeRuntime{}, false, nil)
	require.NoError(t, err)

	db := openTestAuditDB(t)
	inst.SetAuditDB(db)

	inst.recordAudit("myapp", models.Tag{Name: "v1.0.0", Digest: "sha256:abc"}, "nightly", audit.ActionError, "registry returned 500")

	records, err := db.ListByInstance("myregistry")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, audit.ActionError, records[0].Action)
	assert.Equal(t, "registry returned 500", records[0].Reason)
}

func TestRecordGCAudit_PersistsGCOutcome(t *testing.T) {
	inst, err := New("abc123", "myregistry", map[string]string{}, networks(), &fakeRuntime{}, false, nil)
	require.NoError(t, err)

	db := openTestAuditDB(t)
	inst.SetAuditDB(db)

	inst.recordGCAudit(audit.ActionError, "exec failed")

	records, err := db.ListByInstance("myregistry")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, audit.ActionError, records[0].Action)
	assert.Equal(t, "exec failed", records[0].Reason)
	assert.Empty(t, records[0].Repository)
	assert.Empty(t, records[0].Tag)
}

func TestRecordAudit_NoopWithoutAuditDB(t *testing.T) {
	inst, err := New("abc123", "myregistry", map[string]string{}, networks(), &fakeRuntime{}, false, nil)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		inst.recordAudit("myapp", models.Tag{Name: "v1.0.0"}, "nightly", audit.ActionDeleted, "")
		inst.recordGCAudit(audit.ActionDeleted, "")
	})
}
