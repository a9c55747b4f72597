package service

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/phlag/phlagd/internal/repository"
	"github.com/phlag/phlagd/internal/webhook"
)

type fakeRepository struct {
	mu     sync.Mutex
	flags  map[string]repository.Flag
	envs   map[string]repository.Environment
	values map[string]repository.EnvironmentValue
	hooks  map[string]repository.Webhook
	audits []repository.AuditLogEntry
	nextID int

	failWith error
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		flags:  make(map[string]repository.Flag),
		envs:   make(map[string]repository.Environment),
		values: make(map[string]repository.EnvironmentValue),
		hooks:  make(map[string]repository.Webhook),
	}
}

func (r *fakeRepository) id() string {
	r.nextID++
	return "id-" + strconv.Itoa(r.nextID)
}

func (r *fakeRepository) CreateFlag(_ context.Context, flag repository.Flag) (repository.Flag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return repository.Flag{}, r.failWith
	}

	flag.ID = r.id()
	r.flags[flag.Name] = flag
	return flag, nil
}

func (r *fakeRepository) UpdateFlag(_ context.Context, flag repository.Flag) (repository.Flag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.flags[flag.Name]
	if !ok {
		return repository.Flag{}, pgx.ErrNoRows
	}

	existing.Description = flag.Description
	r.flags[flag.Name] = existing
	return existing, nil
}

func (r *fakeRepository) GetFlag(_ context.Context, name string) (repository.Flag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	flag, ok := r.flags[name]
	if !ok {
		return repository.Flag{}, pgx.ErrNoRows
	}
	return flag, nil
}

func (r *fakeRepository) ListFlags(_ context.Context) ([]repository.Flag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}

	flags := make([]repository.Flag, 0, len(r.flags))
	for _, flag := range r.flags {
		flags = append(flags, flag)
	}
	sort.Slice(flags, func(i, j int) bool { return flags[i].Name < flags[j].Name })
	return flags, nil
}

func (r *fakeRepository) DeleteFlag(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	flag, ok := r.flags[name]
	if !ok {
		return pgx.ErrNoRows
	}
	delete(r.flags, name)
	for key, value := range r.values {
		if value.FlagID == flag.ID {
			delete(r.values, key)
		}
	}
	return nil
}

func (r *fakeRepository) CreateEnvironment(_ context.Context, env repository.Environment) (repository.Environment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	env.ID = r.id()
	r.envs[env.ID] = env
	return env, nil
}

func (r *fakeRepository) UpdateEnvironment(_ context.Context, env repository.Environment) (repository.Environment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.envs[env.ID]; !ok {
		return repository.Environment{}, pgx.ErrNoRows
	}
	r.envs[env.ID] = env
	return env, nil
}

func (r *fakeRepository) GetEnvironment(_ context.Context, id string) (repository.Environment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	env, ok := r.envs[id]
	if !ok {
		return repository.Environment{}, pgx.ErrNoRows
	}
	return env, nil
}

func (r *fakeRepository) GetEnvironmentByName(_ context.Context, name string) (repository.Environment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, env := range r.envs {
		if env.Name == name {
			return env, nil
		}
	}
	return repository.Environment{}, pgx.ErrNoRows
}

func (r *fakeRepository) ListEnvironments(_ context.Context) ([]repository.Environment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	envs := make([]repository.Environment, 0, len(r.envs))
	for _, env := range r.envs {
		envs = append(envs, env)
	}
	sort.Slice(envs, func(i, j int) bool { return envs[i].Name < envs[j].Name })
	return envs, nil
}

func (r *fakeRepository) DeleteEnvironment(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.envs[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(r.envs, id)
	return nil
}

func valueKey(flagID, environmentID string) string {
	return flagID + "|" + environmentID
}

func (r *fakeRepository) UpsertEnvironmentValue(_ context.Context, value repository.EnvironmentValue) (repository.EnvironmentValue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := valueKey(value.FlagID, value.EnvironmentID)
	if existing, ok := r.values[key]; ok {
		value.ID = existing.ID
	} else {
		value.ID = r.id()
	}
	r.values[key] = value
	return value, nil
}

func (r *fakeRepository) GetEnvironmentValue(_ context.Context, flagID, environmentID string) (repository.EnvironmentValue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	value, ok := r.values[valueKey(flagID, environmentID)]
	if !ok {
		return repository.EnvironmentValue{}, pgx.ErrNoRows
	}
	return value, nil
}

func (r *fakeRepository) ListEnvironmentValuesForFlag(_ context.Context, flagID string) ([]repository.EnvironmentValue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var values []repository.EnvironmentValue
	for _, value := range r.values {
		if value.FlagID == flagID {
			values = append(values, value)
		}
	}
	return values, nil
}

func (r *fakeRepository) ListEnvironmentValuesForEnvironment(_ context.Context, environmentID string) ([]repository.EnvironmentValue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var values []repository.EnvironmentValue
	for _, value := range r.values {
		if value.EnvironmentID == environmentID {
			values = append(values, value)
		}
	}
	return values, nil
}

func (r *fakeRepository) DeleteEnvironmentValue(_ context.Context, flagID, environmentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := valueKey(flagID, environmentID)
	if _, ok := r.values[key]; !ok {
		return pgx.ErrNoRows
	}
	delete(r.values, key)
	return nil
}

func (r *fakeRepository) CreateWebhook(_ context.Context, hook repository.Webhook) (repository.Webhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hook.ID = r.id()
	r.hooks[hook.ID] = hook
	return hook, nil
}

func (r *fakeRepository) UpdateWebhook(_ context.Context, hook repository.Webhook) (repository.Webhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.hooks[hook.ID]; !ok {
		return repository.Webhook{}, pgx.ErrNoRows
	}
	r.hooks[hook.ID] = hook
	return hook, nil
}

func (r *fakeRepository) GetWebhook(_ context.Context, id string) (repository.Webhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hook, ok := r.hooks[id]
	if !ok {
		return repository.Webhook{}, pgx.ErrNoRows
	}
	return hook, nil
}

func (r *fakeRepository) ListWebhooks(_ context.Context) ([]repository.Webhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hooks := make([]repository.Webhook, 0, len(r.hooks))
	for _, hook := range r.hooks {
		hooks = append(hooks, hook)
	}
	return hooks, nil
}

func (r *fakeRepository) DeleteWebhook(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.hooks[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(r.hooks, id)
	return nil
}

func (r *fakeRepository) InsertAuditLog(_ context.Context, entry repository.AuditLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.audits = append(r.audits, entry)
	return nil
}

func (r *fakeRepository) auditEntries() []repository.AuditLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]repository.AuditLogEntry(nil), r.audits...)
}

type notifierCall struct {
	method    string
	eventType string
	flag      repository.Flag
	previous  *webhook.FlagSnapshot
	snapshot  webhook.FlagSnapshot
	value     repository.EnvironmentValue
}

// fakeNotifier records dispatch calls and signals each one on notified so
// tests can wait for the detached dispatch goroutine.
type fakeNotifier struct {
	mu             sync.Mutex
	calls          []notifierCall
	notified       chan struct{}
	snapshotResult webhook.FlagSnapshot
	snapshotErr    error
	testResult     webhook.TestResult
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{notified: make(chan struct{}, 16)}
}

func (n *fakeNotifier) record(call notifierCall) {
	n.mu.Lock()
	n.calls = append(n.calls, call)
	n.mu.Unlock()
	n.notified <- struct{}{}
}

func (n *fakeNotifier) Dispatch(_ context.Context, eventType string, flag repository.Flag, previous *webhook.FlagSnapshot) {
	n.record(notifierCall{method: "dispatch", eventType: eventType, flag: flag, previous: previous})
}

func (n *fakeNotifier) DispatchDeleted(_ context.Context, snapshot webhook.FlagSnapshot) {
	n.record(notifierCall{method: "deleted", eventType: webhook.EventDeleted, snapshot: snapshot})
}

func (n *fakeNotifier) DispatchEnvironmentChange(_ context.Context, eventType string, value repository.EnvironmentValue) {
	n.record(notifierCall{method: "environment", eventType: eventType, value: value})
}

func (n *fakeNotifier) DispatchTest(_ context.Context, _ repository.Webhook, _ repository.Flag) webhook.TestResult {
	return n.testResult
}

func (n *fakeNotifier) Snapshot(_ context.Context, flag repository.Flag) (webhook.FlagSnapshot, error) {
	if n.snapshotErr != nil {
		return webhook.FlagSnapshot{}, n.snapshotErr
	}
	result := n.snapshotResult
	if result.Name == "" {
		result = webhook.FlagSnapshot{Name: flag.Name, Type: flag.Type, Description: flag.Description}
	}
	return result, nil
}

func (n *fakeNotifier) waitForCall(t *testing.T) notifierCall {
	t.Helper()

	select {
	case <-n.notified:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[len(n.calls)-1]
}

func newTestService(t *testing.T, repo *fakeRepository, notifier *fakeNotifier) *Service {
	t.Helper()

	opts := []Option{}
	if notifier != nil {
		opts = append(opts, WithNotifier(notifier))
	}
	svc, err := New(repo, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return svc
}

func TestCreateFlagValidation(t *testing.T) {
	tests := []struct {
		name    string
		flag    repository.Flag
		wantErr error
	}{
		{"empty name", repository.Flag{Name: "", Type: "SWITCH"}, ErrInvalidFlagName},
		{"name with spaces", repository.Flag{Name: "new checkout", Type: "SWITCH"}, ErrInvalidFlagName},
		{"name with slash", repository.Flag{Name: "a/b", Type: "SWITCH"}, ErrInvalidFlagName},
		{"unknown type", repository.Flag{Name: "ok", Type: "BOOLEAN"}, ErrInvalidFlagType},
		{"lowercase type", repository.Flag{Name: "ok", Type: "switch"}, ErrInvalidFlagType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, newFakeRepository(), nil)

			_, err := svc.CreateFlag(context.Background(), tt.flag)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("CreateFlag() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreateFlagDispatchesCreatedEvent(t *testing.T) {
	repo := newFakeRepository()
	notifier := newFakeNotifier()
	svc := newTestService(t, repo, notifier)

	created, err := svc.CreateFlag(context.Background(), repository.Flag{Name: "new-checkout", Type: "SWITCH"})
	if err != nil {
		t.Fatalf("CreateFlag() error = %v", err)
	}
	if created.ID == "" {
		t.Fatal("created flag has no ID")
	}

	call := notifier.waitForCall(t)
	if call.eventType != webhook.EventCreated {
		t.Fatalf("event type = %q, want created", call.eventType)
	}
	if call.previous != nil {
		t.Fatalf("previous = %#v, want nil for created events", call.previous)
	}
}

func TestUpdateFlagKeepsNameAndType(t *testing.T) {
	repo := newFakeRepository()
	notifier := newFakeNotifier()
	svc := newTestService(t, repo, notifier)

	if _, err := svc.CreateFlag(context.Background(), repository.Flag{Name: "beta", Type: "STRING", Description: "old"}); err != nil {
		t.Fatalf("CreateFlag() error = %v", err)
	}
	notifier.waitForCall(t)

	updated, err := svc.UpdateFlag(context.Background(), "beta", "new description")
	if err != nil {
		t.Fatalf("UpdateFlag() error = %v", err)
	}
	if updated.Description != "new description" {
		t.Fatalf("description = %q", updated.Description)
	}
	if updated.Type != "STRING" {
		t.Fatalf("type changed to %q", updated.Type)
	}

	call := notifier.waitForCall(t)
	if call.eventType != webhook.EventUpdated {
		t.Fatalf("event type = %q, want updated", call.eventType)
	}
	if call.previous == nil || call.previous.Description != "old" {
		t.Fatalf("previous snapshot = %#v, want pre-mutation description", call.previous)
	}
}

func TestUpdateFlagNotFound(t *testing.T) {
	svc := newTestService(t, newFakeRepository(), nil)

	if _, err := svc.UpdateFlag(context.Background(), "missing", "x"); !errors.Is(err, ErrFlagNotFound) {
		t.Fatalf("UpdateFlag() error = %v, want ErrFlagNotFound", err)
	}
}

func TestDeleteFlagDispatchesPreDeleteSnapshot(t *testing.T) {
	repo := newFakeRepository()
	notifier := newFakeNotifier()
	svc := newTestService(t, repo, notifier)

	if _, err := svc.CreateFlag(context.Background(), repository.Flag{Name: "old-banner", Type: "SWITCH"}); err != nil {
		t.Fatalf("CreateFlag() error = %v", err)
	}
	notifier.waitForCall(t)

	if err := svc.DeleteFlag(context.Background(), "old-banner"); err != nil {
		t.Fatalf("DeleteFlag() error = %v", err)
	}

	call := notifier.waitForCall(t)
	if call.method != "deleted" {
		t.Fatalf("method = %q, want deleted", call.method)
	}
	if call.snapshot.Name != "old-banner" {
		t.Fatalf("snapshot name = %q", call.snapshot.Name)
	}

	if _, err := svc.GetFlag(context.Background(), "old-banner"); !errors.Is(err, ErrFlagNotFound) {
		t.Fatalf("GetFlag() after delete error = %v, want ErrFlagNotFound", err)
	}
}

func TestUpsertEnvironmentValue(t *testing.T) {
	repo := newFakeRepository()
	notifier := newFakeNotifier()
	svc := newTestService(t, repo, notifier)

	if _, err := svc.CreateFlag(context.Background(), repository.Flag{Name: "rollout", Type: "INTEGER"}); err != nil {
		t.Fatalf("CreateFlag() error = %v", err)
	}
	notifier.waitForCall(t)
	if _, err := svc.CreateEnvironment(context.Background(), repository.Environment{Name: "production"}); err != nil {
		t.Fatalf("CreateEnvironment() error = %v", err)
	}

	raw := "100"
	upserted, err := svc.UpsertEnvironmentValue(context.Background(), "rollout", "production", &raw, nil, nil)
	if err != nil {
		t.Fatalf("UpsertEnvironmentValue() error = %v", err)
	}
	if upserted.Value == nil || *upserted.Value != "100" {
		t.Fatalf("value = %v", upserted.Value)
	}

	call := notifier.waitForCall(t)
	if call.method != "environment" || call.eventType != webhook.EventEnvironmentValueUpdated {
		t.Fatalf("call = %+v, want environment_value_updated", call)
	}

	// Upsert replaces in place.
	raw = "250"
	replaced, err := svc.UpsertEnvironmentValue(context.Background(), "rollout", "production", &raw, nil, nil)
	if err != nil {
		t.Fatalf("second UpsertEnvironmentValue() error = %v", err)
	}
	if replaced.ID != upserted.ID {
		t.Fatalf("upsert created a second row: %s vs %s", replaced.ID, upserted.ID)
	}
	notifier.waitForCall(t)
}

func TestUpsertEnvironmentValueUnknownTargets(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(t, repo, nil)

	if _, err := svc.CreateFlag(context.Background(), repository.Flag{Name: "rollout", Type: "INTEGER"}); err != nil {
		t.Fatalf("CreateFlag() error = %v", err)
	}

	if _, err := svc.UpsertEnvironmentValue(context.Background(), "missing", "production", nil, nil, nil); !errors.Is(err, ErrFlagNotFound) {
		t.Fatalf("unknown flag error = %v, want ErrFlagNotFound", err)
	}
	if _, err := svc.UpsertEnvironmentValue(context.Background(), "rollout", "nowhere", nil, nil, nil); !errors.Is(err, ErrEnvironmentNotFound) {
		t.Fatalf("unknown environment error = %v, want ErrEnvironmentNotFound", err)
	}
}

func TestDeleteEnvironmentValue(t *testing.T) {
	repo := newFakeRepository()
	notifier := newFakeNotifier()
	svc := newTestService(t, repo, notifier)

	if _, err := svc.CreateFlag(context.Background(), repository.Flag{Name: "rollout", Type: "INTEGER"}); err != nil {
		t.Fatalf("CreateFlag() error = %v", err)
	}
	notifier.waitForCall(t)
	if _, err := svc.CreateEnvironment(context.Background(), repository.Environment{Name: "staging"}); err != nil {
		t.Fatalf("CreateEnvironment() error = %v", err)
	}

	if err := svc.DeleteEnvironmentValue(context.Background(), "rollout", "staging"); !errors.Is(err, ErrValueNotFound) {
		t.Fatalf("delete of unconfigured value error = %v, want ErrValueNotFound", err)
	}

	raw := "1"
	if _, err := svc.UpsertEnvironmentValue(context.Background(), "rollout", "staging", &raw, nil, nil); err != nil {
		t.Fatalf("UpsertEnvironmentValue() error = %v", err)
	}
	notifier.waitForCall(t)

	if err := svc.DeleteEnvironmentValue(context.Background(), "rollout", "staging"); err != nil {
		t.Fatalf("DeleteEnvironmentValue() error = %v", err)
	}
	call := notifier.waitForCall(t)
	if call.eventType != webhook.EventEnvironmentValueUpdated {
		t.Fatalf("event type = %q", call.eventType)
	}
}

func TestMutationsWriteAuditLog(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(t, repo, nil)

	ctx := WithActor(context.Background(), "key-1")
	if _, err := svc.CreateFlag(ctx, repository.Flag{Name: "audited", Type: "SWITCH"}); err != nil {
		t.Fatalf("CreateFlag() error = %v", err)
	}

	entries := repo.auditEntries()
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(entries))
	}
	entry := entries[0]
	if entry.Action != "create" || entry.Entity != "flag" || entry.EntityKey != "audited" {
		t.Fatalf("audit entry = %+v", entry)
	}
	if entry.APIKeyID != "key-1" {
		t.Fatalf("api key id = %q, want key-1", entry.APIKeyID)
	}
}

func TestEnvironmentCRUD(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(t, repo, nil)

	if _, err := svc.CreateEnvironment(context.Background(), repository.Environment{Name: "  "}); !errors.Is(err, ErrEnvironmentRequired) {
		t.Fatalf("blank name error = %v, want ErrEnvironmentRequired", err)
	}

	created, err := svc.CreateEnvironment(context.Background(), repository.Environment{Name: "qa", SortOrder: 3})
	if err != nil {
		t.Fatalf("CreateEnvironment() error = %v", err)
	}

	created.SortOrder = 1
	if _, err := svc.UpdateEnvironment(context.Background(), created); err != nil {
		t.Fatalf("UpdateEnvironment() error = %v", err)
	}

	if err := svc.DeleteEnvironment(context.Background(), created.ID); err != nil {
		t.Fatalf("DeleteEnvironment() error = %v", err)
	}
	if err := svc.DeleteEnvironment(context.Background(), created.ID); !errors.Is(err, ErrEnvironmentNotFound) {
		t.Fatalf("second delete error = %v, want ErrEnvironmentNotFound", err)
	}
}
