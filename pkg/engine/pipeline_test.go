package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridata/fieldgate/pkg/actor"
	"github.com/veridata/fieldgate/pkg/audit"
	"github.com/veridata/fieldgate/pkg/policy"
	"github.com/veridata/fieldgate/pkg/storage"
)

// recordingAuditWriter captures every appended entry for assertions
type recordingAuditWriter struct {
	mu      sync.Mutex
	entries []*audit.Entry
}

func (w *recordingAuditWriter) Append(ctx context.Context, entry *audit.Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	copied := *entry
	w.entries = append(w.entries, &copied)
	return nil
}

func (w *recordingAuditWriter) Close() error { return nil }

func (w *recordingAuditWriter) all() []*audit.Entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*audit.Entry{}, w.entries...)
}

func (w *recordingAuditWriter) last(t *testing.T) *audit.Entry {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	require.NotEmpty(t, w.entries, "expected at least one audit entry")
	return w.entries[len(w.entries)-1]
}

// conflictingStore injects version conflicts into Update
type conflictingStore struct {
	storage.RecordStore
	conflicts int
}

func (s *conflictingStore) Update(ctx context.Context, record *storage.Record) error {
	if s.conflicts > 0 {
		s.conflicts--
		return storage.ErrVersionConflict
	}
	return s.RecordStore.Update(ctx, record)
}

// failingAuditWriter always fails the append
type failingAuditWriter struct{}

func (w *failingAuditWriter) Append(ctx context.Context, entry *audit.Entry) error {
	return errors.New("sink unavailable")
}

func (w *failingAuditWriter) Close() error { return nil }

func newTestEngine(opts ...Option) (*Engine, *storage.MemoryStore, *recordingAuditWriter) {
	store := storage.NewMemoryStore()
	auditor := &recordingAuditWriter{}
	return New(policy.Default(), store, auditor, opts...), store, auditor
}

var (
	admin   = actor.Actor{ID: "admin-1", Role: actor.RoleAdmin}
	advisor = actor.Actor{ID: "adv-1", Role: actor.RoleAdvisor}
	reqCtx  = RequestContext{OriginAddress: "203.0.113.9", RequestID: "req-1"}
)

func TestCreateLeadAnonymous(t *testing.T) {
	eng, store, auditor := newTestEngine()
	ctx := context.Background()

	record, err := eng.Create(ctx, actor.Anonymous(), "lead", map[string]interface{}{
		"email":         "prospect@example.com",
		"name":          "Prospect",
		"consent_given": true,
	}, reqCtx)
	require.NoError(t, err)

	// Anonymous submitters get the id back but read no fields.
	assert.NotEmpty(t, record.ID)
	assert.Empty(t, record.Data)

	// Consent provenance was stamped on the stored record.
	stored, err := store.Get(ctx, "lead", record.ID)
	require.NoError(t, err)
	assert.Equal(t, true, stored.Data["consent_given"])
	assert.NotEmpty(t, stored.Data["consent_timestamp"])
	assert.Equal(t, "203.0.113.9", stored.Data["origin_address"])

	entry := auditor.last(t)
	assert.Equal(t, audit.ActionCreate, entry.Action)
	assert.Equal(t, audit.OutcomeSuccess, entry.Outcome)
	assert.Equal(t, "lead", entry.ResourceType)
	assert.Equal(t, record.ID, entry.ResourceID)
	assert.Equal(t, string(actor.RoleAnonymous), entry.ActorRole)
	assert.Equal(t, "203.0.113.9", entry.OriginAddress)
	assert.NotEmpty(t, entry.OperationID)

	// Field names only, never values.
	assert.Contains(t, entry.Fields, "email")
	for _, field := range entry.Fields {
		assert.NotContains(t, field, "prospect@example.com")
	}
}

func TestCreateWithoutConsent(t *testing.T) {
	eng, store, auditor := newTestEngine()
	ctx := context.Background()

	_, err := eng.Create(ctx, actor.Anonymous(), "lead", map[string]interface{}{
		"email": "prospect@example.com",
	}, reqCtx)
	require.ErrorIs(t, err, ErrConsentRequired)

	// Nothing reaches storage and the denial is on the trail.
	records, _ := store.List(ctx, "lead", nil)
	assert.Empty(t, records)

	entry := auditor.last(t)
	assert.Equal(t, audit.ActionDenied, entry.Action)
	assert.Equal(t, audit.OutcomeBlocked, entry.Outcome)
	assert.Equal(t, "create:consent_required", entry.Reason)
}

func TestCreateForbiddenRole(t *testing.T) {
	eng, _, auditor := newTestEngine()

	readonly := actor.Actor{ID: "r1", Role: actor.RoleReadonly}
	_, err := eng.Create(context.Background(), readonly, "student", map[string]interface{}{
		"first_name": "Ana",
	}, reqCtx)
	require.ErrorIs(t, err, ErrForbidden)

	entry := auditor.last(t)
	assert.Equal(t, audit.ActionDenied, entry.Action)
	assert.Equal(t, "create:forbidden", entry.Reason)
}

func TestCreateUndeclaredField(t *testing.T) {
	eng, _, _ := newTestEngine()

	_, err := eng.Create(context.Background(), admin, "student", map[string]interface{}{
		"first_name":    "Ana",
		"shoe_size":     44,
		"consent_given": true,
	}, reqCtx)
	require.ErrorIs(t, err, ErrValidation)

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, []string{"shoe_size"}, validationErr.Fields)
}

func TestCreateStampsOwner(t *testing.T) {
	eng, store, _ := newTestEngine()
	ctx := context.Background()

	record, err := eng.Create(ctx, advisor, "student", map[string]interface{}{
		"first_name":    "Ana",
		"consent_given": true,
	}, reqCtx)
	require.NoError(t, err)

	stored, err := store.Get(ctx, "student", record.ID)
	require.NoError(t, err)
	assert.Equal(t, "adv-1", stored.Data["assigned_to"])
}

func TestUpdateRestoresImmutableField(t *testing.T) {
	eng, store, auditor := newTestEngine()
	ctx := context.Background()

	created, err := eng.Create(ctx, advisor, "student", map[string]interface{}{
		"first_name":    "Ana",
		"dni":           "12345678Z",
		"consent_given": true,
	}, reqCtx)
	require.NoError(t, err)

	// dni write permission is admin-only, but advisors own the record. The
	// tamper attempt reverts silently; the legitimate change goes through.
	updated, err := eng.Update(ctx, advisor, "student", created.ID, map[string]interface{}{
		"dni":   "99999999X",
		"notes": "called twice",
	}, reqCtx)
	require.NoError(t, err)

	assert.Equal(t, "12345678Z", updated.Data["dni"])
	assert.Equal(t, "called twice", updated.Data["notes"])

	stored, err := store.Get(ctx, "student", created.ID)
	require.NoError(t, err)
	assert.Equal(t, "12345678Z", stored.Data["dni"])

	entry := auditor.last(t)
	assert.Equal(t, audit.ActionUpdate, entry.Action)
	assert.Equal(t, audit.OutcomeSuccess, entry.Outcome)
	require.Len(t, entry.Restored, 1)
	assert.Equal(t, "dni", entry.Restored[0].Name)
	assert.NotEmpty(t, entry.Restored[0].AttemptHash)
	assert.NotContains(t, entry.Restored[0].AttemptHash, "99999999X")
}

func TestUpdateForbiddenForNonOwner(t *testing.T) {
	eng, _, auditor := newTestEngine()
	ctx := context.Background()

	created, err := eng.Create(ctx, advisor, "student", map[string]interface{}{
		"first_name":    "Ana",
		"consent_given": true,
	}, reqCtx)
	require.NoError(t, err)

	other := actor.Actor{ID: "adv-2", Role: actor.RoleAdvisor}
	_, err = eng.Update(ctx, other, "student", created.ID, map[string]interface{}{
		"first_name": "Eve",
	}, reqCtx)
	require.ErrorIs(t, err, ErrForbidden)

	entry := auditor.last(t)
	assert.Equal(t, "update:forbidden", entry.Reason)
}

func TestUpdateFieldWriteDenied(t *testing.T) {
	eng, _, auditor := newTestEngine()
	ctx := context.Background()

	created, err := eng.Create(ctx, admin, "student", map[string]interface{}{
		"first_name":    "Ana",
		"consent_given": true,
	}, reqCtx)
	require.NoError(t, err)

	// Admins and managers may reassign students; the write rule admits them.
	owned, err := eng.Update(ctx, admin, "student", created.ID, map[string]interface{}{
		"assigned_to": "adv-1",
	}, reqCtx)
	require.NoError(t, err)
	assert.Equal(t, "adv-1", owned.Data["assigned_to"])

	// Advisors may not, owner or not; the field write is rejected, not
	// silently dropped.

	_, err = eng.Update(ctx, advisor, "student", owned.ID, map[string]interface{}{
		"assigned_to": "adv-2",
	}, reqCtx)
	require.ErrorIs(t, err, ErrForbidden)

	entry := auditor.last(t)
	assert.Equal(t, audit.ActionDenied, entry.Action)
	assert.Contains(t, entry.Fields, "assigned_to")
}

func TestUpdateRetriesVersionConflictOnce(t *testing.T) {
	store := storage.NewMemoryStore()
	conflicting := &conflictingStore{RecordStore: store, conflicts: 1}
	auditor := &recordingAuditWriter{}
	eng := New(policy.Default(), conflicting, auditor)
	ctx := context.Background()

	created, err := eng.Create(ctx, admin, "student", map[string]interface{}{
		"first_name":    "Ana",
		"consent_given": true,
	}, reqCtx)
	require.NoError(t, err)

	updated, err := eng.Update(ctx, admin, "student", created.ID, map[string]interface{}{
		"first_name": "Anna",
	}, reqCtx)
	require.NoError(t, err)
	assert.Equal(t, "Anna", updated.Data["first_name"])
}

func TestUpdateGivesUpAfterSecondConflict(t *testing.T) {
	store := storage.NewMemoryStore()
	conflicting := &conflictingStore{RecordStore: store, conflicts: 10}
	eng := New(policy.Default(), conflicting, &recordingAuditWriter{})
	ctx := context.Background()

	created, err := eng.Create(ctx, admin, "student", map[string]interface{}{
		"first_name":    "Ana",
		"consent_given": true,
	}, reqCtx)
	require.NoError(t, err)

	_, err = eng.Update(ctx, admin, "student", created.ID, map[string]interface{}{
		"first_name": "Anna",
	}, reqCtx)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestDeleteRequiresArchivedCampaign(t *testing.T) {
	eng, store, auditor := newTestEngine()
	ctx := context.Background()

	created, err := eng.Create(ctx, admin, "campaign", map[string]interface{}{
		"name":   "Spring",
		"status": "active",
	}, reqCtx)
	require.NoError(t, err)

	err = eng.Delete(ctx, admin, "campaign", created.ID, reqCtx)
	require.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, "delete:forbidden", auditor.last(t).Reason)

	_, err = eng.Update(ctx, admin, "campaign", created.ID, map[string]interface{}{
		"status": "archived",
	}, reqCtx)
	require.NoError(t, err)

	require.NoError(t, eng.Delete(ctx, admin, "campaign", created.ID, reqCtx))

	_, err = store.Get(ctx, "campaign", created.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	entry := auditor.last(t)
	assert.Equal(t, audit.ActionDelete, entry.Action)
	assert.Equal(t, audit.OutcomeSuccess, entry.Outcome)
}

func TestEraseCascades(t *testing.T) {
	eng, store, auditor := newTestEngine()
	ctx := context.Background()

	student, err := eng.Create(ctx, admin, "student", map[string]interface{}{
		"first_name":    "Ana",
		"consent_given": true,
	}, reqCtx)
	require.NoError(t, err)

	lead, err := eng.Create(ctx, admin, "lead", map[string]interface{}{
		"email":         "ana@example.com",
		"consent_given": true,
	}, reqCtx)
	require.NoError(t, err)
	_, err = eng.Update(ctx, admin, "lead", lead.ID, map[string]interface{}{
		"student_id": student.ID,
	}, reqCtx)
	require.NoError(t, err)

	result, err := eng.Erase(ctx, admin, "student", student.ID, reqCtx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Cascaded["lead"])

	_, err = store.Get(ctx, "student", student.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.Get(ctx, "lead", lead.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	entries := auditor.all()
	require.GreaterOrEqual(t, len(entries), 2)

	meta := entries[len(entries)-1]
	assert.Equal(t, audit.ActionErase, meta.Action)
	assert.Equal(t, "erasure", meta.Reason)
	assert.Equal(t, []string{"lead"}, meta.Fields)

	deletion := entries[len(entries)-2]
	assert.Equal(t, audit.ActionDelete, deletion.Action)
	assert.Equal(t, audit.OutcomeSuccess, deletion.Outcome)
}

func TestEraseRequiresAdminRole(t *testing.T) {
	eng, _, _ := newTestEngine()
	ctx := context.Background()

	student, err := eng.Create(ctx, admin, "student", map[string]interface{}{
		"first_name":    "Ana",
		"consent_given": true,
	}, reqCtx)
	require.NoError(t, err)

	manager := actor.Actor{ID: "mgr-1", Role: actor.RoleManager}
	_, err = eng.Erase(ctx, manager, "student", student.ID, reqCtx)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAuditFailureDoesNotFailOperation(t *testing.T) {
	store := storage.NewMemoryStore()
	eng := New(policy.Default(), store, &failingAuditWriter{})
	ctx := context.Background()

	record, err := eng.Create(ctx, admin, "student", map[string]interface{}{
		"first_name":    "Ana",
		"consent_given": true,
	}, reqCtx)
	require.NoError(t, err)

	stored, err := store.Get(ctx, "student", record.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana", stored.Data["first_name"])
}

func TestGetForbiddenForAnonymous(t *testing.T) {
	eng, _, auditor := newTestEngine()
	ctx := context.Background()

	lead, err := eng.Create(ctx, admin, "lead", map[string]interface{}{
		"email":         "ana@example.com",
		"consent_given": true,
	}, reqCtx)
	require.NoError(t, err)

	_, err = eng.Get(ctx, actor.Anonymous(), "lead", lead.ID, reqCtx)
	assert.ErrorIs(t, err, ErrForbidden)

	// Blocked reads carry the same provenance as blocked writes.
	entry := auditor.last(t)
	assert.Equal(t, audit.ActionDenied, entry.Action)
	assert.Equal(t, "read:forbidden", entry.Reason)
	assert.Equal(t, "203.0.113.9", entry.OriginAddress)
	assert.Equal(t, "req-1", entry.RequestID)
}

func TestAuditEntryNeverWritableThroughPipeline(t *testing.T) {
	eng, store, _ := newTestEngine()
	ctx := context.Background()

	// Audit entries live in the trail, not the record store, but even a
	// stray record of that type must not be deletable by any role.
	require.NoError(t, store.Create(ctx, &storage.Record{
		ID:   "ae-1",
		Type: "audit_entry",
		Data: map[string]interface{}{"action": "create"},
	}))

	manager := actor.Actor{ID: "mgr-1", Role: actor.RoleManager}
	for _, a := range []actor.Actor{admin, manager, advisor, actor.Anonymous()} {
		err := eng.Delete(ctx, a, "audit_entry", "ae-1", reqCtx)
		assert.ErrorIs(t, err, ErrForbidden, "role %s", a.Role)
	}

	_, err := eng.Update(ctx, admin, "audit_entry", "ae-1", map[string]interface{}{
		"action": "update",
	}, reqCtx)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestListCombinesFilters(t *testing.T) {
	eng, _, _ := newTestEngine()
	ctx := context.Background()

	for _, status := range []string{"published", "draft", "published"} {
		_, err := eng.Create(ctx, admin, "course", map[string]interface{}{
			"name":   "Course " + status,
			"status": status,
		}, reqCtx)
		require.NoError(t, err)
	}

	t.Run("anonymous sees published only", func(t *testing.T) {
		records, err := eng.List(ctx, actor.Anonymous(), "course", nil, reqCtx)
		require.NoError(t, err)
		assert.Len(t, records, 2)
	})

	t.Run("caller filter is ANDed, not replaced", func(t *testing.T) {
		records, err := eng.List(ctx, actor.Anonymous(), "course", storage.Filter{"status": "draft"}, reqCtx)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("staff see everything", func(t *testing.T) {
		records, err := eng.List(ctx, admin, "course", nil, reqCtx)
		require.NoError(t, err)
		assert.Len(t, records, 3)
	})
}

func TestPreCreateCheckWired(t *testing.T) {
	store := storage.NewMemoryStore()
	eng := New(policy.Default(), store, &recordingAuditWriter{},
		WithPreCreateCheck("lead", DuplicateSubmissionCheck(store, "lead", []string{"email", "course_id"}, 24*time.Hour)))
	ctx := context.Background()

	data := func() map[string]interface{} {
		return map[string]interface{}{
			"email":         "prospect@example.com",
			"course_id":     "course-1",
			"consent_given": true,
		}
	}

	_, err := eng.Create(ctx, actor.Anonymous(), "lead", data(), reqCtx)
	require.NoError(t, err)

	_, err = eng.Create(ctx, actor.Anonymous(), "lead", data(), reqCtx)
	require.ErrorIs(t, err, ErrValidation)
}

func TestAuthorizeAuditRead(t *testing.T) {
	eng, _, _ := newTestEngine()

	assert.NoError(t, eng.AuthorizeAuditRead(admin))
	assert.NoError(t, eng.AuthorizeAuditRead(actor.Actor{ID: "m1", Role: actor.RoleManager}))
	assert.ErrorIs(t, eng.AuthorizeAuditRead(advisor), ErrForbidden)
	assert.ErrorIs(t, eng.AuthorizeAuditRead(actor.Anonymous()), ErrForbidden)
}
