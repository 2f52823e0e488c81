package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/veridata/fieldgate/pkg/actor"
	"github.com/veridata/fieldgate/pkg/audit"
	"github.com/veridata/fieldgate/pkg/observability"
	"github.com/veridata/fieldgate/pkg/policy"
	"github.com/veridata/fieldgate/pkg/storage"
)

// PreCreateCheck is a resource-type-specific precondition evaluated after
// access control and consent, immediately before the record is stored.
type PreCreateCheck func(ctx context.Context, a actor.Actor, data map[string]interface{}) error

// Engine orchestrates every operation through a fixed pipeline: access
// evaluation, field permission checks, consent capture, the immutability
// guard, storage, and finally the audit append. The stage order is the
// contract; no stage may be bypassed by a caller.
type Engine struct {
	table     *policy.Table
	store     storage.RecordStore
	auditor   audit.Writer
	evaluator *Evaluator
	projector *Projector
	guard     *Guard

	logger       *observability.Logger
	metrics      *observability.Metrics
	clock        func() time.Time
	auditTimeout time.Duration
	preCreate    map[string][]PreCreateCheck
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the structured logger
func WithLogger(logger *observability.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics sets the metrics sink
func WithMetrics(metrics *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = metrics }
}

// WithDecisionCache attaches a decision cache to the evaluator
func WithDecisionCache(cache *DecisionCache) Option {
	return func(e *Engine) { e.evaluator.WithCache(cache) }
}

// WithClock overrides the time source (used by tests)
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithPreCreateCheck registers a pre-create check for a resource type
func WithPreCreateCheck(resourceType string, check PreCreateCheck) Option {
	return func(e *Engine) {
		e.preCreate[resourceType] = append(e.preCreate[resourceType], check)
	}
}

// New creates an engine over the policy table, record store and audit sink
func New(table *policy.Table, store storage.RecordStore, auditor audit.Writer, opts ...Option) *Engine {
	e := &Engine{
		table:        table,
		store:        store,
		auditor:      auditor,
		evaluator:    NewEvaluator(table),
		projector:    NewProjector(table),
		guard:        NewGuard(table),
		logger:       observability.NewLogger(observability.InfoLevel, nil),
		clock:        time.Now,
		auditTimeout: 5 * time.Second,
		preCreate:    make(map[string][]PreCreateCheck),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Table exposes the policy table for read-only consultation
func (e *Engine) Table() *policy.Table {
	return e.table
}

// AuthorizeAuditRead reports whether the actor may query the audit trail
func (e *Engine) AuthorizeAuditRead(a actor.Actor) error {
	cfg, ok := e.table.Resource("audit_entry")
	if !ok {
		return ErrForbidden
	}
	if !e.table.EffectiveRule(cfg, cfg.Read).Admits(a, nil) {
		return ErrForbidden
	}
	return nil
}

// Create runs the create pipeline and returns the stored record projected
// for the creating actor.
func (e *Engine) Create(ctx context.Context, a actor.Actor, resourceType string, data map[string]interface{}, reqCtx RequestContext) (*storage.Record, error) {
	cfg, ok := e.table.Resource(resourceType)
	if !ok {
		return nil, ErrNotFound
	}

	if e.evaluator.Evaluate(ctx, a, resourceType, OpCreate, nil).Denied() {
		e.recordDenial(ctx, a, reqCtx, cfg, OpCreate, "", "forbidden", nil)
		return nil, ErrForbidden
	}

	if data == nil {
		data = make(map[string]interface{})
	}
	if err := e.validateDeclared(cfg, data); err != nil {
		return nil, err
	}

	// Ownership is stamped by the engine, never chosen by the client.
	if cfg.OwnerField != "" && !a.IsAnonymous() {
		data[cfg.OwnerField] = a.ID
	}

	if deniedFields := e.checkFieldWrites(a, cfg, data, data, true); len(deniedFields) > 0 {
		e.recordDenial(ctx, a, reqCtx, cfg, OpCreate, "", "forbidden", deniedFields)
		return nil, ErrForbidden
	}

	if cfg.ConsentBearing {
		if err := RequireConsent(data); err != nil {
			e.metrics.RecordConsentRejection(resourceType)
			e.recordDenial(ctx, a, reqCtx, cfg, OpCreate, "", "consent_required", nil)
			return nil, err
		}
		StampConsent(data, reqCtx, e.clock())
	}

	for _, check := range e.preCreate[resourceType] {
		if err := check(ctx, a, data); err != nil {
			return nil, err
		}
	}

	record := &storage.Record{
		ID:   uuid.NewString(),
		Type: resourceType,
		Data: data,
	}
	if err := e.store.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("create %s: %w", resourceType, err)
	}

	e.recordSuccess(ctx, a, reqCtx, cfg, audit.ActionCreate, record.ID, fieldNames(data), nil)

	return e.projectRecord(a, record)
}

// Get fetches a record by id, re-checking row-level permission against the
// fetched record and projecting the result for the actor.
func (e *Engine) Get(ctx context.Context, a actor.Actor, resourceType, id string, reqCtx RequestContext) (*storage.Record, error) {
	cfg, ok := e.table.Resource(resourceType)
	if !ok {
		return nil, ErrNotFound
	}

	record, err := e.store.Get(ctx, resourceType, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s/%s: %w", resourceType, id, err)
	}

	if e.evaluator.Evaluate(ctx, a, resourceType, OpRead, record.Data).Denied() {
		e.recordDenial(ctx, a, reqCtx, cfg, OpRead, id, "forbidden", nil)
		return nil, ErrForbidden
	}

	return e.projectRecord(a, record)
}

// List queries a collection. The actor's row filter is ANDed onto the
// caller's filter, never substituted for it. Records that fail projection
// are omitted.
func (e *Engine) List(ctx context.Context, a actor.Actor, resourceType string, filter storage.Filter, reqCtx RequestContext) ([]*storage.Record, error) {
	cfg, ok := e.table.Resource(resourceType)
	if !ok {
		return nil, ErrNotFound
	}

	decision := e.evaluator.Evaluate(ctx, a, resourceType, OpRead, nil)
	if decision.Denied() {
		e.recordDenial(ctx, a, reqCtx, cfg, OpRead, "", "forbidden", nil)
		return nil, ErrForbidden
	}

	combined := make(storage.Filter, len(filter)+len(decision.Filter))
	for k, v := range filter {
		combined[k] = v
	}
	for k, v := range decision.Filter {
		// Conjunctive semantics: a caller filter conflicting with the row
		// filter matches nothing rather than being overridden.
		if existing, ok := combined[k]; ok && existing != v {
			return []*storage.Record{}, nil
		}
		combined[k] = v
	}

	records, err := e.store.List(ctx, resourceType, combined)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", resourceType, err)
	}

	projected := make([]*storage.Record, 0, len(records))
	for _, record := range records {
		out, err := e.projectRecord(a, record)
		if err != nil {
			continue
		}
		projected = append(projected, out)
	}
	return projected, nil
}

// Update runs the update pipeline. A lost optimistic version check is
// retried once against the refreshed record before giving up.
func (e *Engine) Update(ctx context.Context, a actor.Actor, resourceType, id string, patch map[string]interface{}, reqCtx RequestContext) (*storage.Record, error) {
	record, err := e.applyUpdate(ctx, a, resourceType, id, patch, reqCtx)
	if errors.Is(err, storage.ErrVersionConflict) {
		record, err = e.applyUpdate(ctx, a, resourceType, id, patch, reqCtx)
		if errors.Is(err, storage.ErrVersionConflict) {
			return nil, ErrConflict
		}
	}
	return record, err
}

func (e *Engine) applyUpdate(ctx context.Context, a actor.Actor, resourceType, id string, patch map[string]interface{}, reqCtx RequestContext) (*storage.Record, error) {
	cfg, ok := e.table.Resource(resourceType)
	if !ok {
		return nil, ErrNotFound
	}

	record, err := e.store.Get(ctx, resourceType, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s/%s: %w", resourceType, id, err)
	}

	if e.evaluator.Evaluate(ctx, a, resourceType, OpUpdate, record.Data).Denied() {
		e.recordDenial(ctx, a, reqCtx, cfg, OpUpdate, id, "forbidden", nil)
		return nil, ErrForbidden
	}

	if err := e.validateDeclared(cfg, patch); err != nil {
		return nil, err
	}

	if deniedFields := e.checkFieldWrites(a, cfg, patch, record.Data, false); len(deniedFields) > 0 {
		e.recordDenial(ctx, a, reqCtx, cfg, OpUpdate, id, "forbidden", deniedFields)
		return nil, ErrForbidden
	}

	merged := make(map[string]interface{}, len(record.Data)+len(patch))
	for k, v := range record.Data {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}

	restored := e.guard.Apply(resourceType, merged, record.Data)
	if len(restored) > 0 {
		e.metrics.RecordRestoration(resourceType)
	}

	record.Data = merged
	if err := e.store.Update(ctx, record); err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			return nil, err
		}
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update %s/%s: %w", resourceType, id, err)
	}

	e.recordSuccess(ctx, a, reqCtx, cfg, audit.ActionUpdate, id, fieldNames(patch), restored)

	return e.projectRecord(a, record)
}

// Delete removes a record after role and state-precondition checks
func (e *Engine) Delete(ctx context.Context, a actor.Actor, resourceType, id string, reqCtx RequestContext) error {
	cfg, ok := e.table.Resource(resourceType)
	if !ok {
		return ErrNotFound
	}

	record, err := e.store.Get(ctx, resourceType, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("get %s/%s: %w", resourceType, id, err)
	}

	if e.evaluator.Evaluate(ctx, a, resourceType, OpDelete, record.Data).Denied() {
		e.recordDenial(ctx, a, reqCtx, cfg, OpDelete, id, "forbidden", nil)
		return ErrForbidden
	}

	if err := e.store.Delete(ctx, resourceType, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete %s/%s: %w", resourceType, id, err)
	}

	e.recordSuccess(ctx, a, reqCtx, cfg, audit.ActionDelete, id, nil, nil)
	return nil
}

// EraseResult reports what an erasure removed
type EraseResult struct {
	Cascaded map[string]int64 `json:"cascaded,omitempty"`
}

// Erase permanently removes a record and its dependents for right-to-erasure.
// Restricted to the most privileged role regardless of per-type delete rules;
// the erasure itself is recorded with a meta entry.
func (e *Engine) Erase(ctx context.Context, a actor.Actor, resourceType, id string, reqCtx RequestContext) (*EraseResult, error) {
	cfg, ok := e.table.Resource(resourceType)
	if !ok {
		return nil, ErrNotFound
	}

	if a.Role != actor.RoleAdmin {
		e.recordDenial(ctx, a, reqCtx, cfg, OpDelete, id, "forbidden", nil)
		return nil, ErrForbidden
	}

	if _, err := e.store.Get(ctx, resourceType, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s/%s: %w", resourceType, id, err)
	}

	result := &EraseResult{Cascaded: make(map[string]int64)}
	cascadedTypes := make([]string, 0, len(cfg.ErasureCascade))
	for _, cascade := range cfg.ErasureCascade {
		removed, err := e.store.DeleteWhere(ctx, cascade.Type, storage.Filter{cascade.ForeignKey: id})
		if err != nil {
			return nil, fmt.Errorf("erase cascade %s: %w", cascade.Type, err)
		}
		result.Cascaded[cascade.Type] = removed
		cascadedTypes = append(cascadedTypes, cascade.Type)
	}

	if err := e.store.Delete(ctx, resourceType, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("erase %s/%s: %w", resourceType, id, err)
	}

	// The deletion entry, then a meta entry documenting the erasure path.
	e.recordSuccess(ctx, a, reqCtx, cfg, audit.ActionDelete, id, nil, nil)
	e.appendAudit(ctx, &audit.Entry{
		Action:        audit.ActionErase,
		Outcome:       audit.OutcomeSuccess,
		ResourceType:  resourceType,
		ResourceID:    id,
		ActorID:       a.ID,
		ActorRole:     string(a.Role),
		OriginAddress: reqCtx.OriginAddress,
		RequestID:     reqCtx.RequestID,
		Fields:        cascadedTypes,
		Reason:        "erasure",
	})

	return result, nil
}

// validateDeclared rejects data carrying fields outside the declared set
func (e *Engine) validateDeclared(cfg *policy.ResourceConfig, data map[string]interface{}) error {
	var undeclared []string
	for name := range data {
		if !cfg.HasField(name) {
			undeclared = append(undeclared, name)
		}
	}
	if len(undeclared) > 0 {
		return NewValidationError(undeclared...)
	}
	return nil
}

// checkFieldWrites returns the fields the actor may not write. On create,
// the owner field and consent provenance are exempt: both are stamped by the
// engine itself. On update, immutable fields are exempt here because the
// guard reverts them silently instead of failing the request.
func (e *Engine) checkFieldWrites(a actor.Actor, cfg *policy.ResourceConfig, data, record map[string]interface{}, creating bool) []string {
	immutable := e.table.ImmutableFields(cfg.Type)

	var deniedFields []string
	for name := range data {
		if creating {
			if name == cfg.OwnerField {
				continue
			}
			if cfg.ConsentBearing && (name == policy.FieldConsentGiven ||
				name == policy.FieldConsentTimestamp || name == policy.FieldOriginAddress) {
				continue
			}
		} else if immutable[name] {
			continue
		}

		rule := e.table.EffectiveRule(cfg, e.table.FieldRule(cfg.Type, name, policy.OpWrite))
		if !rule.Admits(a, record) {
			deniedFields = append(deniedFields, name)
		}
	}
	return deniedFields
}

func (e *Engine) projectRecord(a actor.Actor, record *storage.Record) (*storage.Record, error) {
	projected, err := e.projector.Project(a, record.Type, record.Data)
	if err != nil {
		return nil, err
	}
	out := record.Clone()
	out.Data = projected
	return out, nil
}

func (e *Engine) recordSuccess(ctx context.Context, a actor.Actor, reqCtx RequestContext, cfg *policy.ResourceConfig, action audit.Action, id string, fields []string, restored []audit.RestoredField) {
	if !cfg.Audited {
		return
	}
	e.appendAudit(ctx, &audit.Entry{
		Action:        action,
		Outcome:       audit.OutcomeSuccess,
		ResourceType:  cfg.Type,
		ResourceID:    id,
		ActorID:       a.ID,
		ActorRole:     string(a.Role),
		OriginAddress: reqCtx.OriginAddress,
		RequestID:     reqCtx.RequestID,
		Fields:        fields,
		Restored:      restored,
	})
}

func (e *Engine) recordDenial(ctx context.Context, a actor.Actor, reqCtx RequestContext, cfg *policy.ResourceConfig, op Op, id, cause string, fields []string) {
	e.metrics.RecordDenial(cfg.Type, string(op))
	if !cfg.Audited {
		return
	}
	e.appendAudit(ctx, &audit.Entry{
		Action:        audit.ActionDenied,
		Outcome:       audit.OutcomeBlocked,
		ResourceType:  cfg.Type,
		ResourceID:    id,
		ActorID:       a.ID,
		ActorRole:     string(a.Role),
		OriginAddress: reqCtx.OriginAddress,
		RequestID:     reqCtx.RequestID,
		Fields:        fields,
		Reason:        string(op) + ":" + cause,
	})
}

// appendAudit delivers an entry after the primary operation settled. The
// append survives request cancellation with its own short timeout; a failure
// never fails the primary operation, it is escalated to monitoring instead.
func (e *Engine) appendAudit(ctx context.Context, entry *audit.Entry) {
	entry.Timestamp = e.clock().UTC()
	entry.OperationID = audit.NewOperationID()

	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.auditTimeout)
	defer cancel()

	if err := e.auditor.Append(auditCtx, entry); err != nil {
		e.metrics.RecordAuditWriteFailure()
		e.logger.WithError(err).
			WithField("resource_type", entry.ResourceType).
			WithField("action", string(entry.Action)).
			Error("audit append failed")
		return
	}
	e.metrics.RecordAuditAppend()
}

func fieldNames(data map[string]interface{}) []string {
	names := make([]string, 0, len(data))
	for name := range data {
		names = append(names, name)
	}
	return names
}
