package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
)

// DBWriter persists audit entries to PostgreSQL as a hash chain. Appends are
// serialized under a mutex so each entry links to the one before it; the tail
// hash is loaded from the table once at startup.
type DBWriter struct {
	db *sql.DB

	mu       sync.Mutex
	lastHash string
	loaded   bool
}

// NewDBWriter creates a database-backed audit writer
func NewDBWriter(db *sql.DB) (*DBWriter, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	writer := &DBWriter{db: db}
	if err := writer.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_entries table: %w", err)
	}
	return writer, nil
}

func (w *DBWriter) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_entries (
		seq BIGSERIAL PRIMARY KEY,
		operation_id VARCHAR(64) NOT NULL UNIQUE,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		action VARCHAR(20) NOT NULL,
		outcome VARCHAR(20) NOT NULL,
		resource_type VARCHAR(100) NOT NULL,
		resource_id VARCHAR(255),
		actor_id VARCHAR(255),
		actor_role VARCHAR(50) NOT NULL,
		origin_address VARCHAR(45),
		request_id VARCHAR(100),
		fields JSONB,
		restored JSONB,
		reason VARCHAR(100),
		chain_prev VARCHAR(64) NOT NULL,
		chain_hash VARCHAR(64) NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_entries_timestamp ON audit_entries(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_entries_resource ON audit_entries(resource_type, resource_id);
	CREATE INDEX IF NOT EXISTS idx_audit_entries_actor ON audit_entries(actor_id);
	CREATE INDEX IF NOT EXISTS idx_audit_entries_action ON audit_entries(action);
	CREATE INDEX IF NOT EXISTS idx_audit_entries_outcome ON audit_entries(outcome);
	`
	_, err := w.db.Exec(query)
	return err
}

// loadTail reads the newest chain hash. Must be called with the mutex held.
func (w *DBWriter) loadTail(ctx context.Context) error {
	if w.loaded {
		return nil
	}
	var hash string
	err := w.db.QueryRowContext(ctx,
		"SELECT chain_hash FROM audit_entries ORDER BY seq DESC LIMIT 1").Scan(&hash)
	if err == sql.ErrNoRows {
		w.lastHash = ""
		w.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load chain tail: %w", err)
	}
	w.lastHash = hash
	w.loaded = true
	return nil
}

// Append seals the entry onto the chain and inserts it. An operation id that
// was already recorded is treated as a duplicate delivery and succeeds
// without a second insert.
func (w *DBWriter) Append(ctx context.Context, entry *Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.loadTail(ctx); err != nil {
		return err
	}

	if entry.OperationID != "" {
		var existing int64
		err := w.db.QueryRowContext(ctx,
			"SELECT seq FROM audit_entries WHERE operation_id = $1", entry.OperationID).Scan(&existing)
		if err == nil {
			entry.Seq = existing
			return nil
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("failed to check operation id: %w", err)
		}
	}

	entry.Seal(w.lastHash)

	if err := insertEntry(ctx, w.db, entry); err != nil {
		// A concurrent insert of the same operation id lands here via the
		// unique constraint; treat it as an idempotent success.
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	w.lastHash = entry.ChainHash
	return nil
}

// rowQuerier covers *sql.DB and *sql.Tx for entry inserts
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func insertEntry(ctx context.Context, q rowQuerier, entry *Entry) error {
	fieldsJSON, err := json.Marshal(entry.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}
	restoredJSON, err := json.Marshal(entry.Restored)
	if err != nil {
		return fmt.Errorf("failed to marshal restored fields: %w", err)
	}

	query := `
		INSERT INTO audit_entries (
			operation_id, timestamp, action, outcome,
			resource_type, resource_id, actor_id, actor_role,
			origin_address, request_id, fields, restored,
			reason, chain_prev, chain_hash
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15
		) RETURNING seq
	`
	return q.QueryRowContext(ctx, query,
		entry.OperationID, entry.Timestamp, entry.Action, entry.Outcome,
		entry.ResourceType, entry.ResourceID, entry.ActorID, entry.ActorRole,
		entry.OriginAddress, entry.RequestID, fieldsJSON, restoredJSON,
		entry.Reason, entry.ChainPrev, entry.ChainHash,
	).Scan(&entry.Seq)
}

func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}

// Search queries the audit trail with the given filter
func (w *DBWriter) Search(ctx context.Context, filter SearchFilter) ([]*Entry, error) {
	query := `
		SELECT seq, operation_id, timestamp, action, outcome,
			resource_type, resource_id, actor_id, actor_role,
			origin_address, request_id, fields, restored,
			reason, chain_prev, chain_hash
		FROM audit_entries
		WHERE 1=1
	`

	args := []interface{}{}
	argCount := 1

	if filter.StartTime != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *filter.StartTime)
		argCount++
	}
	if filter.EndTime != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, *filter.EndTime)
		argCount++
	}
	if len(filter.Actions) > 0 {
		actionStrs := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			actionStrs[i] = string(a)
		}
		query += fmt.Sprintf(" AND action = ANY($%d)", argCount)
		args = append(args, pq.Array(actionStrs))
		argCount++
	}
	if filter.Outcome != nil {
		query += fmt.Sprintf(" AND outcome = $%d", argCount)
		args = append(args, string(*filter.Outcome))
		argCount++
	}
	if filter.ResourceType != "" {
		query += fmt.Sprintf(" AND resource_type = $%d", argCount)
		args = append(args, filter.ResourceType)
		argCount++
	}
	if filter.ResourceID != "" {
		query += fmt.Sprintf(" AND resource_id = $%d", argCount)
		args = append(args, filter.ResourceID)
		argCount++
	}
	if filter.ActorID != "" {
		query += fmt.Sprintf(" AND actor_id = $%d", argCount)
		args = append(args, filter.ActorID)
		argCount++
	}
	if filter.ActorRole != "" {
		query += fmt.Sprintf(" AND actor_role = $%d", argCount)
		args = append(args, filter.ActorRole)
		argCount++
	}
	if filter.OperationID != "" {
		query += fmt.Sprintf(" AND operation_id = $%d", argCount)
		args = append(args, filter.OperationID)
		argCount++
	}

	query += " ORDER BY seq DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filter.Limit)
		argCount++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	rows, err := w.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	entries := make([]*Entry, 0)
	for rows.Next() {
		entry := &Entry{}
		var resourceID, actorID, origin, requestID, reason sql.NullString
		var fieldsJSON, restoredJSON []byte

		err := rows.Scan(
			&entry.Seq, &entry.OperationID, &entry.Timestamp, &entry.Action, &entry.Outcome,
			&entry.ResourceType, &resourceID, &actorID, &entry.ActorRole,
			&origin, &requestID, &fieldsJSON, &restoredJSON,
			&reason, &entry.ChainPrev, &entry.ChainHash,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		entry.ResourceID = resourceID.String
		entry.ActorID = actorID.String
		entry.OriginAddress = origin.String
		entry.RequestID = requestID.String
		entry.Reason = reason.String

		if len(fieldsJSON) > 0 {
			if err := json.Unmarshal(fieldsJSON, &entry.Fields); err != nil {
				return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
			}
		}
		if len(restoredJSON) > 0 {
			if err := json.Unmarshal(restoredJSON, &entry.Restored); err != nil {
				return nil, fmt.Errorf("failed to unmarshal restored fields: %w", err)
			}
		}

		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// GetStats summarizes the audit trail over an optional time range
func (w *DBWriter) GetStats(ctx context.Context, start, end *time.Time) (*Stats, error) {
	stats := &Stats{
		ByAction:       make(map[Action]int64),
		ByOutcome:      make(map[Outcome]int64),
		ByResourceType: make(map[string]int64),
	}

	whereClause := "WHERE 1=1"
	args := []interface{}{}
	argCount := 1

	if start != nil {
		whereClause += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *start)
		argCount++
		stats.TimeRange = &TimeRange{Start: *start}
	}
	if end != nil {
		whereClause += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, *end)
		if stats.TimeRange == nil {
			stats.TimeRange = &TimeRange{}
		}
		stats.TimeRange.End = *end
	}

	err := w.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM audit_entries %s", whereClause), args...).Scan(&stats.TotalEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit entries: %w", err)
	}

	rows, err := w.db.QueryContext(ctx,
		fmt.Sprintf("SELECT action, COUNT(*) FROM audit_entries %s GROUP BY action", whereClause), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count entries by action: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var action Action
		var count int64
		if err := rows.Scan(&action, &count); err != nil {
			return nil, err
		}
		stats.ByAction[action] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = w.db.QueryContext(ctx,
		fmt.Sprintf("SELECT outcome, COUNT(*) FROM audit_entries %s GROUP BY outcome", whereClause), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count entries by outcome: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var outcome Outcome
		var count int64
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, err
		}
		stats.ByOutcome[outcome] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = w.db.QueryContext(ctx,
		fmt.Sprintf("SELECT resource_type, COUNT(*) FROM audit_entries %s GROUP BY resource_type", whereClause), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count entries by resource type: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var resourceType string
		var count int64
		if err := rows.Scan(&resourceType, &count); err != nil {
			return nil, err
		}
		stats.ByResourceType[resourceType] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = w.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(DISTINCT actor_id) FROM audit_entries %s AND actor_id IS NOT NULL", whereClause), args...).Scan(&stats.UniqueActors)
	if err != nil {
		return nil, fmt.Errorf("failed to count unique actors: %w", err)
	}

	err = w.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM audit_entries %s AND outcome = 'blocked'", whereClause), args...).Scan(&stats.Denials)
	if err != nil {
		return nil, fmt.Errorf("failed to count denials: %w", err)
	}

	err = w.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM audit_entries %s AND restored IS NOT NULL AND restored::text <> 'null' AND restored::text <> '[]'", whereClause), args...).Scan(&stats.RestoredWrites)
	if err != nil {
		return nil, fmt.Errorf("failed to count restored writes: %w", err)
	}

	return stats, nil
}

// ChainReport is the result of a chain verification pass
type ChainReport struct {
	Entries   int64  `json:"entries"`
	Intact    bool   `json:"intact"`
	BrokenSeq int64  `json:"broken_seq,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// VerifyChain walks the trail oldest-first and recomputes every hash. The
// oldest retained entry's chain_prev is accepted as a checkpoint so that
// retention trimming does not invalidate the remainder.
func (w *DBWriter) VerifyChain(ctx context.Context) (*ChainReport, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT seq, operation_id, timestamp, action, outcome,
			resource_type, resource_id, actor_id, actor_role,
			origin_address, request_id, fields, restored,
			reason, chain_prev, chain_hash
		FROM audit_entries
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit entries: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}

	report := &ChainReport{Entries: int64(len(entries)), Intact: true}
	prev := ""
	for i, entry := range entries {
		if i == 0 {
			prev = entry.ChainPrev
		}
		if entry.ChainPrev != prev {
			report.Intact = false
			report.BrokenSeq = entry.Seq
			report.Detail = "chain_prev does not match previous entry"
			return report, nil
		}
		if entry.ComputeChainHash() != entry.ChainHash {
			report.Intact = false
			report.BrokenSeq = entry.Seq
			report.Detail = "entry content does not match its chain_hash"
			return report, nil
		}
		prev = entry.ChainHash
	}
	return report, nil
}

// Cleanup removes entries older than the retention policy allows, archiving
// them first when an archiver is supplied. Only the oldest prefix of the
// chain is removed so verification of the remainder still holds.
func (w *DBWriter) Cleanup(ctx context.Context, policy RetentionPolicy, archiver Archiver) (int64, error) {
	if policy.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -policy.RetentionDays)

	if policy.ArchiveEnabled && archiver != nil {
		rows, err := w.db.QueryContext(ctx, `
			SELECT seq, operation_id, timestamp, action, outcome,
				resource_type, resource_id, actor_id, actor_role,
				origin_address, request_id, fields, restored,
				reason, chain_prev, chain_hash
			FROM audit_entries
			WHERE timestamp < $1
			ORDER BY seq ASC
		`, cutoff)
		if err != nil {
			return 0, fmt.Errorf("failed to read expired entries: %w", err)
		}
		expired, err := scanEntries(rows)
		rows.Close()
		if err != nil {
			return 0, err
		}
		if len(expired) > 0 {
			if err := archiver.Archive(ctx, expired); err != nil {
				return 0, fmt.Errorf("failed to archive expired entries: %w", err)
			}
		}
	}

	result, err := w.db.ExecContext(ctx,
		"DELETE FROM audit_entries WHERE timestamp < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired entries: %w", err)
	}
	return result.RowsAffected()
}

// Erase permanently removes the entries matching the filter, the explicit
// deletion path for right-to-erasure requests. Callers gate it to the admin
// role. The remaining chain is re-sealed across the gap and a meta entry
// naming the removed operation ids is appended, so verification still holds.
// An unconstrained filter is refused; erasing the whole trail is what
// retention is for.
func (w *DBWriter) Erase(ctx context.Context, actorID string, filter SearchFilter) (int64, error) {
	if actorID == "" {
		return 0, fmt.Errorf("an acting administrator id is required")
	}
	if unconstrained(filter) {
		return 0, fmt.Errorf("refusing to erase without a filter")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	matched, err := w.Search(ctx, filter)
	if err != nil {
		return 0, err
	}
	if len(matched) == 0 {
		return 0, nil
	}

	// Search returns newest first; the oldest erased entry anchors the
	// re-seal of everything after the gap.
	oldest := matched[len(matched)-1]
	opIDs := make([]string, len(matched))
	for i, e := range matched {
		opIDs[i] = e.OperationID
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin erase transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM audit_entries WHERE operation_id = ANY($1)", pq.Array(opIDs)); err != nil {
		return 0, fmt.Errorf("failed to delete audit entries: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT seq, operation_id, timestamp, action, outcome,
			resource_type, resource_id, actor_id, actor_role,
			origin_address, request_id, fields, restored,
			reason, chain_prev, chain_hash
		FROM audit_entries
		WHERE seq > $1
		ORDER BY seq ASC
	`, oldest.Seq)
	if err != nil {
		return 0, fmt.Errorf("failed to read entries after the gap: %w", err)
	}
	remaining, err := scanEntries(rows)
	rows.Close()
	if err != nil {
		return 0, err
	}

	prev := oldest.ChainPrev
	for _, entry := range remaining {
		entry.ChainPrev = prev
		entry.ChainHash = entry.ComputeChainHash()
		if _, err := tx.ExecContext(ctx,
			"UPDATE audit_entries SET chain_prev = $1, chain_hash = $2 WHERE seq = $3",
			entry.ChainPrev, entry.ChainHash, entry.Seq); err != nil {
			return 0, fmt.Errorf("failed to re-seal entry %d: %w", entry.Seq, err)
		}
		prev = entry.ChainHash
	}

	meta := &Entry{
		OperationID:  NewOperationID(),
		Timestamp:    time.Now().UTC(),
		Action:       ActionErase,
		Outcome:      OutcomeSuccess,
		ResourceType: "audit_entry",
		ActorID:      actorID,
		ActorRole:    "admin",
		Fields:       opIDs,
		Reason:       "erasure",
	}
	meta.Seal(prev)
	if err := insertEntry(ctx, tx, meta); err != nil {
		return 0, fmt.Errorf("failed to append erasure entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit erase: %w", err)
	}

	w.lastHash = meta.ChainHash
	w.loaded = true
	return int64(len(matched)), nil
}

func unconstrained(f SearchFilter) bool {
	return f.StartTime == nil && f.EndTime == nil && len(f.Actions) == 0 &&
		f.Outcome == nil && f.ResourceType == "" && f.ResourceID == "" &&
		f.ActorID == "" && f.ActorRole == "" && f.OperationID == ""
}

// Close releases the writer. The connection is shared and stays open.
func (w *DBWriter) Close() error {
	return nil
}
