package audit

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockWriter(t *testing.T) (*DBWriter, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_entries").
		WillReturnResult(sqlmock.NewResult(0, 0))

	writer, err := NewDBWriter(db)
	require.NoError(t, err)
	return writer, mock, db
}

func TestNewDBWriter(t *testing.T) {
	t.Run("successful creation", func(t *testing.T) {
		writer, mock, db := setupMockWriter(t)
		defer db.Close()

		assert.NotNil(t, writer)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil database connection", func(t *testing.T) {
		writer, err := NewDBWriter(nil)
		assert.Error(t, err)
		assert.Nil(t, writer)
	})
}

func TestDBWriterAppend(t *testing.T) {
	writer, mock, db := setupMockWriter(t)
	defer db.Close()

	// Empty trail: the chain starts from the empty string.
	mock.ExpectQuery("SELECT chain_hash FROM audit_entries ORDER BY seq DESC LIMIT 1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT seq FROM audit_entries WHERE operation_id").
		WithArgs("op-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("INSERT INTO audit_entries").
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(1))

	entry := &Entry{
		OperationID:  "op-1",
		Action:       ActionCreate,
		Outcome:      OutcomeSuccess,
		ResourceType: "lead",
		ActorRole:    "anonymous",
		Fields:       []string{"email", "name"},
	}
	err := writer.Append(context.Background(), entry)
	require.NoError(t, err)

	assert.Equal(t, int64(1), entry.Seq)
	assert.Equal(t, "", entry.ChainPrev)
	assert.Equal(t, entry.ComputeChainHash(), entry.ChainHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBWriterAppendChainsFromTail(t *testing.T) {
	writer, mock, db := setupMockWriter(t)
	defer db.Close()

	mock.ExpectQuery("SELECT chain_hash FROM audit_entries ORDER BY seq DESC LIMIT 1").
		WillReturnRows(sqlmock.NewRows([]string{"chain_hash"}).AddRow("tailhash"))
	mock.ExpectQuery("SELECT seq FROM audit_entries WHERE operation_id").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("INSERT INTO audit_entries").
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(42))

	entry := &Entry{
		OperationID:  "op-2",
		Action:       ActionUpdate,
		Outcome:      OutcomeSuccess,
		ResourceType: "student",
		ResourceID:   "stu-1",
		ActorID:      "usr-1",
		ActorRole:    "advisor",
	}
	err := writer.Append(context.Background(), entry)
	require.NoError(t, err)

	assert.Equal(t, "tailhash", entry.ChainPrev)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBWriterAppendIdempotent(t *testing.T) {
	writer, mock, db := setupMockWriter(t)
	defer db.Close()

	mock.ExpectQuery("SELECT chain_hash FROM audit_entries ORDER BY seq DESC LIMIT 1").
		WillReturnError(sql.ErrNoRows)
	// The operation was already recorded: no insert happens.
	mock.ExpectQuery("SELECT seq FROM audit_entries WHERE operation_id").
		WithArgs("op-dup").
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(9))

	entry := &Entry{
		OperationID:  "op-dup",
		Action:       ActionUpdate,
		Outcome:      OutcomeSuccess,
		ResourceType: "student",
		ActorRole:    "admin",
	}
	err := writer.Append(context.Background(), entry)
	require.NoError(t, err)

	assert.Equal(t, int64(9), entry.Seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBWriterSearch(t *testing.T) {
	writer, mock, db := setupMockWriter(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"seq", "operation_id", "timestamp", "action", "outcome",
		"resource_type", "resource_id", "actor_id", "actor_role",
		"origin_address", "request_id", "fields", "restored",
		"reason", "chain_prev", "chain_hash",
	}).AddRow(
		int64(3), "op-3", time.Now(), "denied", "blocked",
		"student", "stu-1", "usr-9", "readonly",
		"203.0.113.9", "req-1", []byte(`["dni"]`), []byte(`[]`),
		"forbidden", "prev", "hash",
	)

	mock.ExpectQuery("SELECT seq, operation_id, timestamp").
		WithArgs("student", 50).
		WillReturnRows(rows)

	entries, err := writer.Search(context.Background(), SearchFilter{
		ResourceType: "student",
		Limit:        50,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	assert.Equal(t, ActionDenied, entries[0].Action)
	assert.Equal(t, OutcomeBlocked, entries[0].Outcome)
	assert.Equal(t, []string{"dni"}, entries[0].Fields)
	assert.Equal(t, "forbidden", entries[0].Reason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBWriterVerifyChain(t *testing.T) {
	first := &Entry{
		OperationID:  "op-a",
		Timestamp:    time.Now().UTC(),
		Action:       ActionCreate,
		Outcome:      OutcomeSuccess,
		ResourceType: "lead",
		ActorRole:    "anonymous",
	}
	first.Seal("")
	second := &Entry{
		OperationID:  "op-b",
		Timestamp:    time.Now().UTC(),
		Action:       ActionUpdate,
		Outcome:      OutcomeSuccess,
		ResourceType: "lead",
		ActorRole:    "marketing",
	}
	second.Seal(first.ChainHash)

	chainRows := func(entries ...*Entry) *sqlmock.Rows {
		rows := sqlmock.NewRows([]string{
			"seq", "operation_id", "timestamp", "action", "outcome",
			"resource_type", "resource_id", "actor_id", "actor_role",
			"origin_address", "request_id", "fields", "restored",
			"reason", "chain_prev", "chain_hash",
		})
		for i, e := range entries {
			rows.AddRow(
				int64(i+1), e.OperationID, e.Timestamp, string(e.Action), string(e.Outcome),
				e.ResourceType, e.ResourceID, e.ActorID, e.ActorRole,
				e.OriginAddress, e.RequestID, []byte(`null`), []byte(`null`),
				e.Reason, e.ChainPrev, e.ChainHash,
			)
		}
		return rows
	}

	t.Run("intact chain", func(t *testing.T) {
		writer, mock, db := setupMockWriter(t)
		defer db.Close()

		mock.ExpectQuery("SELECT seq, operation_id, timestamp").
			WillReturnRows(chainRows(first, second))

		report, err := writer.VerifyChain(context.Background())
		require.NoError(t, err)
		assert.True(t, report.Intact)
		assert.Equal(t, int64(2), report.Entries)
	})

	t.Run("broken link", func(t *testing.T) {
		writer, mock, db := setupMockWriter(t)
		defer db.Close()

		tampered := *second
		tampered.ChainPrev = "forged"
		mock.ExpectQuery("SELECT seq, operation_id, timestamp").
			WillReturnRows(chainRows(first, &tampered))

		report, err := writer.VerifyChain(context.Background())
		require.NoError(t, err)
		assert.False(t, report.Intact)
		assert.Equal(t, int64(2), report.BrokenSeq)
	})

	t.Run("tampered content", func(t *testing.T) {
		writer, mock, db := setupMockWriter(t)
		defer db.Close()

		tampered := *second
		tampered.ResourceID = "lead-other"
		mock.ExpectQuery("SELECT seq, operation_id, timestamp").
			WillReturnRows(chainRows(first, &tampered))

		report, err := writer.VerifyChain(context.Background())
		require.NoError(t, err)
		assert.False(t, report.Intact)
		assert.Equal(t, int64(2), report.BrokenSeq)
	})
}

func TestDBWriterErase(t *testing.T) {
	writer, mock, db := setupMockWriter(t)
	defer db.Close()

	erased := &Entry{
		OperationID:  "op-erase-me",
		Timestamp:    time.Now().UTC(),
		Action:       ActionCreate,
		Outcome:      OutcomeSuccess,
		ResourceType: "student",
		ResourceID:   "stu-1",
		ActorRole:    "admin",
	}
	erased.Seal("")
	survivor := &Entry{
		OperationID:  "op-keep",
		Timestamp:    time.Now().UTC(),
		Action:       ActionUpdate,
		Outcome:      OutcomeSuccess,
		ResourceType: "campaign",
		ActorRole:    "manager",
	}
	survivor.Seal(erased.ChainHash)

	columns := []string{
		"seq", "operation_id", "timestamp", "action", "outcome",
		"resource_type", "resource_id", "actor_id", "actor_role",
		"origin_address", "request_id", "fields", "restored",
		"reason", "chain_prev", "chain_hash",
	}
	mock.ExpectQuery("SELECT seq, operation_id, timestamp").
		WithArgs("stu-1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			int64(1), erased.OperationID, erased.Timestamp, string(erased.Action), string(erased.Outcome),
			erased.ResourceType, erased.ResourceID, erased.ActorID, erased.ActorRole,
			erased.OriginAddress, erased.RequestID, []byte(`null`), []byte(`null`),
			erased.Reason, erased.ChainPrev, erased.ChainHash,
		))

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM audit_entries WHERE operation_id").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT seq, operation_id, timestamp").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			int64(2), survivor.OperationID, survivor.Timestamp, string(survivor.Action), string(survivor.Outcome),
			survivor.ResourceType, survivor.ResourceID, survivor.ActorID, survivor.ActorRole,
			survivor.OriginAddress, survivor.RequestID, []byte(`null`), []byte(`null`),
			survivor.Reason, survivor.ChainPrev, survivor.ChainHash,
		))

	// The survivor is re-linked across the gap and its hash recomputed.
	resealed := *survivor
	resealed.ChainPrev = erased.ChainPrev
	mock.ExpectExec("UPDATE audit_entries SET chain_prev").
		WithArgs(erased.ChainPrev, resealed.ComputeChainHash(), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO audit_entries").
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(3))
	mock.ExpectCommit()

	removed, err := writer.Erase(context.Background(), "admin-1", SearchFilter{ResourceID: "stu-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBWriterEraseNoMatch(t *testing.T) {
	writer, mock, db := setupMockWriter(t)
	defer db.Close()

	mock.ExpectQuery("SELECT seq, operation_id, timestamp").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{
			"seq", "operation_id", "timestamp", "action", "outcome",
			"resource_type", "resource_id", "actor_id", "actor_role",
			"origin_address", "request_id", "fields", "restored",
			"reason", "chain_prev", "chain_hash",
		}))

	// Nothing matched: no deletion and no meta entry.
	removed, err := writer.Erase(context.Background(), "admin-1", SearchFilter{ResourceID: "ghost"})
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBWriterEraseRefusesUnconstrained(t *testing.T) {
	writer, mock, db := setupMockWriter(t)
	defer db.Close()

	_, err := writer.Erase(context.Background(), "admin-1", SearchFilter{})
	assert.Error(t, err)

	_, err = writer.Erase(context.Background(), "", SearchFilter{ResourceID: "stu-1"})
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBWriterCleanup(t *testing.T) {
	writer, mock, db := setupMockWriter(t)
	defer db.Close()

	mock.ExpectExec("DELETE FROM audit_entries WHERE timestamp").
		WillReturnResult(sqlmock.NewResult(0, 12))

	removed, err := writer.Cleanup(context.Background(), RetentionPolicy{RetentionDays: 30}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(12), removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBWriterCleanupDisabled(t *testing.T) {
	writer, mock, db := setupMockWriter(t)
	defer db.Close()

	removed, err := writer.Cleanup(context.Background(), RetentionPolicy{}, nil)
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
