package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Action is the operation category an entry records
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionErase  Action = "erase"
	ActionDenied Action = "denied"
)

// Outcome is the result recorded for an operation
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeBlocked Outcome = "blocked"
)

// RestoredField records an immutable field whose submitted value was
// discarded. Only a hash of the attempted value is kept, never the value.
type RestoredField struct {
	Name        string `json:"name"`
	AttemptHash string `json:"attempt_hash"`
}

// Entry is a single audit record. Entries carry field NAMES and hashes only;
// field values never enter the audit trail.
type Entry struct {
	Seq         int64     `json:"seq"`
	OperationID string    `json:"operation_id"`
	Timestamp   time.Time `json:"timestamp"`

	Action  Action  `json:"action"`
	Outcome Outcome `json:"outcome"`

	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id,omitempty"`

	ActorID       string `json:"actor_id,omitempty"`
	ActorRole     string `json:"actor_role"`
	OriginAddress string `json:"origin_address,omitempty"`
	RequestID     string `json:"request_id,omitempty"`

	// Fields lists the field names the operation touched or was denied on.
	Fields []string `json:"fields,omitempty"`

	// Restored lists immutable fields the guard silently reverted.
	Restored []RestoredField `json:"restored,omitempty"`

	// Reason is a short machine-readable code for denials and failures.
	Reason string `json:"reason,omitempty"`

	// Hash chain. ChainPrev is the previous entry's ChainHash; the first
	// entry chains from the empty string.
	ChainPrev string `json:"chain_prev"`
	ChainHash string `json:"chain_hash"`
}

// ToJSON serializes the entry
func (e *Entry) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an entry from JSON
func FromJSON(data []byte) (*Entry, error) {
	var entry Entry
	err := json.Unmarshal(data, &entry)
	return &entry, err
}

// ComputeChainHash derives the entry's chain hash from its content and the
// previous hash. Seq and ChainHash itself are excluded so the hash is stable
// across storage backends.
func (e *Entry) ComputeChainHash() string {
	var b strings.Builder
	b.WriteString(e.ChainPrev)
	b.WriteString("|")
	b.WriteString(e.OperationID)
	b.WriteString("|")
	b.WriteString(e.Timestamp.UTC().Format(time.RFC3339Nano))
	b.WriteString("|")
	b.WriteString(string(e.Action))
	b.WriteString("|")
	b.WriteString(string(e.Outcome))
	b.WriteString("|")
	b.WriteString(e.ResourceType)
	b.WriteString("|")
	b.WriteString(e.ResourceID)
	b.WriteString("|")
	b.WriteString(e.ActorID)
	b.WriteString("|")
	b.WriteString(e.ActorRole)
	b.WriteString("|")
	b.WriteString(e.OriginAddress)
	b.WriteString("|")
	b.WriteString(strings.Join(e.Fields, ","))
	b.WriteString("|")
	for _, r := range e.Restored {
		b.WriteString(r.Name)
		b.WriteString("=")
		b.WriteString(r.AttemptHash)
		b.WriteString(";")
	}
	b.WriteString("|")
	b.WriteString(e.Reason)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Seal sets the chain pointers and timestamp defaults on a new entry
func (e *Entry) Seal(prev string) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.OperationID == "" {
		e.OperationID = NewOperationID()
	}
	sort.Strings(e.Fields)
	e.ChainPrev = prev
	e.ChainHash = e.ComputeChainHash()
}

// NewOperationID returns a fresh idempotency key for an operation
func NewOperationID() string {
	return uuid.NewString()
}

// AttemptHash hashes an attempted field value for the audit trail. The raw
// value is unrecoverable from the entry.
func AttemptHash(value interface{}) string {
	data, err := json.Marshal(value)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", value))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SearchFilter narrows an audit query. Zero values mean no constraint.
type SearchFilter struct {
	StartTime *time.Time
	EndTime   *time.Time

	Actions []Action
	Outcome *Outcome

	ResourceType string
	ResourceID   string
	ActorID      string
	ActorRole    string
	OperationID  string

	Limit  int
	Offset int
}

// ExportFormat selects the serialization used by Export
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson"
)

// Stats summarizes the audit trail over an optional time range
type Stats struct {
	TotalEntries   int64             `json:"total_entries"`
	ByAction       map[Action]int64  `json:"by_action"`
	ByOutcome      map[Outcome]int64 `json:"by_outcome"`
	ByResourceType map[string]int64  `json:"by_resource_type"`
	UniqueActors   int64             `json:"unique_actors"`
	Denials        int64             `json:"denials"`
	RestoredWrites int64             `json:"restored_writes"`
	TimeRange      *TimeRange        `json:"time_range,omitempty"`
}

// TimeRange bounds a statistics query
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// RetentionPolicy controls how long entries are kept and whether expired
// entries are archived before removal.
type RetentionPolicy struct {
	RetentionDays  int
	ArchiveEnabled bool
}

// DefaultRetentionPolicy keeps entries for seven years, the horizon required
// for consent provenance.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		RetentionDays:  2555,
		ArchiveEnabled: true,
	}
}
