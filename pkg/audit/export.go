package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Export writes entries to w in the requested format
func Export(w io.Writer, entries []*Entry, format ExportFormat) error {
	switch format {
	case ExportFormatJSON:
		return exportJSON(w, entries)
	case ExportFormatNDJSON:
		return exportNDJSON(w, entries)
	case ExportFormatCSV:
		return exportCSV(w, entries)
	default:
		return fmt.Errorf("unsupported export format: %s", format)
	}
}

func exportJSON(w io.Writer, entries []*Entry) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(entries)
}

func exportNDJSON(w io.Writer, entries []*Entry) error {
	encoder := json.NewEncoder(w)
	for _, entry := range entries {
		if err := encoder.Encode(entry); err != nil {
			return err
		}
	}
	return nil
}

func exportCSV(w io.Writer, entries []*Entry) error {
	writer := csv.NewWriter(w)

	header := []string{
		"seq", "operation_id", "timestamp", "action", "outcome",
		"resource_type", "resource_id", "actor_id", "actor_role",
		"origin_address", "request_id", "fields", "restored",
		"reason", "chain_prev", "chain_hash",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, entry := range entries {
		restored := make([]string, 0, len(entry.Restored))
		for _, r := range entry.Restored {
			restored = append(restored, r.Name+"="+r.AttemptHash)
		}

		row := []string{
			strconv.FormatInt(entry.Seq, 10),
			entry.OperationID,
			entry.Timestamp.Format("2006-01-02T15:04:05.999999999Z07:00"),
			string(entry.Action),
			string(entry.Outcome),
			entry.ResourceType,
			entry.ResourceID,
			entry.ActorID,
			entry.ActorRole,
			entry.OriginAddress,
			entry.RequestID,
			strings.Join(entry.Fields, ";"),
			strings.Join(restored, ";"),
			entry.Reason,
			entry.ChainPrev,
			entry.ChainHash,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
