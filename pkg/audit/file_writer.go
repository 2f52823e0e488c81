package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileWriter appends audit entries to an NDJSON file. It carries its own
// chain state so a file trail is independently verifiable; entries written
// here and to the database share content but not chain hashes.
type FileWriter struct {
	basePath string
	file     *os.File
	mu       sync.Mutex
	encoder  *json.Encoder
	rotate   bool
	maxSize  int64
	maxFiles int

	lastHash string
	seen     map[string]bool
}

// FileWriterConfig configures the file writer
type FileWriterConfig struct {
	BasePath string
	Rotate   bool
	MaxSize  int64
	MaxFiles int
}

// DefaultFileWriterConfig returns the default file writer configuration
func DefaultFileWriterConfig() FileWriterConfig {
	return FileWriterConfig{
		BasePath: "/var/log/fieldgate/audit",
		Rotate:   true,
		MaxSize:  100 * 1024 * 1024,
		MaxFiles: 10,
	}
}

// NewFileWriter creates a file-based audit writer
func NewFileWriter(config FileWriterConfig) (*FileWriter, error) {
	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	writer := &FileWriter{
		basePath: config.BasePath,
		rotate:   config.Rotate,
		maxSize:  config.MaxSize,
		maxFiles: config.MaxFiles,
		seen:     make(map[string]bool),
	}
	if writer.maxSize == 0 {
		writer.maxSize = 100 * 1024 * 1024
	}
	if writer.maxFiles == 0 {
		writer.maxFiles = 10
	}

	if err := writer.loadTail(); err != nil {
		return nil, err
	}
	if err := writer.openLogFile(); err != nil {
		return nil, err
	}
	return writer, nil
}

// loadTail recovers chain state from the current log file so restarts keep
// extending the same chain.
func (w *FileWriter) loadTail() error {
	entries, err := w.readCurrent(0)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, entry := range entries {
		w.lastHash = entry.ChainHash
		w.seen[entry.OperationID] = true
	}
	return nil
}

func (w *FileWriter) openLogFile() error {
	filename := filepath.Join(w.basePath, "audit.ndjson")

	if w.rotate {
		if info, err := os.Stat(filename); err == nil && info.Size() >= w.maxSize {
			if err := w.rotateFile(); err != nil {
				return fmt.Errorf("failed to rotate log file: %w", err)
			}
		}
	}

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}

	w.file = file
	w.encoder = json.NewEncoder(file)
	return nil
}

func (w *FileWriter) rotateFile() error {
	currentFile := filepath.Join(w.basePath, "audit.ndjson")

	if w.file != nil {
		w.file.Close()
		w.file = nil
	}

	timestamp := time.Now().Format("2006-01-02-15-04-05")
	rotatedFile := filepath.Join(w.basePath, fmt.Sprintf("audit-%s.ndjson", timestamp))

	if err := os.Rename(currentFile, rotatedFile); err != nil {
		return fmt.Errorf("failed to rename log file: %w", err)
	}

	if err := w.cleanupOldFiles(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to cleanup old audit logs: %v\n", err)
	}
	return nil
}

func (w *FileWriter) cleanupOldFiles() error {
	pattern := filepath.Join(w.basePath, "audit-*.ndjson")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}

	// Rotated names embed the timestamp, so lexical order is age order.
	sort.Strings(files)
	if len(files) > w.maxFiles {
		for _, file := range files[:len(files)-w.maxFiles] {
			if err := os.Remove(file); err != nil {
				fmt.Fprintf(os.Stderr, "failed to remove old audit log %s: %v\n", file, err)
			}
		}
	}
	return nil
}

// Append seals the entry onto the file's chain and writes one NDJSON line
func (w *FileWriter) Append(ctx context.Context, entry *Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if entry.OperationID != "" && w.seen[entry.OperationID] {
		return nil
	}

	if w.rotate && w.file != nil {
		if info, err := w.file.Stat(); err == nil && info.Size() >= w.maxSize {
			if err := w.openLogFile(); err != nil {
				return fmt.Errorf("failed to rotate log file: %w", err)
			}
		}
	}

	entry.Seal(w.lastHash)

	if err := w.encoder.Encode(entry); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}

	w.lastHash = entry.ChainHash
	w.seen[entry.OperationID] = true
	return nil
}

// Close closes the file writer
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		err := w.file.Close()
		w.file = nil
		return err
	}
	return nil
}

// ReadEntries reads up to count entries from the current log file; count 0
// reads everything.
func (w *FileWriter) ReadEntries(count int) ([]*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.readCurrent(count)
}

func (w *FileWriter) readCurrent(count int) ([]*Entry, error) {
	filename := filepath.Join(w.basePath, "audit.ndjson")

	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var entries []*Entry
	decoder := json.NewDecoder(file)
	for {
		var entry Entry
		if err := decoder.Decode(&entry); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("failed to decode audit entry: %w", err)
		}
		entries = append(entries, &entry)
		if count > 0 && len(entries) >= count {
			break
		}
	}
	return entries, nil
}
