package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// DefaultMaxJournalSize bounds a journal file before rotation (10MB).
	DefaultMaxJournalSize = 10 * 1024 * 1024
	journalExtension      = ".jsonl"
	archiveDir            = "archive"
)

// JournalEntry is one appended record of an engine event.
type JournalEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	EventType string         `json:"event_type"`
	EntityID  string         `json:"entity_id,omitempty"`
	ActionID  string         `json:"action_id,omitempty"`
	Version   int            `json:"version,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Journal appends engine events to a JSONL file with size-based rotation.
// Wire it to a bus with SubscribeAll(journal.Record).
type Journal struct {
	mu          sync.Mutex
	file        *os.File
	currentSize int64
	maxSize     int64
	path        string
}

// NewJournal creates a journal writing to path, rotating at maxSize bytes.
func NewJournal(path string, maxSize int64) (*Journal, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxJournalSize
	}

	j := &Journal{path: path, maxSize: maxSize}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	if err := j.openFile(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Journal) openFile() error {
	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat journal: %w", err)
	}
	j.file = file
	j.currentSize = stat.Size()
	return nil
}

// Record appends one event. Matches the Subscriber signature so it can be
// passed directly to Bus.SubscribeAll; write errors are swallowed there, so
// callers needing the error should use WriteEntry.
func (j *Journal) Record(e Event) {
	_ = j.WriteEntry(&JournalEntry{
		Timestamp: e.Timestamp,
		EventType: string(e.Type),
		EntityID:  e.EntityID,
		ActionID:  e.ActionID,
		Version:   e.Version,
		Details:   e.Data,
	})
}

// WriteEntry appends one entry, rotating first if the file would exceed the
// size bound.
func (j *Journal) WriteEntry(entry *JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	data = append(data, '\n')

	if j.currentSize+int64(len(data)) > j.maxSize {
		if err := j.rotate(); err != nil {
			return fmt.Errorf("rotate journal: %w", err)
		}
	}

	n, err := j.file.Write(data)
	if err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	j.currentSize += int64(n)
	return nil
}

func (j *Journal) rotate() error {
	if err := j.file.Close(); err != nil {
		return fmt.Errorf("close journal: %w", err)
	}

	dir := filepath.Join(filepath.Dir(j.path), archiveDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}

	base := filepath.Base(j.path)
	name := fmt.Sprintf("%s.%s%s",
		base[:len(base)-len(journalExtension)],
		time.Now().UTC().Format("20060102T150405Z"),
		journalExtension)
	if err := os.Rename(j.path, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("archive journal: %w", err)
	}

	return j.openFile()
}

// Close syncs and closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}
	if err := j.file.Sync(); err != nil {
		return err
	}
	return j.file.Close()
}
