package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Journal is an append-only log of committed operations, one JSON object per line
// It is an audit trail; Pebble remains the source of truth on restart.
type Journal interface {
	Append(op string, data any) error
}

type NopJournal struct{}

func NewNopJournal() *NopJournal                   { return &NopJournal{} }
func (j *NopJournal) Append(_ string, _ any) error { return nil }

type journalLine struct {
	Time time.Time `json:"time"`
	Op   string    `json:"op"`
	Data any       `json:"data,omitempty"`
}

type FileJournal struct {
	mu  sync.Mutex
	f   *os.File
	now func() time.Time
}

func NewFileJournal(path string) (*FileJournal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileJournal{f: f, now: time.Now}, nil
}

func (j *FileJournal) Append(op string, data any) error {
	line, err := json.Marshal(journalLine{Time: j.now().UTC(), Op: op, Data: data})
	if err != nil {
		return fmt.Errorf("journal %s: %w", op, err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	_, err = fmt.Fprintln(j.f, string(line))
	return err
}

func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

var _ Journal = (*NopJournal)(nil)
var _ Journal = (*FileJournal)(nil)
