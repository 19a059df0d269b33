package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/openloot/openloot/pkg/app/core/events"
)

// Journal appends every emitted event to a file as one JSON line.
// It is the audit trail; order state itself lives in the Store.
type Journal struct {
	mu sync.Mutex
	f  *os.File
}

func NewJournal(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Journal{f: f}, nil
}

type journalEntry struct {
	Time  int64        `json:"time"`
	Event string       `json:"event"`
	Data  events.Event `json:"data"`
}

func (j *Journal) Append(e events.Event) error {
	line, err := json.Marshal(journalEntry{
		Time:  time.Now().UnixMilli(),
		Event: e.Name(),
		Data:  e,
	})
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	fmt.Fprintln(j.f, string(line))
	return nil
}

// Run drains an event subscription into the journal until ctx is done.
func (j *Journal) Run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			_ = j.Append(e)
		}
	}
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}
