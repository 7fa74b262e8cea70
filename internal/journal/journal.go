// Package journal persists emitted domain events as an append-only JSONL
// file so the presentation layer can redeliver after an outage.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type Event struct {
	Seq       int64           `json:"seq"`
	Kind      string          `json:"kind"`
	Workspace string          `json:"workspace"`
	TS        string          `json:"ts"`
	Payload   json.RawMessage `json:"payload"`
}

type Journal struct {
	path        string
	maxLen      int
	mu          sync.Mutex
	events      []Event
	nextSeq     int64
	append      *os.File
	lastCompact time.Time
}

func Open(stateDir string, maxLen int) (*Journal, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	j := &Journal{
		path:    filepath.Join(stateDir, "events.jsonl"),
		maxLen:  maxLen,
		nextSeq: 1,
	}
	if err := j.load(); err != nil {
		return nil, err
	}
	if err := j.openAppend(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Journal) load() error {
	file, err := os.Open(j.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		var evt Event
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			continue // Skip corrupt lines
		}
		j.events = append(j.events, evt)
		if evt.Seq >= j.nextSeq {
			j.nextSeq = evt.Seq + 1
		}
	}
	return scanner.Err()
}

func (j *Journal) openAppend() error {
	if j.append != nil {
		return nil
	}
	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open journal for append: %w", err)
	}
	j.append = file
	return nil
}

// Append records one event and returns its sequence number.
func (j *Journal) Append(kind, workspace string, payload any) (int64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal payload: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	evt := Event{
		Seq:       j.nextSeq,
		Kind:      kind,
		Workspace: workspace,
		TS:        time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   data,
	}
	j.nextSeq++

	needsCompact := false
	if len(j.events) >= j.maxLen {
		j.events = j.events[1:]
		needsCompact = true
	}
	j.events = append(j.events, evt)

	if err := j.appendLine(evt); err != nil {
		return 0, err
	}
	if needsCompact {
		if err := j.compact(); err != nil {
			return 0, err
		}
	}
	return evt.Seq, nil
}

func (j *Journal) appendLine(evt Event) error {
	if err := j.openAppend(); err != nil {
		return err
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if _, err := j.append.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

// AckUpto prunes events with seq <= seq, compacting the file when enough was
// removed.
func (j *Journal) AckUpto(seq int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	removed := 0
	kept := make([]Event, 0, len(j.events))
	for _, evt := range j.events {
		if evt.Seq > seq {
			kept = append(kept, evt)
		} else {
			removed++
		}
	}
	j.events = kept
	return j.maybeCompact(removed)
}

func (j *Journal) maybeCompact(removed int) error {
	if removed == 0 {
		return nil
	}
	if time.Since(j.lastCompact) < 30*time.Second && removed < 100 {
		return nil
	}
	if info, err := os.Stat(j.path); err == nil {
		if info.Size() < 5*1024*1024 && removed < 100 {
			return nil
		}
	}
	return j.compact()
}

func (j *Journal) compact() error {
	tmpPath := j.path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create journal file: %w", err)
	}
	for _, evt := range j.events {
		data, err := json.Marshal(evt)
		if err != nil {
			continue
		}
		if _, err := file.Write(append(data, '\n')); err != nil {
			file.Close()
			return err
		}
	}
	if err := file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, j.path); err != nil {
		return err
	}
	if j.append != nil {
		_ = j.append.Close()
		j.append = nil
	}
	j.lastCompact = time.Now()
	return j.openAppend()
}

// Unacked returns every event not yet acknowledged, in order.
func (j *Journal) Unacked() []Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Event, len(j.events))
	copy(out, j.events)
	return out
}

func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.events)
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.append != nil {
		err := j.append.Close()
		j.append = nil
		return err
	}
	return nil
}
