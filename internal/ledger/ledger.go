// Package ledger persists per-stage completion records under the media root.
// It is the single source of truth for "has this item completed stage X":
// acquired and transformed ids live in newline-delimited lists, publish
// completions in a structured JSON record matching the portal upload log.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"mediarelay/internal/domain"
	"mediarelay/internal/ports"
)

const (
	acquiredFile    = "acquired_items.txt"
	transformedFile = "transformed_items.txt"
	publishedFile   = "uploaded_files.json"
)

// publishRecord mirrors the upload log layout the portal tooling expects.
type publishRecord struct {
	UploadedFiles []string `json:"uploaded_files"`
	LastUpdated   string   `json:"last_updated"`
}

// Ledger keeps the full completion state in memory and rewrites the backing
// file synchronously on every update, so a record returned as written
// survives a crash immediately after.
type Ledger struct {
	dir string
	now func() time.Time

	mu        sync.Mutex
	completed map[domain.Stage]map[string]time.Time
}

var _ ports.Ledger = (*Ledger)(nil)

// Open loads existing ledger files from dir, creating the directory if needed.
func Open(dir string) (*Ledger, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("ledger dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}

	l := &Ledger{
		dir: dir,
		now: time.Now,
		completed: map[domain.Stage]map[string]time.Time{
			domain.StageAcquire:   {},
			domain.StageTransform: {},
			domain.StagePublish:   {},
		},
	}

	if err := l.loadList(domain.StageAcquire, acquiredFile); err != nil {
		return nil, err
	}
	if err := l.loadList(domain.StageTransform, transformedFile); err != nil {
		return nil, err
	}
	if err := l.loadPublished(); err != nil {
		return nil, err
	}

	return l, nil
}

func (l *Ledger) loadList(stage domain.Stage, name string) error {
	raw, err := os.ReadFile(filepath.Join(l.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", name, err)
	}

	loadedAt := l.now()
	for _, line := range strings.Split(string(raw), "\n") {
		id := strings.TrimSpace(line)
		if id == "" {
			continue
		}
		l.completed[stage][id] = loadedAt
	}
	return nil
}

func (l *Ledger) loadPublished() error {
	raw, err := os.ReadFile(filepath.Join(l.dir, publishedFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", publishedFile, err)
	}

	var rec publishRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("parse %s: %w", publishedFile, err)
	}

	loadedAt := l.now()
	for _, id := range rec.UploadedFiles {
		if id = strings.TrimSpace(id); id != "" {
			l.completed[domain.StagePublish][id] = loadedAt
		}
	}
	return nil
}

// HasCompleted reports whether (itemID, stage) is already recorded. Pure
// lookup, never fails.
func (l *Ledger) HasCompleted(itemID string, stage domain.Stage) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.completed[stage][itemID]
	return ok
}

// RecordCompletion durably records (itemID, stage). Re-recording an existing
// pair is a successful no-op. On a write failure the in-memory state is
// rolled back so the stage still reads as not completed.
func (l *Ledger) RecordCompletion(itemID string, stage domain.Stage) error {
	if strings.TrimSpace(itemID) == "" {
		return fmt.Errorf("item id is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	stageSet, ok := l.completed[stage]
	if !ok {
		return fmt.Errorf("stage %s is not ledgered", stage)
	}
	if _, exists := stageSet[itemID]; exists {
		return nil
	}

	stageSet[itemID] = l.now()
	if err := l.flushLocked(stage); err != nil {
		delete(stageSet, itemID)
		return domain.NewStageError(stage, domain.KindLedgerWrite, err)
	}
	return nil
}

// ListCompleted returns all recorded ids for a stage, sorted.
func (l *Ledger) ListCompleted(stage domain.Stage) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]string, 0, len(l.completed[stage]))
	for id := range l.completed[stage] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Entries returns full records for a stage for status reporting.
func (l *Ledger) Entries(stage domain.Stage) []domain.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.LedgerEntry, 0, len(l.completed[stage]))
	for id, at := range l.completed[stage] {
		out = append(out, domain.LedgerEntry{ItemID: id, Stage: stage, CompletedAt: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out
}

func (l *Ledger) flushLocked(stage domain.Stage) error {
	switch stage {
	case domain.StageAcquire:
		return l.writeListLocked(stage, acquiredFile)
	case domain.StageTransform:
		return l.writeListLocked(stage, transformedFile)
	case domain.StagePublish:
		return l.writePublishedLocked()
	default:
		return fmt.Errorf("stage %s is not ledgered", stage)
	}
}

func (l *Ledger) writeListLocked(stage domain.Stage, name string) error {
	ids := make([]string, 0, len(l.completed[stage]))
	for id := range l.completed[stage] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	for _, id := range ids {
		b.WriteString(id)
		b.WriteByte('\n')
	}
	return writeFileAtomic(filepath.Join(l.dir, name), []byte(b.String()))
}

func (l *Ledger) writePublishedLocked() error {
	rec := publishRecord{
		UploadedFiles: make([]string, 0, len(l.completed[domain.StagePublish])),
		LastUpdated:   l.now().Format(time.RFC3339),
	}
	for id := range l.completed[domain.StagePublish] {
		rec.UploadedFiles = append(rec.UploadedFiles, id)
	}
	sort.Strings(rec.UploadedFiles)

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal upload log: %w", err)
	}
	return writeFileAtomic(filepath.Join(l.dir, publishedFile), append(data, '\n'))
}
