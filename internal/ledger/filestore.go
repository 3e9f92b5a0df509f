package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/MikeSquared-Agency/bclparser/internal/calendar"
	"github.com/MikeSquared-Agency/bclparser/internal/catalog"
)

// DefaultFilePath is where the desktop build keeps its ledger.
const DefaultFilePath = "~/.bcl-parser/ledger.json"

type dayKey struct {
	table catalog.TableID
	date  calendar.Date
}

// FileStore keeps the ledger in a JSON file. Every upsert rewrites the file
// through a temp file and rename, so a crash leaves either the old or the
// new ledger on disk.
type FileStore struct {
	mu   sync.Mutex
	path string
	days map[dayKey]DayRecord
}

type fileLedger struct {
	Days []DayRecord `json:"days"`
}

// OpenFileStore loads the ledger at path, or starts an empty one if the
// file does not exist yet.
func OpenFileStore(path string) (*FileStore, error) {
	p := expandHome(path)
	fs := &FileStore{path: p, days: make(map[dayKey]DayRecord)}

	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return fs, nil
		}
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	var doc fileLedger
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse ledger: %w", err)
	}
	for _, rec := range doc.Days {
		fs.days[dayKey{rec.Table, rec.Date}] = rec
	}
	return fs, nil
}

func (s *FileStore) Upsert(_ context.Context, rec DayRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dayKey{rec.Table, rec.Date}
	prev, had := s.days[key]
	s.days[key] = rec
	if err := s.save(); err != nil {
		if had {
			s.days[key] = prev
		} else {
			delete(s.days, key)
		}
		return err
	}
	return nil
}

func (s *FileStore) Dates(_ context.Context, table catalog.TableID, from, to calendar.Date) ([]calendar.Date, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []calendar.Date
	for k := range s.days {
		if k.table == table && !k.date.Before(from) && !k.date.After(to) {
			out = append(out, k.date)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (s *FileStore) Latest(_ context.Context, table catalog.TableID) (calendar.Date, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest calendar.Date
	found := false
	for k := range s.days {
		if k.table == table && (!found || k.date.After(latest)) {
			latest = k.date
			found = true
		}
	}
	return latest, found, nil
}

func (s *FileStore) Delete(_ context.Context, table catalog.TableID, from, to calendar.Date) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make(map[dayKey]DayRecord)
	for k, rec := range s.days {
		if k.table != table {
			continue
		}
		if (!from.IsZero() && k.date.Before(from)) || (!to.IsZero() && k.date.After(to)) {
			continue
		}
		removed[k] = rec
	}
	if len(removed) == 0 {
		return 0, nil
	}

	for k := range removed {
		delete(s.days, k)
	}
	if err := s.save(); err != nil {
		for k, rec := range removed {
			s.days[k] = rec
		}
		return 0, err
	}
	return len(removed), nil
}

func (s *FileStore) save() error {
	doc := fileLedger{Days: make([]DayRecord, 0, len(s.days))}
	for _, rec := range s.days {
		doc.Days = append(doc.Days, rec)
	}
	sort.Slice(doc.Days, func(i, j int) bool {
		a, b := doc.Days[i], doc.Days[j]
		if a.Table != b.Table {
			return a.Table < b.Table
		}
		return a.Date.Before(b.Date)
	})

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}

func expandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
