// Package runstore persists backtest results as one JSON file per run
// plus an in-memory LRU index, evicting the least-recently-touched run once the
// configured capacity is exceeded (spec's Persisted Run Store, C10).
//
// Grounded in internal/provider/store.go's JSON-file-plus-metadata-index
// pattern (FileStore.load/SaveHistory/loadMetadata/saveMetadata) and
// internal/cache's container/list LRU, neither of which the teacher
// repo's in-memory-map-of-results has any equivalent for.
package runstore

import (
	"container/list"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marcusvale/equityscore/pkg/types"
)

// Summary is the lightweight index entry returned by List, avoiding a
// full result load (and its EquityCurve/Trades payload) for listing.
type Summary struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
	Universe    []string  `json:"universe"`
}

// Store persists BacktestResult records to dataDir, one
// "<id>.json" file each, with an in-memory LRU index bounded to
// Capacity runs. Eviction removes both the index entry and its file.
type Store struct {
	mu       sync.Mutex
	logger   *zap.Logger
	dataDir  string
	capacity int

	items map[string]*list.Element
	order *list.List // front = most recently touched
}

type indexEntry struct {
	summary Summary
}

// New constructs a Store rooted at cfg.Dir, creating the directory if
// necessary and loading any existing run index from disk.
func New(logger *zap.Logger, cfg types.RunStoreConfig) (*Store, error) {
	if cfg.Dir == "" || cfg.Capacity <= 0 {
		cfg = types.DefaultRunStoreConfig()
	}
	s := &Store{
		logger:   logger,
		dataDir:  cfg.Dir,
		capacity: cfg.Capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run store directory: %w", err)
	}
	if err := s.loadIndex(); err != nil && logger != nil {
		logger.Warn("failed to load run index, starting empty", zap.Error(err))
	}
	return s, nil
}

// Save persists result, indexing it as the most-recently-touched run.
// If this insertion pushes the store above capacity, the
// least-recently-touched run is evicted (index entry and file both
// removed).
func (s *Store) Save(result types.BacktestResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal backtest result: %w", err)
	}
	if err := os.WriteFile(s.runPath(result.ID), data, 0644); err != nil {
		return fmt.Errorf("failed to write backtest result: %w", err)
	}

	summary := summaryOf(result)
	if el, ok := s.items[result.ID]; ok {
		el.Value.(*indexEntry).summary = summary
		s.order.MoveToFront(el)
	} else {
		el := s.order.PushFront(&indexEntry{summary: summary})
		s.items[result.ID] = el
	}

	for s.order.Len() > s.capacity {
		oldest := s.order.Back()
		if oldest == nil {
			break
		}
		s.evict(oldest)
	}

	return s.saveIndex()
}

// Get loads the full BacktestResult for id, or (zero, false) if it is
// unknown or was evicted.
func (s *Store) Get(id string) (types.BacktestResult, bool) {
	s.mu.Lock()
	el, ok := s.items[id]
	if ok {
		s.order.MoveToFront(el)
	}
	s.mu.Unlock()
	if !ok {
		return types.BacktestResult{}, false
	}

	data, err := os.ReadFile(s.runPath(id))
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("run index entry present but file missing", zap.String("id", id), zap.Error(err))
		}
		return types.BacktestResult{}, false
	}
	var result types.BacktestResult
	if err := json.Unmarshal(data, &result); err != nil {
		return types.BacktestResult{}, false
	}
	return result, true
}

// List returns every indexed run's Summary, most-recently-touched
// first.
func (s *Store) List() []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Summary, 0, s.order.Len())
	for el := s.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*indexEntry).summary)
	}
	return out
}

// Len returns the number of indexed runs. Never exceeds Capacity.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// evict must be called with s.mu held.
func (s *Store) evict(el *list.Element) {
	id := el.Value.(*indexEntry).summary.ID
	delete(s.items, id)
	s.order.Remove(el)
	if err := os.Remove(s.runPath(id)); err != nil && !os.IsNotExist(err) && s.logger != nil {
		s.logger.Warn("failed to remove evicted run file", zap.String("id", id), zap.Error(err))
	}
}

func (s *Store) runPath(id string) string {
	return filepath.Join(s.dataDir, id+".json")
}

func (s *Store) indexPath() string {
	return filepath.Join(s.dataDir, "index.json")
}

func summaryOf(result types.BacktestResult) Summary {
	var universe []string
	if result.Config != nil {
		universe = result.Config.Universe
	}
	return Summary{
		ID:          result.ID,
		StartedAt:   result.StartedAt,
		CompletedAt: result.CompletedAt,
		Universe:    universe,
	}
}

// loadIndex reads the persisted summary list and rebuilds the LRU
// order, most-recently-touched first (the index file preserves order
// across restarts rather than reconstructing it from file mtimes).
func (s *Store) loadIndex() error {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var summaries []Summary
	if err := json.Unmarshal(data, &summaries); err != nil {
		return err
	}
	for _, summary := range summaries {
		el := s.order.PushBack(&indexEntry{summary: summary})
		s.items[summary.ID] = el
	}
	return nil
}

// saveIndex must be called with s.mu held.
func (s *Store) saveIndex() error {
	summaries := make([]Summary, 0, s.order.Len())
	for el := s.order.Front(); el != nil; el = el.Next() {
		summaries = append(summaries, el.Value.(*indexEntry).summary)
	}
	data, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.indexPath(), data, 0644)
}
