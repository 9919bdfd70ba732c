package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/marcusvale/equityscore/pkg/types"
	"go.uber.org/zap"
)

// FileStore caches bar history to and from JSON files on disk, falling
// back to a SyntheticProvider to backfill symbols it has never seen —
// adapted from the teacher's JSON-file-per-symbol data store.
type FileStore struct {
	mu       sync.RWMutex
	logger   *zap.Logger
	dataDir  string
	cache    map[string][]types.Bar
	metadata map[string]*SymbolMetadata
	fallback *SyntheticProvider
	quality  *DataQualityValidator
}

// SymbolMetadata records what history is available on disk for a symbol.
type SymbolMetadata struct {
	Symbol    string    `json:"symbol"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	BarCount  int       `json:"barCount"`
}

// NewFileStore creates a FileStore rooted at dataDir, creating it if
// necessary.
func NewFileStore(logger *zap.Logger, dataDir string) (*FileStore, error) {
	s := &FileStore{
		logger:   logger,
		dataDir:  dataDir,
		cache:    make(map[string][]types.Bar),
		metadata: make(map[string]*SymbolMetadata),
		fallback: NewSyntheticProvider(),
		quality:  NewStockDataQualityValidator(logger),
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := s.loadMetadata(); err != nil {
		logger.Warn("failed to load symbol metadata", zap.Error(err))
	}
	return s, nil
}

func (s *FileStore) Variant() string { return "filestore+synthetic-fallback" }

// History returns bars in [start, end], reading from disk cache first
// and synthesizing (but not persisting) data for unseen symbols.
func (s *FileStore) History(ctx context.Context, symbol string, start, end time.Time) ([]types.Bar, error) {
	bars, err := s.load(symbol)
	if err != nil {
		return nil, err
	}
	return filterRange(bars, start, end), nil
}

// Comprehensive loads bars from disk (or synthesizes them), truncates
// strictly to asOf, and derives indicators/fundamentals from that
// truncated history — this is the point-in-time discipline spec §3
// requires.
func (s *FileStore) Comprehensive(ctx context.Context, symbol string, asOf time.Time) (*types.DataBundle, error) {
	bars, err := s.load(symbol)
	if err != nil {
		return nil, err
	}
	if !asOf.IsZero() {
		bars = truncateAsOf(bars, asOf)
	} else if len(bars) > 0 {
		asOf = bars[len(bars)-1].Date
	}
	bundle := &types.DataBundle{
		Symbol:     symbol,
		AsOf:       asOf,
		History:    bars,
		Indicators: computeIndicators(bars),
		Info:       s.fallback.syntheticFundamentals(symbol, bars),
	}
	return bundle, nil
}

func truncateAsOf(bars []types.Bar, asOf time.Time) []types.Bar {
	idx := sort.Search(len(bars), func(i int) bool { return bars[i].Date.After(asOf) })
	return bars[:idx]
}

func filterRange(bars []types.Bar, start, end time.Time) []types.Bar {
	var out []types.Bar
	for _, b := range bars {
		if (b.Date.Equal(start) || b.Date.After(start)) && (b.Date.Equal(end) || b.Date.Before(end)) {
			out = append(out, b)
		}
	}
	return out
}

func (s *FileStore) load(symbol string) ([]types.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.cache[symbol]; ok {
		return cached, nil
	}

	filename := filepath.Join(s.dataDir, symbol+".json")
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info("no on-disk history, synthesizing", zap.String("symbol", symbol))
			bars := s.fallback.generateBars(symbol, time.Now().AddDate(-2, 0, 0), time.Now())
			s.cache[symbol] = bars
			return bars, nil
		}
		return nil, fmt.Errorf("failed to read history file: %w", err)
	}

	var bars []types.Bar
	if err := json.Unmarshal(data, &bars); err != nil {
		return nil, fmt.Errorf("failed to parse history file: %w", err)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })

	pointers := make([]*types.Bar, len(bars))
	for i := range bars {
		pointers[i] = &bars[i]
	}
	if report := s.quality.Validate(pointers, symbol); !report.IsUsable {
		s.logger.Warn("on-disk history failed quality validation",
			zap.String("symbol", symbol),
			zap.Int("qualityScore", report.QualityScore),
			zap.Int("issues", len(report.Issues)),
		)
	}

	s.cache[symbol] = bars
	return bars, nil
}

// SaveHistory persists bars for symbol to disk and updates metadata.
func (s *FileStore) SaveHistory(symbol string, bars []types.Bar) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	filename := filepath.Join(s.dataDir, symbol+".json")
	data, err := json.MarshalIndent(bars, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write history file: %w", err)
	}
	s.cache[symbol] = bars
	if len(bars) > 0 {
		s.metadata[symbol] = &SymbolMetadata{
			Symbol:    symbol,
			StartDate: bars[0].Date,
			EndDate:   bars[len(bars)-1].Date,
			BarCount:  len(bars),
		}
	}
	return s.saveMetadata()
}

// AvailableSymbols returns every symbol with a metadata entry.
func (s *FileStore) AvailableSymbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.metadata))
	for sym := range s.metadata {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (s *FileStore) loadMetadata() error {
	filename := filepath.Join(s.dataDir, "metadata.json")
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var metadata map[string]*SymbolMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return err
	}
	s.metadata = metadata
	return nil
}

func (s *FileStore) saveMetadata() error {
	filename := filepath.Join(s.dataDir, "metadata.json")
	data, err := json.MarshalIndent(s.metadata, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

// ClearCache drops the in-memory bar cache.
func (s *FileStore) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string][]types.Bar)
}
