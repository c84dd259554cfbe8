package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pbaumgartner/ivcrush/internal/models"
)

// storageData is the on-disk layout: scan date -> ticker -> record.
type storageData struct {
	Decisions     map[string]map[string]models.TradeDecision `json:"decisions"`
	EarningsDates map[string]map[string]time.Time            `json:"earnings_dates"`
	UpdatedAt     time.Time                                  `json:"updated_at"`
}

// JSONStorage persists decisions to a single JSON file. Writes go through a
// temp file and an atomic rename so a crash never leaves a torn file.
type JSONStorage struct {
	mu   sync.RWMutex
	path string
	data storageData
}

var _ Interface = (*JSONStorage)(nil)

// NewJSONStorage opens or creates the storage file at path.
func NewJSONStorage(path string) (*JSONStorage, error) {
	s := &JSONStorage{
		path: path,
		data: storageData{
			Decisions:     make(map[string]map[string]models.TradeDecision),
			EarningsDates: make(map[string]map[string]time.Time),
		},
	}

	raw, err := os.ReadFile(path) // #nosec G304 -- path comes from the operator's config
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading storage file: %w", err)
	}
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("parsing storage file %s: %w", path, err)
	}
	if s.data.Decisions == nil {
		s.data.Decisions = make(map[string]map[string]models.TradeDecision)
	}
	if s.data.EarningsDates == nil {
		s.data.EarningsDates = make(map[string]map[string]time.Time)
	}
	return s, nil
}

// SaveDecision records a ticker's verdict for a scan date.
func (s *JSONStorage) SaveDecision(scanDate string, decision models.TradeDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data.Decisions[scanDate] == nil {
		s.data.Decisions[scanDate] = make(map[string]models.TradeDecision)
	}
	s.data.Decisions[scanDate][decision.Ticker] = decision
	return s.saveLocked()
}

// GetDecision returns the decision for (scanDate, ticker).
func (s *JSONStorage) GetDecision(scanDate, ticker string) (models.TradeDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.data.Decisions[scanDate][ticker]
	if !ok {
		return models.TradeDecision{}, fmt.Errorf("%w: %s/%s", ErrDecisionNotFound, scanDate, ticker)
	}
	return d, nil
}

// DecisionsByDate returns all of a scan date's decisions sorted by ticker.
func (s *JSONStorage) DecisionsByDate(scanDate string) ([]models.TradeDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byTicker := s.data.Decisions[scanDate]
	decisions := make([]models.TradeDecision, 0, len(byTicker))
	for _, d := range byTicker {
		decisions = append(decisions, d)
	}
	sort.Slice(decisions, func(i, j int) bool {
		return decisions[i].Ticker < decisions[j].Ticker
	})
	return decisions, nil
}

// ScanDates returns every scan date with decisions, sorted ascending.
func (s *JSONStorage) ScanDates() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dates := make([]string, 0, len(s.data.Decisions))
	for d := range s.data.Decisions {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates, nil
}

// SaveEarningsDate records the earnings date that gated a ticker's scan.
func (s *JSONStorage) SaveEarningsDate(scanDate, ticker string, earningsDate time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data.EarningsDates[scanDate] == nil {
		s.data.EarningsDates[scanDate] = make(map[string]time.Time)
	}
	s.data.EarningsDates[scanDate][ticker] = earningsDate
	return s.saveLocked()
}

// GetEarningsDate returns the recorded earnings date for (scanDate, ticker).
func (s *JSONStorage) GetEarningsDate(scanDate, ticker string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.data.EarningsDates[scanDate][ticker]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s/%s", ErrEarningsDateNotFound, scanDate, ticker)
	}
	return d, nil
}

// StatsForDate aggregates one scan date's decisions.
func (s *JSONStorage) StatsForDate(scanDate string) (ScanStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := ScanStats{ScanDate: scanDate}
	for _, d := range s.data.Decisions[scanDate] {
		if d.Approved {
			stats.Approved++
			stats.TotalAllocationPct += d.PositionSizePct
		} else {
			stats.Rejected++
		}
	}
	return stats, nil
}

// saveLocked writes the state to disk. Caller holds the write lock.
func (s *JSONStorage) saveLocked() error {
	s.data.UpdatedAt = time.Now()

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling storage data: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating storage directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".decisions-*.json")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing storage file: %w", err)
	}
	return nil
}
