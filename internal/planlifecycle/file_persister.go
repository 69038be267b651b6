package planlifecycle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aristath/sentinel-trader/internal/domain"
)

// FilePersister writes the durable plan file spec.md §6.3 describes: one
// JSON file per generated plan, named proposed_trades_YYYY-MM-DD.json,
// overwritten on re-approval, never deleted by the core. The on-disk file
// is the source of truth for cross-process execution; any in-memory plan
// object a caller holds is a convenience cache only (SPEC_FULL.md §9 Open
// Question resolution).
type FilePersister struct {
	Dir      string
	DateKey  func() string // market-zone YYYY-MM-DD; injected so tests control it
}

// Persist writes the plan atomically (temp file + rename), matching the
// Message Bus's own durability pattern (spec.md §4.1).
func (p FilePersister) Persist(plan *domain.TradingPlan) error {
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return fmt.Errorf("plan directory not writable: %w", err)
	}
	encoded, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	final := filepath.Join(p.Dir, fmt.Sprintf("proposed_trades_%s.json", p.DateKey()))
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o644); err != nil {
		return fmt.Errorf("write plan file: %w", err)
	}
	return os.Rename(tmp, final)
}

// Load reads the most recently persisted plan for a given date, or nil if
// none exists yet — used by `run --mode=execute` to recover the source of
// truth across process boundaries.
func Load(dir, dateKey string) (*domain.TradingPlan, error) {
	path := filepath.Join(dir, fmt.Sprintf("proposed_trades_%s.json", dateKey))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	var plan domain.TradingPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("decode plan file: %w", err)
	}
	return &plan, nil
}
