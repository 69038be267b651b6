package store

import (
	"database/sql"
	"time"

	"github.com/aristath/sentinel-trader/internal/domain"
	"github.com/aristath/sentinel-trader/internal/errs"
)

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// SessionRepository persists TradingSession rows (owned by guardrails, C4).
type SessionRepository struct{ db *DB }

func NewSessionRepository(db *DB) *SessionRepository { return &SessionRepository{db: db} }

// Upsert writes or replaces a session row. Critical writes (plan_executed_at)
// are fatal on failure per spec.md §7 StorageError semantics; the caller
// decides fatality by how it handles the returned error.
func (r *SessionRepository) Upsert(s domain.TradingSession) error {
	var planGen, planExec sql.NullString
	if s.PlanGeneratedAt != nil {
		planGen = sql.NullString{String: formatTime(*s.PlanGeneratedAt), Valid: true}
	}
	if s.PlanExecutedAt != nil {
		planExec = sql.NullString{String: formatTime(*s.PlanExecutedAt), Valid: true}
	}
	var tradesSubmitted sql.NullInt64
	if s.TradesSubmitted != nil {
		tradesSubmitted = sql.NullInt64{Int64: int64(*s.TradesSubmitted), Valid: true}
	}

	err := WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		_, execErr := tx.Exec(`
			INSERT INTO trading_sessions
				(session_id, date, plan_generated_at, plan_executed_at, market_status,
				 trades_submitted, user_override, circuit_breaker_level, notes, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET
				plan_generated_at=excluded.plan_generated_at,
				plan_executed_at=excluded.plan_executed_at,
				market_status=excluded.market_status,
				trades_submitted=excluded.trades_submitted,
				user_override=excluded.user_override,
				circuit_breaker_level=excluded.circuit_breaker_level,
				notes=excluded.notes
		`, s.SessionID, s.Date, planGen, planExec, string(s.MarketStatus),
			tradesSubmitted, s.UserOverride, string(s.CircuitBreakerLevel), s.Notes, formatTime(s.CreatedAt))
		return execErr
	})
	if err != nil {
		return &errs.StorageError{Op: "session.upsert", Fatal: true, Err: err}
	}
	return nil
}

// ForDate returns the (at most one, per invariant) session that has
// transitioned past DRAFT for the given market-zone date, or nil.
func (r *SessionRepository) ForDate(date string) (*domain.TradingSession, error) {
	row := r.db.Conn().QueryRow(`
		SELECT session_id, date, plan_generated_at, plan_executed_at, market_status,
		       trades_submitted, user_override, circuit_breaker_level, notes, created_at
		FROM trading_sessions WHERE date = ? ORDER BY created_at DESC LIMIT 1
	`, date)
	return scanSession(row)
}

// ExecutedToday reports whether any session for `date` already has
// plan_executed_at set — the heart of the once-per-day execution gate (P7).
func (r *SessionRepository) ExecutedToday(date string) (bool, error) {
	var count int
	err := r.db.Conn().QueryRow(`
		SELECT COUNT(*) FROM trading_sessions WHERE date = ? AND plan_executed_at IS NOT NULL
	`, date).Scan(&count)
	if err != nil {
		return false, &errs.StorageError{Op: "session.executed_today", Err: err}
	}
	return count > 0, nil
}

func scanSession(row *sql.Row) (*domain.TradingSession, error) {
	var s domain.TradingSession
	var planGen, planExec sql.NullString
	var tradesSubmitted sql.NullInt64
	var createdAt string
	err := row.Scan(&s.SessionID, &s.Date, &planGen, &planExec, &s.MarketStatus,
		&tradesSubmitted, &s.UserOverride, &s.CircuitBreakerLevel, &s.Notes, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &errs.StorageError{Op: "session.scan", Err: err}
	}
	if planGen.Valid {
		t, perr := parseTime(planGen.String)
		if perr == nil {
			s.PlanGeneratedAt = &t
		}
	}
	if planExec.Valid {
		t, perr := parseTime(planExec.String)
		if perr == nil {
			s.PlanExecutedAt = &t
		}
	}
	if tradesSubmitted.Valid {
		n := int(tradesSubmitted.Int64)
		s.TradesSubmitted = &n
	}
	if t, perr := parseTime(createdAt); perr == nil {
		s.CreatedAt = t
	}
	return &s, nil
}

// DecisionRepository persists the decisions table.
type DecisionRepository struct{ db *DB }

func NewDecisionRepository(db *DB) *DecisionRepository { return &DecisionRepository{db: db} }

// Decision is a row in the decisions table (audit trail for a scored ticker).
type Decision struct {
	ID            string
	Timestamp     time.Time
	Ticker        domain.Ticker
	Decision      string
	Conviction    string
	Rationale     string
	LatestPrice   float64
	MarketContext string
}

func (r *DecisionRepository) Insert(d Decision) error {
	_, err := r.db.Conn().Exec(`
		INSERT INTO decisions (id, timestamp, ticker, decision, conviction, rationale, latest_price, market_context)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, formatTime(d.Timestamp), string(d.Ticker), d.Decision, d.Conviction, d.Rationale, d.LatestPrice, d.MarketContext)
	if err != nil {
		return &errs.StorageError{Op: "decision.insert", Err: err}
	}
	return nil
}

// TradeRepository persists the trades table.
type TradeRepository struct{ db *DB }

func NewTradeRepository(db *DB) *TradeRepository { return &TradeRepository{db: db} }

// TradeStatus enumerates the allowed trades.status values (spec.md §4.2).
type TradeStatus string

const (
	TradeApproved        TradeStatus = "approved"
	TradeSubmitted       TradeStatus = "submitted"
	TradeFilled          TradeStatus = "filled"
	TradePartial         TradeStatus = "partial"
	TradeCancelled       TradeStatus = "cancelled"
	TradeExecutionFailed TradeStatus = "execution_failed"
)

// TradeRow is a row in the trades table.
type TradeRow struct {
	ID            string
	DecisionID    string
	Timestamp     time.Time
	Ticker        domain.Ticker
	Side          domain.TradeSide
	Quantity      float64
	Status        TradeStatus
	BrokerOrderID string
}

func (r *TradeRepository) Insert(t TradeRow) error {
	var decisionID sql.NullString
	if t.DecisionID != "" {
		decisionID = sql.NullString{String: t.DecisionID, Valid: true}
	}
	var orderID sql.NullString
	if t.BrokerOrderID != "" {
		orderID = sql.NullString{String: t.BrokerOrderID, Valid: true}
	}
	_, err := r.db.Conn().Exec(`
		INSERT INTO trades (id, decision_id, timestamp, ticker, side, quantity, status, broker_order_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, decisionID, formatTime(t.Timestamp), string(t.Ticker), string(t.Side), t.Quantity, string(t.Status), orderID)
	if err != nil {
		return &errs.StorageError{Op: "trade.insert", Err: err}
	}
	return nil
}

func (r *TradeRepository) UpdateStatus(id string, status TradeStatus, brokerOrderID string) error {
	var orderID sql.NullString
	if brokerOrderID != "" {
		orderID = sql.NullString{String: brokerOrderID, Valid: true}
	}
	_, err := r.db.Conn().Exec(`UPDATE trades SET status = ?, broker_order_id = COALESCE(?, broker_order_id) WHERE id = ?`,
		string(status), orderID, id)
	if err != nil {
		return &errs.StorageError{Op: "trade.update_status", Err: err}
	}
	return nil
}

// SnapshotRepository persists append-only portfolio_snapshots rows.
type SnapshotRepository struct{ db *DB }

func NewSnapshotRepository(db *DB) *SnapshotRepository { return &SnapshotRepository{db: db} }

func (r *SnapshotRepository) Insert(s domain.PortfolioSnapshot) error {
	_, err := r.db.Conn().Exec(`
		INSERT INTO portfolio_snapshots
			(snapshot_id, timestamp, total_value, cash_balance, equity_value, buying_power,
			 margin_used, positions_count, daily_pl, daily_pl_pct, spy_close, spy_change_pct, source, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.SnapshotID, formatTime(s.Timestamp), s.TotalValue, s.CashBalance, s.EquityValue, s.BuyingPower,
		nullFloat(s.MarginUsed), s.PositionsCount, s.DailyPL, s.DailyPLPct,
		nullFloat(s.SPYClose), nullFloat(s.SPYChangePct), s.Source, s.Notes)
	if err != nil {
		// Transient write per §7: snapshots are logged and dropped, never fatal.
		return &errs.StorageError{Op: "snapshot.insert", Fatal: false, Err: err}
	}
	return nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// EntryDateRepository owns the entry_dates table (C10, Realism Simulator).
type EntryDateRepository struct{ db *DB }

func NewEntryDateRepository(db *DB) *EntryDateRepository { return &EntryDateRepository{db: db} }

func (r *EntryDateRepository) Upsert(e domain.EntryDate) error {
	_, err := r.db.Conn().Exec(`
		INSERT INTO entry_dates (ticker, entry_date, shares, entry_price, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(ticker) DO UPDATE SET
			entry_date=excluded.entry_date, shares=excluded.shares,
			entry_price=excluded.entry_price, updated_at=excluded.updated_at
	`, string(e.Ticker), formatTime(e.EntryDate), e.Shares, e.EntryPrice, formatTime(e.UpdatedAt))
	if err != nil {
		return &errs.StorageError{Op: "entry_date.upsert", Err: err}
	}
	return nil
}

func (r *EntryDateRepository) Delete(ticker domain.Ticker) error {
	_, err := r.db.Conn().Exec(`DELETE FROM entry_dates WHERE ticker = ?`, string(ticker))
	if err != nil {
		return &errs.StorageError{Op: "entry_date.delete", Err: err}
	}
	return nil
}

func (r *EntryDateRepository) Get(ticker domain.Ticker) (*domain.EntryDate, error) {
	row := r.db.Conn().QueryRow(`SELECT ticker, entry_date, shares, entry_price, updated_at FROM entry_dates WHERE ticker = ?`, string(ticker))
	var e domain.EntryDate
	var t string
	var entryDate, updatedAt string
	err := row.Scan(&t, &entryDate, &e.Shares, &e.EntryPrice, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &errs.StorageError{Op: "entry_date.get", Err: err}
	}
	e.Ticker = domain.Ticker(t)
	if v, perr := parseTime(entryDate); perr == nil {
		e.EntryDate = v
	}
	if v, perr := parseTime(updatedAt); perr == nil {
		e.UpdatedAt = v
	}
	return &e, nil
}

// RegimeRepository persists market_regime_assessments rows (SPEC_FULL §C.2).
type RegimeRepository struct{ db *DB }

func NewRegimeRepository(db *DB) *RegimeRepository { return &RegimeRepository{db: db} }

// RegimeAssessment mirrors the market_regime_assessments row shape.
type RegimeAssessment struct {
	AssessmentID   string
	Date           string
	Timestamp      time.Time
	SPYPrice       *float64
	SPYChangePct   *float64
	VIXLevel       *float64
	VIXChangePct   *float64
	Regime         string
	Confidence     float64
	Recommendation string
	Reasoning      string
}

func (r *RegimeRepository) Insert(a RegimeAssessment) error {
	_, err := r.db.Conn().Exec(`
		INSERT INTO market_regime_assessments
			(assessment_id, date, timestamp, spy_price, spy_change_pct, vix_level, vix_change_pct,
			 regime, confidence, recommendation, reasoning)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.AssessmentID, a.Date, formatTime(a.Timestamp), nullFloat(a.SPYPrice), nullFloat(a.SPYChangePct),
		nullFloat(a.VIXLevel), nullFloat(a.VIXChangePct), a.Regime, a.Confidence, a.Recommendation, a.Reasoning)
	if err != nil {
		return &errs.StorageError{Op: "regime.insert", Err: err}
	}
	return nil
}
