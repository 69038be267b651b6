package monitor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/sentinel-trader/internal/domain"
	"github.com/aristath/sentinel-trader/internal/providers"
	"github.com/aristath/sentinel-trader/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMarketData struct {
	bars []domain.PriceBar
}

func (f fakeMarketData) GetBars(ctx context.Context, ticker domain.Ticker, start, end time.Time) ([]domain.PriceBar, error) {
	return f.bars, nil
}

func (f fakeMarketData) GetFundamentals(ctx context.Context, ticker domain.Ticker) (providers.Fundamentals, error) {
	return providers.Fundamentals{}, nil
}

func flatBars(n int, price float64) []domain.PriceBar {
	out := make([]domain.PriceBar, n)
	for i := range out {
		out[i] = domain.PriceBar{Close: price, High: price + 1, Low: price - 1, Volume: 1_000_000}
	}
	return out
}

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "monitor_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunCycleEmitsStopHitExit(t *testing.T) {
	db := openTestDB(t)
	entryRepo := store.NewEntryDateRepository(db)
	snapRepo := store.NewSnapshotRepository(db)
	now := time.Now().UTC()

	require.NoError(t, entryRepo.Upsert(domain.EntryDate{
		Ticker: "AAA", EntryDate: now.AddDate(0, 0, -5), Shares: 10, EntryPrice: 100, UpdatedAt: now,
	}))

	md := fakeMarketData{bars: flatBars(30, 80)} // ATR ~ small, current price far below entry
	holdings := []domain.Holding{{Ticker: "AAA", AvgEntryPrice: 100, CurrentPrice: 80}}

	result := RunCycle(context.Background(), Deps{
		MarketData: md, EntryDates: entryRepo, Snapshots: snapRepo, Log: zerolog.Nop(),
	}, Config{}, holdings, now)

	require.NotEmpty(t, result.Exits)
	assert.Equal(t, domain.ExitStopHit, result.Exits[0].Reason)
}

func TestRunCycleEmitsTimeBasedExit(t *testing.T) {
	db := openTestDB(t)
	entryRepo := store.NewEntryDateRepository(db)
	snapRepo := store.NewSnapshotRepository(db)
	now := time.Now().UTC()

	require.NoError(t, entryRepo.Upsert(domain.EntryDate{
		Ticker: "BBB", EntryDate: now.AddDate(0, 0, -45), Shares: 10, EntryPrice: 100, UpdatedAt: now,
	}))

	md := fakeMarketData{bars: flatBars(30, 100)} // no stop/target hit
	holdings := []domain.Holding{{Ticker: "BBB", AvgEntryPrice: 100, CurrentPrice: 100}}

	result := RunCycle(context.Background(), Deps{
		MarketData: md, EntryDates: entryRepo, Snapshots: snapRepo, Log: zerolog.Nop(),
	}, Config{MaxHoldDays: 30}, holdings, now)

	require.NotEmpty(t, result.Exits)
	assert.Equal(t, domain.ExitTimeBased, result.Exits[0].Reason)
}

func TestRunCycleEmitsStopHitWithoutKnownEntryDate(t *testing.T) {
	// A holding the paper-mode tracker never recorded (e.g. a pre-existing
	// broker position) still gets stop protection.
	db := openTestDB(t)
	entryRepo := store.NewEntryDateRepository(db)
	snapRepo := store.NewSnapshotRepository(db)
	now := time.Now().UTC()

	md := fakeMarketData{bars: flatBars(30, 80)}
	holdings := []domain.Holding{{Ticker: "CCC", AvgEntryPrice: 100, CurrentPrice: 80}}

	result := RunCycle(context.Background(), Deps{
		MarketData: md, EntryDates: entryRepo, Snapshots: snapRepo, Log: zerolog.Nop(),
	}, Config{}, holdings, now)

	require.NotEmpty(t, result.Exits)
	assert.Equal(t, domain.ExitStopHit, result.Exits[0].Reason)
}

func TestRunCycleScoreDowngradeRequiresNegativePL(t *testing.T) {
	db := openTestDB(t)
	entryRepo := store.NewEntryDateRepository(db)
	snapRepo := store.NewSnapshotRepository(db)
	now := time.Now().UTC()

	// Fewer than 15 bars forces the default neutral score of 50, which is
	// below the 55 floor, combined with a losing position: score-downgrade
	// exit fires even with no ATR-based trigger.
	md := fakeMarketData{bars: flatBars(5, 100)}
	holdings := []domain.Holding{{Ticker: "DDD", AvgEntryPrice: 100, CurrentPrice: 90}}

	result := RunCycle(context.Background(), Deps{
		MarketData: md, EntryDates: entryRepo, Snapshots: snapRepo, Log: zerolog.Nop(),
	}, Config{}, holdings, now)

	require.NotEmpty(t, result.Exits)
	assert.Equal(t, domain.ExitScoreDowngrade, result.Exits[0].Reason)
}

func TestRunCycleNoScoreDowngradeWhenProfitable(t *testing.T) {
	db := openTestDB(t)
	entryRepo := store.NewEntryDateRepository(db)
	snapRepo := store.NewSnapshotRepository(db)
	now := time.Now().UTC()

	md := fakeMarketData{bars: flatBars(5, 100)} // neutral score 50, below floor
	holdings := []domain.Holding{{Ticker: "EEE", AvgEntryPrice: 100, CurrentPrice: 110}} // profitable

	result := RunCycle(context.Background(), Deps{
		MarketData: md, EntryDates: entryRepo, Snapshots: snapRepo, Log: zerolog.Nop(),
	}, Config{}, holdings, now)

	assert.Empty(t, result.Exits)
}
