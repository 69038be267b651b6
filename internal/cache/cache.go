// Package cache implements the write-through price-data and sentiment
// caches (C5). Both are backed by the State Store's market_data_cache and
// sentiment_cache tables; blobs are encoded with msgpack, matching the
// compact binary encoding the rest of the pack uses for cache payloads.
package cache

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/sentinel-trader/internal/domain"
	"github.com/aristath/sentinel-trader/internal/errs"
	"github.com/aristath/sentinel-trader/internal/store"
	"github.com/vmihailenco/msgpack/v5"
)

// TTL is the freshness window for both caches (default 16h, spec.md §4.5/§6.5).
type TTL struct {
	Hours int
}

func (t TTL) duration() time.Duration { return time.Duration(t.Hours) * time.Hour }

// PriceCache stores OHLCV series per ticker, keyed by data_type="bars".
type PriceCache struct {
	db  *store.DB
	ttl TTL
}

func NewPriceCache(db *store.DB, ttl TTL) *PriceCache { return &PriceCache{db: db, ttl: ttl} }

// PriceFetcher is the provider hook invoked on a cache miss.
type PriceFetcher func(ticker domain.Ticker) ([]domain.PriceBar, error)

// Get returns cached bars for ticker if fresh; otherwise it calls fetch,
// stores the result (write-through), and returns it. A malformed stored
// blob is treated as a miss, per spec.md §4.5.
func (c *PriceCache) Get(ticker domain.Ticker, fetch PriceFetcher) ([]domain.PriceBar, bool, error) {
	now := time.Now().UTC()
	row := c.db.Conn().QueryRow(`
		SELECT data_json, expires_at FROM market_data_cache WHERE ticker = ? AND data_type = 'bars'
	`, string(ticker))

	var blob []byte
	var expiresAt string
	err := row.Scan(&blob, &expiresAt)
	if err == nil {
		if exp, perr := time.Parse(time.RFC3339Nano, expiresAt); perr == nil && now.Before(exp) {
			var bars []domain.PriceBar
			if derr := msgpack.Unmarshal(blob, &bars); derr == nil {
				return bars, true, nil
			}
			// Corrupted payload: fall through to miss/refetch (§4.5).
		}
	} else if err != sql.ErrNoRows {
		return nil, false, &errs.StorageError{Op: "price_cache.get", Err: err}
	}

	bars, ferr := fetch(ticker)
	if ferr != nil {
		return nil, false, ferr
	}
	if err := c.put(ticker, bars, now); err != nil {
		return bars, false, err
	}
	return bars, false, nil
}

func (c *PriceCache) put(ticker domain.Ticker, bars []domain.PriceBar, fetchedAt time.Time) error {
	blob, err := msgpack.Marshal(bars)
	if err != nil {
		return fmt.Errorf("encode price cache payload: %w", err)
	}
	expiresAt := fetchedAt.Add(c.ttl.duration())
	// Idempotent upsert: concurrent misses for the same key are allowed to
	// race here; the last writer wins, which is acceptable per §5.
	_, err = c.db.Conn().Exec(`
		INSERT INTO market_data_cache (ticker, data_type, data_json, fetched_at, expires_at)
		VALUES (?, 'bars', ?, ?, ?)
		ON CONFLICT(ticker, data_type) DO UPDATE SET
			data_json=excluded.data_json, fetched_at=excluded.fetched_at, expires_at=excluded.expires_at
	`, string(ticker), blob, fetchedAt.UTC().Format(time.RFC3339Nano), expiresAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return &errs.StorageError{Op: "price_cache.put", Err: err}
	}
	return nil
}

// SentimentCache stores one SentimentEntry per ticker.
type SentimentCache struct {
	db  *store.DB
	ttl TTL
}

func NewSentimentCache(db *store.DB, ttl TTL) *SentimentCache { return &SentimentCache{db: db, ttl: ttl} }

// SentimentFetcher is the provider hook invoked on a cache miss.
type SentimentFetcher func(ticker domain.Ticker) (domain.SentimentEntry, error)

// SentimentResult is returned to callers alongside a freshness flag and the
// age in hours, matching the §8 S7 round-trip shape
// {sentiment_score, news_summary, sentiment_reasoning, age_hours}.
type SentimentResult struct {
	Entry    domain.SentimentEntry
	AgeHours float64
	Hit      bool
}

func (c *SentimentCache) Get(ticker domain.Ticker, fetch SentimentFetcher) (SentimentResult, error) {
	now := time.Now().UTC()
	row := c.db.Conn().QueryRow(`
		SELECT sentiment_score, news_summary, sentiment_reasoning, fetched_at, expires_at
		FROM sentiment_cache WHERE ticker = ?
	`, string(ticker))

	var score float64
	var summary, reasoning, fetchedAt, expiresAt string
	err := row.Scan(&score, &summary, &reasoning, &fetchedAt, &expiresAt)
	if err == nil {
		exp, eerr := time.Parse(time.RFC3339Nano, expiresAt)
		fet, ferr := time.Parse(time.RFC3339Nano, fetchedAt)
		if eerr == nil && ferr == nil && now.Before(exp) {
			return SentimentResult{
				Entry: domain.SentimentEntry{
					Ticker: ticker, Score: score, Summary: summary, Reasoning: reasoning,
					FetchedAt: fet, ExpiresAt: exp,
				},
				AgeHours: now.Sub(fet).Hours(),
				Hit:      true,
			}, nil
		}
	} else if err != sql.ErrNoRows {
		return SentimentResult{}, &errs.StorageError{Op: "sentiment_cache.get", Err: err}
	}

	entry, ferr := fetch(ticker)
	if ferr != nil {
		return SentimentResult{}, ferr
	}
	entry.Ticker = ticker
	entry.FetchedAt = now
	entry.ExpiresAt = now.Add(c.ttl.duration())
	if err := c.put(entry); err != nil {
		return SentimentResult{Entry: entry, AgeHours: 0, Hit: false}, err
	}
	return SentimentResult{Entry: entry, AgeHours: 0, Hit: false}, nil
}

func (c *SentimentCache) put(e domain.SentimentEntry) error {
	_, err := c.db.Conn().Exec(`
		INSERT INTO sentiment_cache (ticker, sentiment_score, news_summary, sentiment_reasoning, fetched_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(ticker) DO UPDATE SET
			sentiment_score=excluded.sentiment_score, news_summary=excluded.news_summary,
			sentiment_reasoning=excluded.sentiment_reasoning, fetched_at=excluded.fetched_at,
			expires_at=excluded.expires_at
	`, string(e.Ticker), e.Score, e.Summary, e.Reasoning,
		e.FetchedAt.UTC().Format(time.RFC3339Nano), e.ExpiresAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return &errs.StorageError{Op: "sentiment_cache.put", Err: err}
	}
	return nil
}
