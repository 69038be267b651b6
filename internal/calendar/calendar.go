// Package calendar implements the Market Calendar & Clock (C3): a wall clock
// fixed to the market time zone, trading-day/holiday awareness, and
// "next open" computation.
package calendar

import (
	"time"

	"github.com/rs/zerolog"
)

// Session is one trading day's open/close bounds in the market time zone.
type Session struct {
	Open  time.Time
	Close time.Time
}

// BrokerCalendar is the minimal collaborator contract from spec.md §6.1:
// get_calendar(start, end) -> list<{date, open, close}>.
type BrokerCalendar interface {
	GetCalendar(start, end time.Time) ([]BrokerCalendarDay, error)
}

// BrokerCalendarDay is one entry from the broker's calendar feed.
type BrokerCalendarDay struct {
	Date  time.Time
	Open  time.Time
	Close time.Time
}

// Clock is the Market Calendar & Clock component. It consults a
// BrokerCalendar when available and falls back to weekday-only with a
// logged warning when the adapter errors or is absent.
type Clock struct {
	loc     *time.Location
	broker  BrokerCalendar
	log     zerolog.Logger
}

// New builds a Clock fixed to the named IANA time zone (default
// America/New_York per spec.md §6.5). broker may be nil.
func New(timeZone string, broker BrokerCalendar, log zerolog.Logger) (*Clock, error) {
	loc, err := time.LoadLocation(timeZone)
	if err != nil {
		return nil, err
	}
	c := &Clock{loc: loc, broker: broker, log: log.With().Str("component", "calendar").Logger()}
	if broker == nil {
		c.log.Warn().Msg("no broker calendar adapter, degrading to weekday-only")
	}
	return c, nil
}

// NowMarket returns the current wall clock time in the market time zone.
func (c *Clock) NowMarket() time.Time {
	return time.Now().In(c.loc)
}

// IsTradingDay reports whether date is a trading day: not a weekend, and not
// a holiday per the broker calendar when one is available.
func (c *Clock) IsTradingDay(date time.Time) bool {
	date = date.In(c.loc)
	if date.Weekday() == time.Saturday || date.Weekday() == time.Sunday {
		return false
	}
	if c.broker == nil {
		return true
	}
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, c.loc)
	dayEnd := dayStart.Add(24 * time.Hour)
	days, err := c.broker.GetCalendar(dayStart, dayEnd)
	if err != nil {
		c.log.Warn().Err(err).Msg("broker calendar unavailable, degrading to weekday-only")
		return true
	}
	return len(days) > 0
}

// SessionBounds returns the open/close bounds for date: 09:30-16:00 local by
// default, honoring broker-reported early closes when available.
func (c *Clock) SessionBounds(date time.Time) Session {
	date = date.In(c.loc)
	defaultOpen := time.Date(date.Year(), date.Month(), date.Day(), 9, 30, 0, 0, c.loc)
	defaultClose := time.Date(date.Year(), date.Month(), date.Day(), 16, 0, 0, 0, c.loc)

	if c.broker == nil {
		return Session{Open: defaultOpen, Close: defaultClose}
	}
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, c.loc)
	dayEnd := dayStart.Add(24 * time.Hour)
	days, err := c.broker.GetCalendar(dayStart, dayEnd)
	if err != nil || len(days) == 0 {
		if err != nil {
			c.log.Warn().Err(err).Msg("broker calendar unavailable, degrading to weekday-only")
		}
		return Session{Open: defaultOpen, Close: defaultClose}
	}
	return Session{Open: days[0].Open, Close: days[0].Close}
}

// NextOpen returns the next session open strictly after `after`.
func (c *Clock) NextOpen(after time.Time) time.Time {
	after = after.In(c.loc)
	cursor := after
	for i := 0; i < 14; i++ { // look ahead at most two weeks
		day := time.Date(cursor.Year(), cursor.Month(), cursor.Day(), 0, 0, 0, 0, c.loc)
		cursor = cursor.Add(24 * time.Hour)
		if !c.IsTradingDay(day) {
			continue
		}
		bounds := c.SessionBounds(day)
		if bounds.Open.After(after) {
			return bounds.Open
		}
	}
	// Fallback: the default open time on the first day past the look-ahead.
	return time.Date(cursor.Year(), cursor.Month(), cursor.Day(), 9, 30, 0, 0, c.loc)
}

// DateKey formats date as the YYYY-MM-DD session key used to bucket
// TradingSession rows, in the market time zone.
func (c *Clock) DateKey(t time.Time) string {
	return t.In(c.loc).Format("2006-01-02")
}
