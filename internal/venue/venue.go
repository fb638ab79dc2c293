// Package venue is a thin, non-core collaborator (§1: "broker/exchange
// adapter protocols ... consumed via the interfaces in §6, not
// specified here"): a REST poller that turns a venue's execution-report
// endpoint into the on_execution_report callback the core's Router and
// RiskState need in a non-replay run. In backtest/replay mode this is
// replaced entirely by the deterministic fill model in internal/backtest.
package venue

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"

	"tick2trade/pkg/types"
)

// ExecutionReport is the decoded form of one venue acknowledgement or
// fill notification (§6 "Broker/venue interface": on_execution_report).
type ExecutionReport struct {
	VenueID       uint16
	ClientOrderID uint64
	VenueOrderID  string
	Status        string     // "acked", "filled", "partially_filled", "cancelled", "rejected"
	Side          types.Side // the resting order's side, for signing FilledQty
	FilledQty     uint64
	FillPrice     float64
	TSNanos       int64
}

// Config configures the REST execution-report poller for one venue.
type Config struct {
	VenueID      uint16
	BaseURL      string
	PollInterval time.Duration
	Timeout      time.Duration
}

// DefaultConfig returns conservative polling defaults.
func DefaultConfig(venueID uint16, baseURL string) Config {
	return Config{
		VenueID:      venueID,
		BaseURL:      baseURL,
		PollInterval: 200 * time.Millisecond,
		Timeout:      5 * time.Second,
	}
}

// Poller periodically fetches new execution reports from a venue's REST
// API and publishes them on Reports(). It runs entirely outside the hot
// path (§1 non-goal: "the broker/exchange adapter protocols ... are not
// specified here") — internal/core reads Reports in a background
// goroutine and applies fills to RiskState, never from the pinned hot
// thread directly; the Router sees only LastHeartbeat samples, through
// the core's heartbeat callback.
type Poller struct {
	cfg    Config
	http   *resty.Client
	logger *slog.Logger

	reports chan ExecutionReport
	cursor  string // opaque pagination token from the last successful poll

	seq    atomic.Uint64
	last   atomic.Pointer[HeartbeatSample]
}

// HeartbeatSample is the round-trip observation of one poll attempt,
// consumed by the core's heartbeat callback to drive the §3 VenueState
// EMA recurrence. Seq increments on every attempt (success or failure)
// so a stalled poller is distinguishable from one that is simply quiet.
type HeartbeatSample struct {
	Seq      uint64
	RTTNanos int64
	OK       bool
}

// LastHeartbeat returns the most recent poll attempt's round-trip
// sample, or the zero value if no poll has completed yet.
func (p *Poller) LastHeartbeat() HeartbeatSample {
	if s := p.last.Load(); s != nil {
		return *s
	}
	return HeartbeatSample{}
}

// execReportPage is the wire shape the venue's REST endpoint returns;
// Cursor is an opaque continuation token for the next poll.
type execReportPage struct {
	Reports []struct {
		ClientOrderID uint64  `json:"client_order_id"`
		VenueOrderID  string  `json:"venue_order_id"`
		Status        string  `json:"status"`
		Side          string  `json:"side"` // "buy" or "sell"
		FilledQty     uint64  `json:"filled_qty"`
		FillPrice     float64 `json:"fill_price"`
		TSNanos       int64   `json:"ts_nanos"`
	} `json:"reports"`
	NextCursor string `json:"next_cursor"`
}

// NewPoller builds a Poller. Mirrors the REST client shape of
// internal/exchange/client.go (resty, retry on 5xx, JSON result
// binding), narrowed to the one read-only execution-report endpoint
// this core's router/risk layers need.
func NewPoller(cfg Config, logger *slog.Logger) *Poller {
	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(3).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	return &Poller{
		cfg:     cfg,
		http:    http,
		logger:  logger.With("component", "venue_poller", "venue_id", cfg.VenueID),
		reports: make(chan ExecutionReport, 1024),
	}
}

// Reports exposes the channel execution reports are published on.
func (p *Poller) Reports() <-chan ExecutionReport { return p.reports }

// Run polls the execution-report endpoint on cfg.PollInterval until ctx
// is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.pollOnce(ctx); err != nil {
				p.logger.Warn("execution report poll failed", "err", err)
			}
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) error {
	var page execReportPage
	req := p.http.R().SetContext(ctx).SetResult(&page)
	if p.cursor != "" {
		req.SetQueryParam("cursor", p.cursor)
	}

	start := time.Now()
	resp, err := req.Get("/execution-reports")
	rtt := time.Since(start)

	if err != nil {
		p.recordHeartbeat(rtt, false)
		return fmt.Errorf("venue: poll execution reports: %w", err)
	}
	if resp.StatusCode() != 200 {
		p.recordHeartbeat(rtt, false)
		return fmt.Errorf("venue: poll execution reports: status %d", resp.StatusCode())
	}
	p.recordHeartbeat(rtt, true)

	for _, r := range page.Reports {
		side := types.Buy
		if r.Side == "sell" {
			side = types.Sell
		}
		rep := ExecutionReport{
			VenueID:       p.cfg.VenueID,
			ClientOrderID: r.ClientOrderID,
			VenueOrderID:  r.VenueOrderID,
			Status:        r.Status,
			Side:          side,
			FilledQty:     r.FilledQty,
			FillPrice:     r.FillPrice,
			TSNanos:       r.TSNanos,
		}
		select {
		case p.reports <- rep:
		default:
			p.logger.Warn("execution report buffer full, dropping", "client_order_id", rep.ClientOrderID)
		}
	}
	if page.NextCursor != "" {
		p.cursor = page.NextCursor
	}
	return nil
}

func (p *Poller) recordHeartbeat(rtt time.Duration, ok bool) {
	sample := HeartbeatSample{Seq: p.seq.Add(1), RTTNanos: int64(rtt), OK: ok}
	p.last.Store(&sample)
}
