package venue

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPollerPublishesExecutionReports(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"reports": []map[string]any{
				{"client_order_id": 1, "venue_order_id": "v-1", "status": "filled", "filled_qty": 10, "fill_price": 101.5, "ts_nanos": 1000},
			},
			"next_cursor": "abc",
		})
	}))
	defer srv.Close()

	cfg := DefaultConfig(7, srv.URL)
	cfg.PollInterval = 10 * time.Millisecond

	p := NewPoller(cfg, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	select {
	case rep := <-p.Reports():
		if rep.ClientOrderID != 1 || rep.Status != "filled" || rep.VenueID != 7 {
			t.Fatalf("unexpected report: %+v", rep)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for execution report")
	}
}
