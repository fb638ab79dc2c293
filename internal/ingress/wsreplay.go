// wsreplay.go implements a WebSocket-backed NICAdapter: when no
// hardware descriptor ring or pcap file is available, the ingress stage
// can instead pull a live venue feed over a WebSocket connection and
// present each inbound message as a PacketView, exactly as §6 allows
// ("any adapter implementing the contract suffices").
//
// Reconnection follows the same exponential-backoff shape as the
// teacher's exchange/ws.go WSFeed, without sending any subscribe message
// after a reconnect: the read loop is a
// background goroutine that pushes raw frames into a buffered channel;
// PollRX is a non-blocking receive from that channel, so it never stalls
// the hot thread waiting on network I/O.
package ingress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsReadTimeout      = 90 * time.Second
	wsWriteTimeout     = 10 * time.Second
	wsMaxReconnectWait = 30 * time.Second
	wsPacketBufferSize = 4096
)

// WSReplayAdapter implements NICAdapter over a WebSocket connection.
// Intended for paper-trading or live-feed backtesting when no hardware
// ring is present; not used on the latency-critical production path.
type WSReplayAdapter struct {
	url    string
	logger *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	packets chan PacketView
	txOK    chan struct{}

	cancel context.CancelFunc
}

// NewWSReplayAdapter starts the background loop that dials url (retrying
// with backoff) and reads from it; it returns without waiting for a
// connection, and its error is always nil. The returned adapter's PollRX
// drains the internal channel; call Close to stop the read loop and
// close the connection.
func NewWSReplayAdapter(url string, logger *slog.Logger) (*WSReplayAdapter, error) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &WSReplayAdapter{
		url:     url,
		logger:  logger.With("component", "ws_ingress"),
		packets: make(chan PacketView, wsPacketBufferSize),
		cancel:  cancel,
	}
	go a.run(ctx)
	return a, nil
}

func (a *WSReplayAdapter) run(ctx context.Context) {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.url, nil)
		if err != nil {
			a.logger.Warn("ws ingress dial failed, backing off", "err", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = minDuration(backoff*2, wsMaxReconnectWait)
			continue
		}
		backoff = time.Second

		a.connMu.Lock()
		a.conn = conn
		a.connMu.Unlock()

		a.readLoop(ctx, conn)

		conn.Close()
		a.connMu.Lock()
		a.conn = nil
		a.connMu.Unlock()
	}
}

func (a *WSReplayAdapter) readLoop(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			a.logger.Warn("ws ingress read failed, reconnecting", "err", err)
			return
		}

		view := PacketView{Data: data, HWTimestamp: time.Now().UnixNano()}
		select {
		case a.packets <- view:
		default:
			// Backpressure: the consumer isn't keeping up. §4.2 forbids
			// drop-oldest; drop this one message and let the caller's
			// sequence-gap detection in the LOB recover it via a
			// recovery request instead of silently desyncing.
			a.logger.Warn("ws ingress packet buffer full, dropping message")
		}
	}
}

// PollRX implements NICAdapter: a non-blocking receive from the
// background read loop's channel.
func (a *WSReplayAdapter) PollRX() (PacketView, bool) {
	select {
	case v := <-a.packets:
		return v, true
	default:
		return PacketView{}, false
	}
}

// SubmitTX implements NICAdapter by writing bytes as a binary frame to
// the current connection, if any.
func (a *WSReplayAdapter) SubmitTX(bytes []byte) bool {
	a.connMu.Lock()
	conn := a.conn
	a.connMu.Unlock()
	if conn == nil {
		return false
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteMessage(websocket.BinaryMessage, bytes) == nil
}

// PostRXBuffer implements NICAdapter. The WebSocket transport has no
// descriptor slots to return — each message is an independently
// allocated byte slice — so this is a no-op.
func (a *WSReplayAdapter) PostRXBuffer() {}

// Close stops the background read loop and closes the connection.
func (a *WSReplayAdapter) Close() error {
	a.cancel()
	a.connMu.Lock()
	conn := a.conn
	a.connMu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
