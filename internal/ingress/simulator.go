package ingress

import "sync"

// Simulator is an in-memory NICAdapter backed by a FIFO of pre-encoded
// packets, for the backtest harness and unit tests. It stands in for
// real kernel-bypass hardware the way §6 allows ("a simulator, or a
// pcap replay").
type Simulator struct {
	mu      sync.Mutex
	pending [][]byte
	tsNanos []int64
	sent    [][]byte

	outstanding bool // true between a PollRX hit and its PostRXBuffer
}

// NewSimulator builds an empty Simulator. Feed() queues packets for
// PollRX to return in order.
func NewSimulator() *Simulator {
	return &Simulator{}
}

// Feed appends one packet with its simulated hardware receive timestamp
// to the RX queue.
func (s *Simulator) Feed(data []byte, hwTimestampNanos int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, data)
	s.tsNanos = append(s.tsNanos, hwTimestampNanos)
}

// PollRX implements NICAdapter.
func (s *Simulator) PollRX() (PacketView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outstanding || len(s.pending) == 0 {
		return PacketView{}, false
	}
	s.outstanding = true
	return PacketView{Data: s.pending[0], HWTimestamp: s.tsNanos[0]}, true
}

// SubmitTX implements NICAdapter: it records the bytes for test
// assertions rather than sending them anywhere.
func (s *Simulator) SubmitTX(bytes []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(bytes))
	copy(cp, bytes)
	s.sent = append(s.sent, cp)
	return true
}

// PostRXBuffer implements NICAdapter: it retires the packet at the head
// of the queue, making the next Feed()'d packet available.
func (s *Simulator) PostRXBuffer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.outstanding {
		return
	}
	s.pending = s.pending[1:]
	s.tsNanos = s.tsNanos[1:]
	s.outstanding = false
}

// Sent returns every packet accepted by SubmitTX, for assertions.
func (s *Simulator) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

// Pending reports how many packets remain queued (including one
// outstanding, unposted packet).
func (s *Simulator) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
