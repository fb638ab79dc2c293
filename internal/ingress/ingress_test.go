package ingress

import "testing"

func TestPollerDirectCallPath(t *testing.T) {
	t.Parallel()

	sim := NewSimulator()
	sim.Feed([]byte("packet-1"), 1000)
	sim.Feed([]byte("packet-2"), 2000)

	p := NewPoller(sim, 0)

	var received [][]byte
	for {
		view, ok := p.PollOnce()
		if !ok {
			break
		}
		received = append(received, view.Data)
	}

	if len(received) != 2 {
		t.Fatalf("got %d packets, want 2", len(received))
	}
	if string(received[0]) != "packet-1" || string(received[1]) != "packet-2" {
		t.Fatalf("packets out of order: %q, %q", received[0], received[1])
	}
	if p.Received() != 2 {
		t.Fatalf("Received() = %d, want 2", p.Received())
	}
}

func TestPollerRingBackpressureDoesNotRepost(t *testing.T) {
	t.Parallel()

	sim := NewSimulator()
	sim.Feed([]byte("a"), 1)
	sim.Feed([]byte("b"), 2)
	sim.Feed([]byte("c"), 3)

	p := NewPoller(sim, 2) // rounds to 2 usable slots

	accepted := 0
	for i := 0; i < 3; i++ {
		if _, ok := p.PollOnce(); ok {
			accepted++
		}
	}
	if accepted != 2 {
		t.Fatalf("accepted %d packets, want 2 (ring capacity 2)", accepted)
	}
	if p.Dropped() != 1 {
		t.Fatalf("Dropped() = %d, want 1", p.Dropped())
	}
	// The third packet's descriptor was never posted, so it is still
	// outstanding at the head of the simulator's queue.
	if sim.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1 (unreposted slot retained)", sim.Pending())
	}
}

func TestSimulatorFeedOrderAndPost(t *testing.T) {
	t.Parallel()

	sim := NewSimulator()
	sim.Feed([]byte("x"), 10)

	view, ok := sim.PollRX()
	if !ok {
		t.Fatal("PollRX() = false, want true")
	}
	if string(view.Data) != "x" {
		t.Fatalf("PollRX().Data = %q, want x", view.Data)
	}

	// Without PostRXBuffer, the slot stays outstanding: no second packet.
	if _, ok := sim.PollRX(); ok {
		t.Fatal("PollRX() before PostRXBuffer should be false")
	}
	sim.PostRXBuffer()
	if sim.Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0 after PostRXBuffer", sim.Pending())
	}
}

func TestSimulatorSubmitTXRecordsBytes(t *testing.T) {
	t.Parallel()

	sim := NewSimulator()
	if !sim.SubmitTX([]byte("order-bytes")) {
		t.Fatal("SubmitTX() = false, want true")
	}
	sent := sim.Sent()
	if len(sent) != 1 || string(sent[0]) != "order-bytes" {
		t.Fatalf("Sent() = %v, want [order-bytes]", sent)
	}
}
