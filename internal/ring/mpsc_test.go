package ring

import (
	"sync"
	"testing"
)

func TestMPSCSingleProducer(t *testing.T) {
	t.Parallel()

	q := NewMPSC[int](4)
	for i := 0; i < 4; i++ {
		if err := q.TryPush(i); err != nil {
			t.Fatalf("TryPush(%d) = %v, want nil", i, err)
		}
	}
	if err := q.TryPush(4); err == nil {
		t.Fatal("TryPush on full ring should fail")
	}

	for i := 0; i < 4; i++ {
		got, err := q.TryPop()
		if err != nil {
			t.Fatalf("TryPop() = %v, want nil", err)
		}
		if got != i {
			t.Fatalf("TryPop() = %d, want %d", got, i)
		}
	}
	if _, err := q.TryPop(); err == nil {
		t.Fatal("TryPop on empty ring should fail")
	}
}

func TestMPSCConcurrentProducersNoLostOrDuplicated(t *testing.T) {
	t.Parallel()

	const producers = 8
	const perProducer = 5000
	const total = producers * perProducer

	q := NewMPSC[int](1024)
	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				v := base*perProducer + i
				for q.TryPush(v) != nil {
				}
			}
		}(p)
	}

	seen := make([]bool, total)
	count := 0
	go func() {
		wg.Wait()
	}()
	for count < total {
		v, err := q.TryPop()
		if err != nil {
			continue
		}
		if v < 0 || v >= total || seen[v] {
			t.Fatalf("got invalid or duplicate value %d", v)
		}
		seen[v] = true
		count++
	}
}
