package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// fakeClock hands out timer channels that tests fire manually, and records
// the duration of each After call so interval adaptation is observable
// without real sleeping.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	afters []time.Duration
	chans  []chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	c.afters = append(c.afters, d)
	c.chans = append(c.chans, ch)
	return ch
}

// fire releases the i-th pending timer.
func (c *fakeClock) fire(i int) {
	c.mu.Lock()
	ch := c.chans[i]
	now := c.now
	c.mu.Unlock()
	ch <- now
}

// waitAfters blocks until n After calls have been made.
func (c *fakeClock) waitAfters(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		got := len(c.afters)
		c.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d scheduled intervals", n)
}

func (c *fakeClock) interval(i int) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.afters[i]
}

// scriptedBackend answers /api/health according to a boolean script,
// repeating the last entry once exhausted.
type scriptedBackend struct {
	mu     sync.Mutex
	script []bool
	calls  int
}

func (b *scriptedBackend) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		i := b.calls
		b.calls++
		if i >= len(b.script) {
			i = len(b.script) - 1
		}
		ok := b.script[i]
		b.mu.Unlock()
		if ok {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}
}

func (b *scriptedBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

const (
	testUnstable = 100 * time.Millisecond
	testStable   = 700 * time.Millisecond
)

func TestIntervalAdaptsAfterConsecutiveSuccesses(t *testing.T) {
	backend := &scriptedBackend{script: []bool{false, false, true, true, true, true}}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	clock := newFakeClock()
	p := NewProber(Config{
		BaseURL:          srv.URL,
		UnstableInterval: testUnstable,
		StableInterval:   testStable,
		SuccessThreshold: 3,
		Clock:            clock,
	})

	p.Start()
	defer p.Stop()

	// Drive five check cycles: F F T T T. The first four schedule the
	// unstable interval; after the third consecutive success the prober
	// relaxes to the stable interval.
	clock.waitAfters(t, 1)
	for i := 0; i < 4; i++ {
		clock.fire(i)
		clock.waitAfters(t, i+2)
	}

	want := []time.Duration{testUnstable, testUnstable, testUnstable, testUnstable, testStable}
	for i, d := range want {
		if got := clock.interval(i); got != d {
			t.Fatalf("interval %d = %s, want %s", i, got, d)
		}
	}
}

func TestFailureResetsToUnstableInterval(t *testing.T) {
	backend := &scriptedBackend{script: []bool{true, true, true, false, true}}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	clock := newFakeClock()
	p := NewProber(Config{
		BaseURL:          srv.URL,
		UnstableInterval: testUnstable,
		StableInterval:   testStable,
		SuccessThreshold: 3,
		Clock:            clock,
	})

	p.Start()
	defer p.Stop()

	clock.waitAfters(t, 1)
	for i := 0; i < 4; i++ {
		clock.fire(i)
		clock.waitAfters(t, i+2)
	}

	// T T T -> stable, then the failure drops straight back to unstable.
	if got := clock.interval(2); got != testStable {
		t.Fatalf("interval after threshold = %s, want %s", got, testStable)
	}
	if got := clock.interval(3); got != testUnstable {
		t.Fatalf("interval after failure = %s, want %s", got, testUnstable)
	}
	if s := p.Sample(); s.Consecutive != 1 {
		t.Fatalf("consecutive after recovery = %d, want 1", s.Consecutive)
	}
}

func TestLostFiresOnlyAfterBackendWasReady(t *testing.T) {
	backend := &scriptedBackend{script: []bool{false, false, true, false}}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	var mu sync.Mutex
	var changes []bool
	var lost int
	p := NewProber(Config{
		BaseURL:          srv.URL,
		UnstableInterval: testUnstable,
		StableInterval:   testStable,
		SuccessThreshold: 3,
		OnChange: func(alive bool) {
			mu.Lock()
			changes = append(changes, alive)
			mu.Unlock()
		},
		OnLost: func(error) {
			mu.Lock()
			lost++
			mu.Unlock()
		},
	})

	ctx := context.Background()
	p.Check(ctx) // down (never ready: no lost signal)
	p.Check(ctx) // still down
	p.Check(ctx) // up
	p.Check(ctx) // down again: lost

	mu.Lock()
	defer mu.Unlock()
	if lost != 1 {
		t.Fatalf("lost fired %d times, want exactly 1", lost)
	}
	// Liveness flips: nothing for the initial failures (no flip from the
	// zero state is only true->false), then up, then down.
	if len(changes) != 2 || changes[0] != true || changes[1] != false {
		t.Fatalf("change sequence = %v, want [true false]", changes)
	}
}

func TestOverlappingChecksAreNotDuplicated(t *testing.T) {
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewProber(Config{
		BaseURL:          srv.URL,
		UnstableInterval: time.Second,
		StableInterval:   5 * time.Second,
		SuccessThreshold: 3,
	})

	done := make(chan bool, 1)
	go func() {
		done <- p.Check(context.Background())
	}()

	// Wait until the slow probe is in flight, then issue a second check.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		inFlight := calls == 1
		mu.Unlock()
		if inFlight {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	p.Check(context.Background()) // must not issue a second probe
	close(release)
	<-done

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("overlapping Check issued %d probes, want 1", calls)
	}
}

func TestProbingPausesWhileHidden(t *testing.T) {
	backend := &scriptedBackend{script: []bool{true}}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	clock := newFakeClock()
	p := NewProber(Config{
		BaseURL:          srv.URL,
		UnstableInterval: testUnstable,
		StableInterval:   testStable,
		SuccessThreshold: 3,
		Clock:            clock,
	})

	p.Start()
	defer p.Stop()

	clock.waitAfters(t, 1)
	before := backend.callCount()
	if before != 1 {
		t.Fatalf("initial check count = %d, want 1", before)
	}

	p.SetVisible(false)
	clock.fire(0)

	// Hidden: the loop parks without probing. Give it room to misbehave.
	time.Sleep(100 * time.Millisecond)
	if got := backend.callCount(); got != before {
		t.Fatalf("probe ran while hidden: %d -> %d", before, got)
	}

	// Visibility back: an immediate check, no timer involved.
	p.SetVisible(true)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && backend.callCount() == before {
		time.Sleep(5 * time.Millisecond)
	}
	if got := backend.callCount(); got != before+1 {
		t.Fatalf("resume check count = %d, want %d", got, before+1)
	}
}

func TestCheckRecordsSample(t *testing.T) {
	backend := &scriptedBackend{script: []bool{false, true}}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	p := NewProber(Config{BaseURL: srv.URL})

	if alive := p.Check(context.Background()); alive {
		t.Fatalf("check against 503 reported alive")
	}
	s := p.Sample()
	if s.Alive || s.Consecutive != 0 || s.LastError == "" {
		t.Fatalf("sample after failure = %+v", s)
	}

	if alive := p.Check(context.Background()); !alive {
		t.Fatalf("check against 200 reported dead")
	}
	s = p.Sample()
	if !s.Alive || s.Consecutive != 1 || s.LastError != "" {
		t.Fatalf("sample after success = %+v", s)
	}
}
