// Package health verifies backend liveness over HTTP, independently of the
// socket, so the UI can show backend status before the socket is up and
// notice a dead backend even while the socket believes it is connected.
//
// The prober adapts its polling interval to recent history: while checks
// are failing or have only just begun succeeding it probes at a short
// unstable interval; once enough consecutive checks succeed it relaxes to
// the longer stable interval. Probing pauses while the hosting surface is
// not visible and resumes with an immediate check.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Defaults. The unstable interval must always be shorter than the stable
// interval; the threshold is the consecutive-success count required before
// relaxing to the stable interval.
const (
	DefaultUnstableInterval = 2 * time.Second
	DefaultStableInterval   = 10 * time.Second
	DefaultSuccessThreshold = 3
)

// Clock abstracts time so interval scheduling is testable with simulated
// time. The production clock delegates to the time package.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Sample is the last known liveness observation. It is mutated only by the
// prober and read by any surface displaying backend status.
type Sample struct {
	// Alive is the result of the most recent check.
	Alive bool

	// Consecutive counts successful checks since the last failure.
	Consecutive int

	// LastError is the most recent check failure, empty while healthy.
	LastError string
}

// Config configures a Prober.
type Config struct {
	// BaseURL is the backend host, e.g. "http://127.0.0.1:8080".
	BaseURL string

	// HTTPClient overrides the probe client. A per-probe timeout equal to
	// the unstable interval is applied regardless, so a hung probe never
	// delays the next scheduled one.
	HTTPClient *http.Client

	UnstableInterval time.Duration
	StableInterval   time.Duration
	SuccessThreshold int

	// OnChange fires when liveness flips in either direction.
	OnChange func(alive bool)

	// OnLost fires only on a previously-ready to not-ready transition.
	// Never-became-ready does not trigger it.
	OnLost func(err error)

	// Clock substitutes simulated time in tests.
	Clock Clock
}

// Prober runs the adaptive liveness loop.
type Prober struct {
	cfg    Config
	client *http.Client
	clock  Clock

	mu        sync.Mutex
	sample    Sample
	everAlive bool
	probing   bool
	visible   bool
	running   bool

	stopCh chan struct{}
	doneCh chan struct{}
	wakeCh chan struct{}
}

// NewProber creates a prober (not started). Zero config fields take the
// package defaults.
func NewProber(cfg Config) *Prober {
	if cfg.UnstableInterval <= 0 {
		cfg.UnstableInterval = DefaultUnstableInterval
	}
	if cfg.StableInterval <= 0 {
		cfg.StableInterval = DefaultStableInterval
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultSuccessThreshold
	}
	clock := cfg.Clock
	if clock == nil {
		clock = systemClock{}
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Prober{
		cfg:     cfg,
		client:  client,
		clock:   clock,
		visible: true,
		wakeCh:  make(chan struct{}, 1),
	}
}

// Sample returns the last known liveness observation.
func (p *Prober) Sample() Sample {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sample
}

// Check probes the backend once, on demand, and records the result.
// A check already in flight is not duplicated; the last known liveness is
// returned instead. Overlapping probes are disallowed by design.
func (p *Prober) Check(ctx context.Context) bool {
	p.mu.Lock()
	if p.probing {
		alive := p.sample.Alive
		p.mu.Unlock()
		return alive
	}
	p.probing = true
	p.mu.Unlock()

	alive, err := p.probe(ctx)
	p.record(alive, err)

	p.mu.Lock()
	p.probing = false
	p.mu.Unlock()
	return alive
}

// probe issues the liveness request with a hard deadline.
func (p *Prober) probe(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.UnstableInterval)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/api/health", nil)
	if err != nil {
		return false, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("health endpoint returned %s", resp.Status)
	}
	return true, nil
}

// record updates the sample and fires transition callbacks.
func (p *Prober) record(alive bool, err error) {
	p.mu.Lock()
	prev := p.sample.Alive
	wasEver := p.everAlive
	if alive {
		p.sample.Alive = true
		p.sample.Consecutive++
		p.sample.LastError = ""
		p.everAlive = true
	} else {
		p.sample.Alive = false
		p.sample.Consecutive = 0
		if err != nil {
			p.sample.LastError = err.Error()
		}
	}
	p.mu.Unlock()

	if alive != prev && p.cfg.OnChange != nil {
		p.cfg.OnChange(alive)
	}
	// "Lost backend" is distinct from "never became ready": it requires a
	// prior successful check.
	if !alive && prev && wasEver && p.cfg.OnLost != nil {
		p.cfg.OnLost(err)
	}
}

// NextInterval returns the delay until the next scheduled check given the
// current sample: stable once the consecutive-success threshold is reached,
// unstable otherwise.
func (p *Prober) NextInterval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sample.Alive && p.sample.Consecutive >= p.cfg.SuccessThreshold {
		return p.cfg.StableInterval
	}
	return p.cfg.UnstableInterval
}

// SetVisible informs the prober of the hosting surface's visibility.
// Probing pauses entirely while hidden and resumes with an immediate check
// when visibility returns.
func (p *Prober) SetVisible(visible bool) {
	p.mu.Lock()
	changed := p.visible != visible
	p.visible = visible
	p.mu.Unlock()
	if changed && visible {
		select {
		case p.wakeCh <- struct{}{}:
		default:
		}
	}
}

// Start begins the background probe loop.
func (p *Prober) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	go p.loop(stopCh, doneCh)
}

// Stop signals the loop to exit and waits for it to finish.
func (p *Prober) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// loop alternates check and sleep, where the sleep duration adapts to the
// check history. While hidden it parks until visibility returns.
func (p *Prober) loop(stopCh <-chan struct{}, doneCh chan struct{}) {
	defer close(doneCh)

	for {
		p.mu.Lock()
		visible := p.visible
		p.mu.Unlock()

		if !visible {
			// Parked: no probes at all until visibility returns.
			select {
			case <-stopCh:
				return
			case <-p.wakeCh:
				// Resume with an immediate check.
			}
		}

		p.Check(context.Background())

		select {
		case <-stopCh:
			return
		case <-p.wakeCh:
			// Visibility returned mid-sleep; check immediately.
		case <-p.clock.After(p.NextInterval()):
		}
	}
}
