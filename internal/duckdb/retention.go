package duckdb

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/OldManSaturn/siem-saltbuild/internal/model"
)

const (
	// DefaultRetentionDays applies to every protocol without an override.
	DefaultRetentionDays = 30
	// DefaultRetentionInterval is how often expired records are swept.
	DefaultRetentionInterval = time.Hour
)

// RetentionConfig sets how long records are kept. ProtocolDays overrides
// RetentionDays for a single transport; an override of 0 keeps that
// transport's records forever.
type RetentionConfig struct {
	RetentionDays int
	ProtocolDays  map[model.Protocol]int
	Interval      time.Duration
}

// days resolves the retention for each protocol. Protocols kept forever are
// left out.
func (c RetentionConfig) days() map[model.Protocol]int {
	out := make(map[model.Protocol]int, len(model.Protocols))
	for _, p := range model.Protocols {
		d := c.RetentionDays
		if override, ok := c.ProtocolDays[p]; ok {
			d = override
		}
		if d > 0 {
			out[p] = d
		}
	}
	return out
}

// RetentionSweep reports one cleanup pass.
type RetentionSweep struct {
	At        time.Time
	Deleted   map[model.Protocol]int64
	Remaining map[model.Protocol]int64
	Err       error
}

// TotalDeleted sums Deleted over all protocols.
func (s RetentionSweep) TotalDeleted() int64 {
	var n int64
	for _, d := range s.Deleted {
		n += d
	}
	return n
}

// RetentionCleaner deletes records whose received_at is older than the
// retention of their protocol. It sweeps once on start and then every
// Interval until Stop.
type RetentionCleaner struct {
	store    *Store
	days     map[model.Protocol]int
	interval time.Duration
	now      func() time.Time

	cancel   context.CancelFunc
	finished chan struct{}

	mu   sync.Mutex
	last RetentionSweep
}

// NewRetentionCleaner starts a cleaner for store. It returns nil when no
// protocol has a positive retention.
func NewRetentionCleaner(store *Store, conf ...RetentionConfig) *RetentionCleaner {
	cfg := RetentionConfig{RetentionDays: DefaultRetentionDays}
	if len(conf) > 0 {
		cfg = conf[0]
	}
	days := cfg.days()
	if len(days) == 0 {
		return nil
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultRetentionInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	rc := &RetentionCleaner{
		store:    store,
		days:     days,
		interval: interval,
		now:      time.Now,
		cancel:   cancel,
		finished: make(chan struct{}),
	}

	// Catch up on anything that expired while the agent was down.
	rc.Sweep()

	go rc.run(ctx)
	return rc
}

func (rc *RetentionCleaner) run(ctx context.Context) {
	defer close(rc.finished)
	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rc.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// Sweep deletes expired records for every retained protocol, then counts
// what is left. A failure on one protocol does not skip the others; the
// first error is kept on the result.
func (rc *RetentionCleaner) Sweep() RetentionSweep {
	sweep := RetentionSweep{
		At:        rc.now(),
		Deleted:   make(map[model.Protocol]int64, len(rc.days)),
		Remaining: make(map[model.Protocol]int64, len(rc.days)),
	}

	for _, p := range model.Protocols {
		days, ok := rc.days[p]
		if !ok {
			continue
		}
		opts := QueryOpts{Protocol: p}
		cutoff := sweep.At.Add(-time.Duration(days) * 24 * time.Hour)
		n, err := rc.store.DeleteBefore(cutoff, opts)
		if err != nil {
			log.Printf("duckdb: retention sweep of %s records failed: %v", p, err)
			if sweep.Err == nil {
				sweep.Err = err
			}
			continue
		}
		sweep.Deleted[p] = n

		left, err := rc.store.TotalLogCount(opts)
		if err != nil {
			if sweep.Err == nil {
				sweep.Err = err
			}
			continue
		}
		sweep.Remaining[p] = left
		if n > 0 {
			log.Printf("duckdb: retention removed %d %s records older than %d days, %d remain", n, p, days, left)
		}
	}

	rc.mu.Lock()
	rc.last = sweep
	rc.mu.Unlock()
	return sweep
}

// LastSweep returns the most recent pass.
func (rc *RetentionCleaner) LastSweep() RetentionSweep {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.last
}

// Days returns the retention in days for p, or 0 when p is kept forever.
func (rc *RetentionCleaner) Days(p model.Protocol) int {
	return rc.days[p]
}

// Stop ends the sweep loop and waits for an in-flight pass. Safe to call
// more than once.
func (rc *RetentionCleaner) Stop() {
	rc.cancel()
	<-rc.finished
}
