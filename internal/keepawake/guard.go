package keepawake

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"transcode-bridge/internal/domain"
	"transcode-bridge/internal/metrics"
)

// DefaultCeiling bounds how long a token may be held without an explicit release.
const DefaultCeiling = time.Hour

const inhibitReason = "transcode job in progress"

// Stopper cancels a pending expiry.
type Stopper interface {
	Stop() bool
}

// Guard owns the single process-wide stay-awake token.
type Guard struct {
	mu         sync.Mutex
	inhibitor  Inhibitor
	metrics    *metrics.Metrics
	afterFunc  func(time.Duration, func()) Stopper
	now        func() time.Time
	held       bool
	acquiredAt time.Time
	ceiling    time.Duration
	release    func() error
	timer      Stopper
	generation uint64
}

// NewGuard creates a guard backed by the given inhibitor.
func NewGuard(inhibitor Inhibitor, m *metrics.Metrics) *Guard {
	return newGuard(inhibitor, m, func(d time.Duration, fn func()) Stopper {
		return time.AfterFunc(d, fn)
	}, time.Now)
}

// NewGuardForTests creates a guard with an injectable timer and clock.
func NewGuardForTests(inhibitor Inhibitor, afterFunc func(time.Duration, func()) Stopper, now func() time.Time) *Guard {
	return newGuard(inhibitor, nil, afterFunc, now)
}

func newGuard(inhibitor Inhibitor, m *metrics.Metrics, afterFunc func(time.Duration, func()) Stopper, now func() time.Time) *Guard {
	if inhibitor == nil {
		inhibitor = NopInhibitor{}
	}
	return &Guard{
		inhibitor: inhibitor,
		metrics:   m,
		afterFunc: afterFunc,
		now:       now,
	}
}

// Acquire takes the token if it is not already held. It returns true when this call took it.
func (g *Guard) Acquire(ceiling time.Duration) bool {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.held {
		return false
	}

	release, err := g.inhibitor.Inhibit(inhibitReason)
	if err != nil {
		// The token is still tracked so release and expiry stay symmetric.
		log.Warn().Err(err).Msg("keep-awake inhibitor unavailable")
		release = nil
	}

	g.generation++
	gen := g.generation
	g.held = true
	g.acquiredAt = g.now()
	g.ceiling = ceiling
	g.release = release
	g.timer = g.afterFunc(ceiling, func() { g.expire(gen) })
	g.metrics.SetKeepAwake(true)

	log.Debug().Dur("ceiling", ceiling).Msg("keep-awake acquired")
	return true
}

// Release drops the token if held. It returns true when this call released it.
func (g *Guard) Release() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.releaseLocked("released")
}

// Held reports whether the token is currently held.
func (g *Guard) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}

// Token returns a snapshot of the token.
func (g *Guard) Token() domain.KeepAwakeToken {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.held {
		return domain.KeepAwakeToken{}
	}
	return domain.KeepAwakeToken{
		Held:       true,
		AcquiredAt: g.acquiredAt,
		Ceiling:    g.ceiling,
	}
}

func (g *Guard) expire(gen uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if gen != g.generation {
		return
	}
	g.releaseLocked("ceiling reached")
}

func (g *Guard) releaseLocked(reason string) bool {
	if !g.held {
		return false
	}
	if g.timer != nil {
		g.timer.Stop()
	}
	if g.release != nil {
		if err := g.release(); err != nil {
			log.Warn().Err(err).Msg("keep-awake release failed")
		}
	}
	g.held = false
	g.release = nil
	g.timer = nil
	g.acquiredAt = time.Time{}
	g.ceiling = 0
	g.metrics.SetKeepAwake(false)

	log.Debug().Str("reason", reason).Msg("keep-awake released")
	return true
}
