package economy

import (
	"context"
	"log"
	"time"
)

// Runtime owns an Engine on a single goroutine and serializes all outside
// access over a request channel. Handlers never touch the engine directly.
type Runtime struct {
	eng *Engine
	log *log.Logger

	tickEvery     time.Duration
	autosaveEvery time.Duration

	reqs  chan func(*Engine)
	pause chan bool
	stop  chan struct{}

	// Called on the loop goroutine after each autosave interval.
	OnAutosave func(*Engine)
	// Called on the loop goroutine after each processed tick.
	OnTick func(*Engine, int64)
}

func NewRuntime(eng *Engine, logger *log.Logger) *Runtime {
	tickMs := eng.tune.TickMs
	if tickMs <= 0 {
		tickMs = 200
	}
	r := &Runtime{
		eng:       eng,
		log:       logger,
		tickEvery: time.Duration(tickMs) * time.Millisecond,
		reqs:      make(chan func(*Engine), 64),
		pause:     make(chan bool, 1),
		stop:      make(chan struct{}),
	}
	if eng.tune.AutosaveEverySec > 0 {
		r.autosaveEvery = time.Duration(eng.tune.AutosaveEverySec) * time.Second
	}
	return r
}

// Do runs fn on the loop goroutine and waits for it to finish.
func (r *Runtime) Do(ctx context.Context, fn func(*Engine)) error {
	done := make(chan struct{})
	wrapped := func(e *Engine) {
		fn(e)
		close(done)
	}
	select {
	case r.reqs <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.stop:
		return context.Canceled
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetPaused suspends or resumes ticking. Resuming resynchronizes the time
// base so the paused gap is not replayed as elapsed production.
func (r *Runtime) SetPaused(p bool) {
	select {
	case r.pause <- p:
	case <-r.stop:
	}
}

func (r *Runtime) Stop() { close(r.stop) }

func (r *Runtime) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.tickEvery)
	defer ticker.Stop()

	var autosaveC <-chan time.Time
	if r.autosaveEvery > 0 {
		at := time.NewTicker(r.autosaveEvery)
		defer at.Stop()
		autosaveC = at.C
	}

	paused := false
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stop:
			return nil
		case p := <-r.pause:
			if paused && !p {
				last = time.Now()
			}
			paused = p
		case fn := <-r.reqs:
			fn(r.eng)
		case now := <-ticker.C:
			if paused {
				last = now
				continue
			}
			deltaMs := now.Sub(last).Milliseconds()
			last = now
			if deltaMs <= 0 {
				continue
			}
			r.eng.Multipliers().ProcessExpired(now.UnixMilli())
			r.eng.ProcessTick(deltaMs)
			if r.OnTick != nil {
				r.OnTick(r.eng, deltaMs)
			}
		case <-autosaveC:
			if r.OnAutosave != nil {
				r.OnAutosave(r.eng)
			}
		}
	}
}
