// Package engine provides the hotspot policing world and the tick-based loop
// that drives it.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// TickSchedule defines when each callback layer runs. One tick is one
// simulated minute.
const (
	TicksPerSimHour = 60    // 60 ticks = 1 sim-hour
	TicksPerSimDay  = 1440  // 24 hours × 60
	TicksPerSimWeek = 10080 // 7 days × 1440
)

// Engine drives a Simulation forward and serialises access to it: the loop
// is the only writer, readers go through View.
type Engine struct {
	Sim      *Simulation
	Interval time.Duration // Base tick interval at speed 1; 0 runs flat out

	// Callbacks for each tick layer, populated during setup. They run on the
	// loop goroutine with the write lock still held from the step, so they
	// see exactly the state that tick produced. They may use Sim directly
	// but must not call View or Update.
	OnTick func(tick uint64) // Every tick (sim-minute)
	OnHour func(tick uint64) // Every 60 ticks
	OnDay  func(tick uint64) // Every 1440 ticks
	OnWeek func(tick uint64) // Every 10080 ticks

	mu      sync.RWMutex
	speedMu sync.Mutex
	speed   float64 // Multiplier: 1.0 = Interval per tick, 0 = paused
	active  atomic.Bool
}

// NewEngine creates an engine running sim flat out.
func NewEngine(sim *Simulation) *Engine {
	return &Engine{Sim: sim, speed: 1.0}
}

// Speed returns the current speed multiplier.
func (e *Engine) Speed() float64 {
	e.speedMu.Lock()
	defer e.speedMu.Unlock()
	return e.speed
}

// SetSpeed changes the speed multiplier; zero or less pauses the loop.
func (e *Engine) SetSpeed(speed float64) {
	e.speedMu.Lock()
	e.speed = speed
	e.speedMu.Unlock()
	slog.Info("engine speed changed", "speed", speed)
}

// Active reports whether Run is currently executing.
func (e *Engine) Active() bool {
	return e.active.Load()
}

// View runs fn with shared read access to the simulation.
func (e *Engine) View(fn func(*Simulation)) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn(e.Sim)
}

// Update runs fn with exclusive access to the simulation, between ticks.
func (e *Engine) Update(fn func(*Simulation) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.Sim)
}

// Run steps the simulation until it reaches its horizon or ctx is cancelled.
// It returns nil at the horizon and ctx.Err() on cancellation.
func (e *Engine) Run(ctx context.Context) error {
	e.active.Store(true)
	defer e.active.Store(false)

	slog.Info("simulation engine started", "tick", e.Sim.Tick(), "horizon", e.Sim.Horizon(), "speed", e.Speed())

	for {
		if err := ctx.Err(); err != nil {
			slog.Info("simulation engine stopped", "tick", e.Sim.Tick(), "reason", err)
			return err
		}

		speed := e.Speed()
		if speed <= 0 {
			// Paused: check again shortly.
			sleep(ctx, 100*time.Millisecond)
			continue
		}

		start := time.Now()
		if !e.step() {
			slog.Info("simulation reached horizon", "tick", e.Sim.Tick())
			return nil
		}

		// Sleep for the remainder of the tick interval, adjusted for speed.
		if e.Interval > 0 {
			target := time.Duration(float64(e.Interval) / speed)
			if elapsed := time.Since(start); elapsed < target {
				sleep(ctx, target-elapsed)
			}
		}
	}
}

// step advances the simulation by one tick and fires the due callbacks
// without releasing the lock in between, so no Update can land between a
// tick and its callbacks. Returns false when the horizon had already been reached.
func (e *Engine) step() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.Sim.Running() {
		return false
	}
	e.Sim.Step()
	tick := e.Sim.Tick()

	if e.OnTick != nil {
		e.OnTick(tick)
	}
	if tick%TicksPerSimHour == 0 && e.OnHour != nil {
		e.OnHour(tick)
	}
	if tick%TicksPerSimDay == 0 && e.OnDay != nil {
		e.OnDay(tick)
	}
	if tick%TicksPerSimWeek == 0 && e.OnWeek != nil {
		e.OnWeek(tick)
	}
	return true
}

// sleep waits for d or until ctx is done, reporting whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// SimTime returns a human-readable simulation time string from a tick number.
func SimTime(tick uint64) string {
	minutes := tick % 60
	hours := (tick / 60) % 24
	days := tick/TicksPerSimDay + 1
	return fmt.Sprintf("Day %d, %02d:%02d", days, hours, minutes)
}
