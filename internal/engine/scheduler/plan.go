package scheduler

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPeriods is returned when the configured periods cannot be served
// by a single tick.
var ErrInvalidPeriods = errors.New("invalid scheduler periods")

// Plan maps every configured period onto integer multiples of one tick, the
// smallest period.
type Plan struct {
	tick      time.Duration
	periods   []time.Duration
	multiples []uint64
	cycle     uint64
}

// NewPlan builds a Plan. Periods must be non-empty, sorted ascending and each
// an exact multiple of the first one.
func NewPlan(periods []time.Duration) (*Plan, error) {
	if len(periods) == 0 {
		return nil, fmt.Errorf("%w: no periods configured", ErrInvalidPeriods)
	}
	tick := periods[0]
	if tick <= 0 {
		return nil, fmt.Errorf("%w: smallest period %s is not positive", ErrInvalidPeriods, tick)
	}

	p := &Plan{
		tick:      tick,
		periods:   append([]time.Duration(nil), periods...),
		multiples: make([]uint64, len(periods)),
		cycle:     1,
	}
	for i, period := range periods {
		if i > 0 && period < periods[i-1] {
			return nil, fmt.Errorf("%w: %s listed after %s, periods must be ascending", ErrInvalidPeriods, period, periods[i-1])
		}
		if period%tick != 0 {
			return nil, fmt.Errorf("%w: %s is not a multiple of %s", ErrInvalidPeriods, period, tick)
		}
		p.multiples[i] = uint64(period / tick)
		p.cycle = lcm(p.cycle, p.multiples[i])
	}
	return p, nil
}

// Tick returns the wake-up interval of the scheduler loop.
func (p *Plan) Tick() time.Duration {
	return p.tick
}

// Period returns period i.
func (p *Plan) Period(i int) time.Duration {
	return p.periods[i]
}

// Len returns the number of periods served.
func (p *Plan) Len() int {
	return len(p.periods)
}

// Multiples returns period_i / tick for every period.
func (p *Plan) Multiples() []uint64 {
	return append([]uint64(nil), p.multiples...)
}

// Cycle returns the number of ticks after which the firing pattern repeats.
// It equals the largest multiple when every multiple divides it.
func (p *Plan) Cycle() uint64 {
	return p.cycle
}

// Due returns the indices of the periods firing on the given tick number.
func (p *Plan) Due(tick uint64) []int {
	var due []int
	for i, m := range p.multiples {
		if tick%m == 0 {
			due = append(due, i)
		}
	}
	return due
}

// Next returns the tick number following tick, wrapping at the cycle length.
func (p *Plan) Next(tick uint64) uint64 {
	return (tick + 1) % p.cycle
}

func gcd(a, b uint64) uint64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b uint64) uint64 {
	return a / gcd(a, b) * b
}
