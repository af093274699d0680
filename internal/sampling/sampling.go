package sampling

import (
	"math/rand"
	"sync"
	"time"
)

// Gate decides per event whether it may be queued at all. Opt-out wins over
// the sample rate; decisions are independent between events.
type Gate struct {
	mu     sync.Mutex
	rand   *rand.Rand
	rate   int
	optOut bool
}

// New creates a gate with the given sample rate in percent. Values outside
// [0,100] are clamped; 100 accepts everything, 0 accepts nothing.
func New(rate int, optOut bool) *Gate {
	if rate < 0 {
		rate = 0
	}
	if rate > 100 {
		rate = 100
	}
	return &Gate{
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
		rate:   rate,
		optOut: optOut,
	}
}

func (g *Gate) ShouldEnqueue() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.optOut {
		return false
	}
	if g.rate >= 100 {
		return true
	}
	return g.rand.Intn(100) < g.rate
}

func (g *Gate) SetOptOut(optOut bool) {
	g.mu.Lock()
	g.optOut = optOut
	g.mu.Unlock()
}

func (g *Gate) OptOut() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.optOut
}
