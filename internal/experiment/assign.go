package experiment

import (
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Assigner picks a variation and group for new sessions. It is safe for
// concurrent use.
type Assigner struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewAssigner returns an Assigner drawing from rnd, or from a time-seeded
// source when rnd is nil.
func NewAssigner(rnd *rand.Rand) *Assigner {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Assigner{rnd: rnd}
}

// AssignVariation returns current unchanged when it is already a valid
// variation, otherwise a uniformly random one.
func (a *Assigner) AssignVariation(current Variation) Variation {
	if v, ok := ParseVariation(string(current)); ok {
		return v
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return Variations[a.rnd.Intn(len(Variations))]
}

// AssignGroup honours a valid override and otherwise picks uniformly.
func (a *Assigner) AssignGroup(override string) Group {
	if g, ok := ParseGroup(override); ok {
		return g
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return Groups[a.rnd.Intn(len(Groups))]
}

func ParseGroup(s string) (Group, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, g := range Groups {
		if string(g) == s {
			return g, true
		}
	}
	return "", false
}

func ParseVariation(s string) (Variation, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, v := range Variations {
		if string(v) == s {
			return v, true
		}
	}
	return "", false
}
