package pipeline

import "sync"

// Stats holds best-effort per-instance counters exposed by GET /stats.
// They are not globally consistent across instances.
type Stats struct {
	mu                sync.Mutex
	turnsByMode       map[string]uint64
	repairPassesByNum map[int]uint64
	fallbacks         uint64
	loopSubstitutions uint64
	eiEmitted         uint64
	eiRejected        uint64
	providerFailures  uint64
}

// NewStats creates an empty counter set.
func NewStats() *Stats {
	return &Stats{
		turnsByMode:       make(map[string]uint64),
		repairPassesByNum: make(map[int]uint64),
	}
}

func (s *Stats) incTurn(mode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnsByMode[mode]++
}

func (s *Stats) incRepairPass(pass int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repairPassesByNum[pass]++
}

func (s *Stats) incFallback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallbacks++
}

func (s *Stats) incLoopSubstitution() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loopSubstitutions++
}

func (s *Stats) incEiEmitted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eiEmitted++
}

func (s *Stats) incEiRejected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eiRejected++
}

func (s *Stats) incProviderFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providerFailures++
}

// Snapshot returns a copy of the counters for serialization.
func (s *Stats) Snapshot() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := make(map[string]uint64, len(s.turnsByMode))
	for k, v := range s.turnsByMode {
		turns[k] = v
	}
	passes := make(map[int]uint64, len(s.repairPassesByNum))
	for k, v := range s.repairPassesByNum {
		passes[k] = v
	}
	return map[string]interface{}{
		"turns_by_mode":      turns,
		"repair_passes":      passes,
		"fallbacks":          s.fallbacks,
		"loop_substitutions": s.loopSubstitutions,
		"ei_emitted":         s.eiEmitted,
		"ei_rejected":        s.eiRejected,
		"provider_failures":  s.providerFailures,
	}
}
