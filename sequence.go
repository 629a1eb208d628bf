package endoscope

// counterPeriod is the wraparound period of the 8 bit frame counter.
const counterPeriod = 256

// Resolve maps an 8 bit frame counter onto the absolute frame id closest to last.
// Of the three candidates around last's 256 block the nearest one wins; on a tie
// the candidate above last is chosen. The result is always within 128 of last.
func Resolve(raw uint8, last int64) int64 {
	base := last &^ (counterPeriod - 1)
	best := base + int64(raw)
	bestDistance := distance(best, last)
	for _, candidate := range [2]int64{best - counterPeriod, best + counterPeriod} {
		d := distance(candidate, last)
		if d < bestDistance || (d == bestDistance && candidate > best) {
			best, bestDistance = candidate, d
		}
	}
	return best
}

func distance(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}

// SequenceResolver turns the stream of raw counters into absolute frame ids.
type SequenceResolver struct {
	last   int64
	inited bool
}

// Next resolves raw against the previously resolved id and remembers the result.
// The first counter seen becomes its own absolute id.
func (s *SequenceResolver) Next(raw uint8) int64 {
	if !s.inited {
		s.last = int64(raw)
		s.inited = true
		return s.last
	}
	s.last = Resolve(raw, s.last)
	return s.last
}

// Last returns the most recently resolved id and whether any counter was seen yet.
func (s *SequenceResolver) Last() (int64, bool) {
	return s.last, s.inited
}

func (s *SequenceResolver) Reset() {
	s.last = 0
	s.inited = false
}
