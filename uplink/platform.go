package uplink

import (
	"sync"
	"time"
)

// Platform supplies the ambient capabilities the core depends on: a
// millisecond clock and a random source for retry jitter. Implementations
// must be safe for concurrent use.
//
// The clock is a wrapping 32-bit millisecond counter. Deadline
// comparisons inside the core use signed differences, so wraparound is
// harmless as long as scheduled delays stay well under 2^31 ms.
type Platform interface {
	// NowMillis returns the current time as a wrapping millisecond counter.
	NowMillis() uint32
	// RandUint32 returns a uniformly distributed random value.
	RandUint32() uint32
}

// SystemPlatform returns the default Platform backed by the wall clock
// and an xorshift32 generator seeded from it. The random source is for
// jitter only, not for anything security sensitive.
func SystemPlatform() Platform {
	return &systemPlatform{state: uint32(time.Now().UnixNano()) | 1}
}

type systemPlatform struct {
	mu    sync.Mutex
	state uint32
}

func (p *systemPlatform) NowMillis() uint32 {
	return uint32(time.Now().UnixMilli())
}

func (p *systemPlatform) RandUint32() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.state
	s ^= s << 13
	s ^= s >> 17
	s ^= s << 5
	p.state = s
	return s
}

// timeIsDue reports whether now has reached due on a wrapping 32-bit
// millisecond clock.
func timeIsDue(now, due uint32) bool {
	return int32(now-due) >= 0
}
