package snowflake

import (
	"fmt"
	"sync"
	"time"
)

// epoch is an arbitrary millisecond timestamp that ids are measured from,
// giving the 41 timestamp bits about 69 years of headroom.
const epoch = 1491696000000

// Generator produces roughly time-sortable 63-bit ids: 41 bits of millisecond
// timestamp, 10 bits of machine id and a 12 bit per-millisecond sequence.
type Generator struct {
	mu        sync.Mutex
	machineID uint64
	lastTime  uint64
	sequence  uint64
}

// New returns a Generator for the given machine id. machineID must be in
// [0, 1023].
func New(machineID int) *Generator {
	if machineID < 0 || machineID > 1023 {
		panic(fmt.Errorf("invalid machine id: %d", machineID))
	}
	return &Generator{machineID: uint64(machineID)}
}

// MachineID returns the machine id the generator was created with.
func (g *Generator) MachineID() int {
	return int(g.machineID)
}

// Next returns the next id. It blocks when the 12 bit sequence overflows
// within a single millisecond.
func (g *Generator) Next() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := nowMillis()
	if now < g.lastTime {
		// Clock went backwards; hold the last observed time so ids stay
		// monotonic.
		now = g.lastTime
	}
	if now == g.lastTime {
		g.sequence = (g.sequence + 1) & 0xFFF
		if g.sequence == 0 {
			for now <= g.lastTime {
				now = nowMillis()
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastTime = now

	return (now-epoch)<<22 | g.machineID<<12 | g.sequence
}

func nowMillis() uint64 {
	return uint64(time.Now().UnixMilli())
}
