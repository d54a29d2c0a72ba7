package procgroup

import (
	"fmt"
	"sync"
)

// NewLocal creates an in-process group of n members sharing one coordinator.
// Each returned Group belongs to one goroutine; collectives block until all
// n members have contributed.
func NewLocal(n int) ([]Group, error) {
	if n <= 0 {
		return nil, fmt.Errorf("group size must be positive, got %d", n)
	}
	c := &localCoordinator{n: n, rounds: make(map[uint64]*localRound)}
	members := make([]Group, n)
	for r := 0; r < n; r++ {
		members[r] = &localMember{coord: c, rank: r}
	}
	return members, nil
}

type localCoordinator struct {
	n      int
	mu     sync.Mutex
	rounds map[uint64]*localRound
}

type localRound struct {
	vals []uint64
	set  []bool
	got  int
	done chan struct{}
}

// collect contributes v to round seq and blocks until the round is complete.
// Rounds are sequence-tagged so a member that skipped or repeated a
// collective trips a duplicate-contribution error instead of silently
// desynchronizing the group.
func (c *localCoordinator) collect(seq uint64, rank int, v uint64) ([]uint64, error) {
	c.mu.Lock()
	round, ok := c.rounds[seq]
	if !ok {
		round = &localRound{
			vals: make([]uint64, c.n),
			set:  make([]bool, c.n),
			done: make(chan struct{}),
		}
		c.rounds[seq] = round
	}
	if round.set[rank] {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: rank %d contributed twice to round %d", ErrCollectiveOrder, rank, seq)
	}
	round.set[rank] = true
	round.vals[rank] = v
	round.got++
	if round.got == c.n {
		delete(c.rounds, seq)
		close(round.done)
	}
	c.mu.Unlock()

	<-round.done
	return round.vals, nil
}

type localMember struct {
	coord  *localCoordinator
	rank   int
	seq    uint64
	closed bool
}

func (m *localMember) Rank() int { return m.rank }
func (m *localMember) Size() int { return m.coord.n }

func (m *localMember) AllReduceSum(v uint64) (uint64, error) {
	vals, err := m.contribute(v)
	if err != nil {
		return 0, err
	}
	var sum uint64
	for _, x := range vals {
		sum += x
	}
	return sum, nil
}

func (m *localMember) ExScanSum(v uint64) (uint64, error) {
	vals, err := m.contribute(v)
	if err != nil {
		return 0, err
	}
	var sum uint64
	for _, x := range vals[:m.rank] {
		sum += x
	}
	return sum, nil
}

func (m *localMember) contribute(v uint64) ([]uint64, error) {
	if m.closed {
		return nil, ErrClosed
	}
	seq := m.seq
	m.seq++
	return m.coord.collect(seq, m.rank, v)
}

func (m *localMember) Close() error {
	m.closed = true
	return nil
}
