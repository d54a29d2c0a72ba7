// Package procgroup provides the fixed-size cooperating process group the
// streaming core runs inside: rank identity plus the two collective sums the
// write path needs. Every member must invoke collectives in matching order;
// a group never changes membership after creation.
package procgroup

import "errors"

var (
	// ErrCollectiveOrder reports a collective invoked out of sequence with
	// the rest of the group.
	ErrCollectiveOrder = errors.New("collective called out of order")
	ErrClosed          = errors.New("process group closed")
)

// Group is the read-only rank context plus blocking collectives.
type Group interface {
	Rank() int
	Size() int
	// AllReduceSum returns the sum of v across all ranks.
	AllReduceSum(v uint64) (uint64, error)
	// ExScanSum returns the exclusive prefix sum of v over ranks below this
	// one; rank 0 always gets 0.
	ExScanSum(v uint64) (uint64, error)
	Close() error
}

// Serial is the degenerate single-rank group: every collective is identity.
type Serial struct{}

func (Serial) Rank() int { return 0 }

func (Serial) Size() int { return 1 }

func (Serial) AllReduceSum(v uint64) (uint64, error) { return v, nil }

func (Serial) ExScanSum(uint64) (uint64, error) { return 0, nil }

func (Serial) Close() error { return nil }
