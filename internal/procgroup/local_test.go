package procgroup

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerial(t *testing.T) {
	g := Serial{}
	assert.Equal(t, 0, g.Rank())
	assert.Equal(t, 1, g.Size())

	sum, err := g.AllReduceSum(7)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), sum)

	prefix, err := g.ExScanSum(7)
	require.NoError(t, err)
	assert.Zero(t, prefix)
}

func TestNewLocal_Validation(t *testing.T) {
	_, err := NewLocal(0)
	assert.Error(t, err)
	_, err = NewLocal(-2)
	assert.Error(t, err)
}

// runCollective drives fn on every member concurrently and returns the
// per-rank results.
func runCollective(t *testing.T, members []Group, fn func(g Group) (uint64, error)) []uint64 {
	t.Helper()
	out := make([]uint64, len(members))
	errs := make([]error, len(members))
	var wg sync.WaitGroup
	for rank, g := range members {
		wg.Add(1)
		go func(rank int, g Group) {
			defer wg.Done()
			out[rank], errs[rank] = fn(g)
		}(rank, g)
	}
	wg.Wait()
	for rank, err := range errs {
		require.NoError(t, err, "rank %d", rank)
	}
	return out
}

func TestLocal_AllReduceSum(t *testing.T) {
	members, err := NewLocal(4)
	require.NoError(t, err)

	inputs := []uint64{3, 7, 2, 4}
	sums := runCollective(t, members, func(g Group) (uint64, error) {
		return g.AllReduceSum(inputs[g.Rank()])
	})
	for rank, sum := range sums {
		assert.Equal(t, uint64(16), sum, "rank %d", rank)
	}
}

func TestLocal_ExScanSum(t *testing.T) {
	members, err := NewLocal(4)
	require.NoError(t, err)

	inputs := []uint64{3, 7, 2, 4}
	prefixes := runCollective(t, members, func(g Group) (uint64, error) {
		return g.ExScanSum(inputs[g.Rank()])
	})
	assert.Equal(t, []uint64{0, 3, 10, 12}, prefixes)
}

func TestLocal_RepeatedRounds(t *testing.T) {
	members, err := NewLocal(3)
	require.NoError(t, err)

	for round := uint64(1); round <= 5; round++ {
		sums := runCollective(t, members, func(g Group) (uint64, error) {
			return g.AllReduceSum(round * uint64(g.Rank()+1))
		})
		want := round * 6 // 1+2+3 scaled
		for rank, sum := range sums {
			assert.Equal(t, want, sum, "round %d rank %d", round, rank)
		}
	}
}

func TestLocal_ClosedMemberErrors(t *testing.T) {
	members, err := NewLocal(2)
	require.NoError(t, err)
	require.NoError(t, members[0].Close())

	_, err = members[0].AllReduceSum(1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestAMQP_ConfigValidation(t *testing.T) {
	_, err := NewAMQP(AMQPConfig{Rank: 0, Size: 0, GroupID: "g"})
	assert.Error(t, err)
	_, err = NewAMQP(AMQPConfig{Rank: 3, Size: 2, GroupID: "g"})
	assert.Error(t, err)
	_, err = NewAMQP(AMQPConfig{Rank: -1, Size: 2, GroupID: "g"})
	assert.Error(t, err)
}

func TestAMQPConfig_Defaults(t *testing.T) {
	cfg := AMQPConfig{Rank: 0, Size: 2}
	require.NoError(t, cfg.normalize())
	assert.Equal(t, DefaultAMQPURL, cfg.URL)
	assert.NotEmpty(t, cfg.GroupID)

	other := AMQPConfig{Rank: 0, Size: 2}
	require.NoError(t, other.normalize())
	assert.NotEqual(t, cfg.GroupID, other.GroupID, "generated group IDs are unique")

	keep := AMQPConfig{Rank: 1, Size: 2, GroupID: "sim-42", URL: "amqp://broker/"}
	require.NoError(t, keep.normalize())
	assert.Equal(t, "sim-42", keep.GroupID)
	assert.Equal(t, "amqp://broker/", keep.URL)
}
