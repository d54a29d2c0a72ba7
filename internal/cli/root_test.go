package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGroupSize(t *testing.T) {
	t.Setenv("STEPIO_SIZE", "")
	assert.Equal(t, 1, groupSize())

	t.Setenv("STEPIO_SIZE", "1")
	assert.Equal(t, 1, groupSize())

	t.Setenv("STEPIO_SIZE", "3")
	assert.Equal(t, 3, groupSize())
}
