package counts_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/github/procpipe/counts"
)

func TestCount64(t *testing.T) {
	assert := assert.New(t)

	c := counts.NewCount64(0)
	assert.Equalf(uint64(0), c.ToUint64(), "NewCount64(0).ToUint64() should be 0")

	c.Increment(counts.Count64(0xf000000000000000))
	assert.Equalf(uint64(0xf000000000000000), c.ToUint64(), "Count64(0xf000000000000000).ToUint64() value")

	c.Increment(counts.Count64(0xf000000000000000))
	assert.Equalf(uint64(0xffffffffffffffff), c.ToUint64(), "Count64(0xffffffffffffffff).ToUint64() value")
}

func TestSum(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(counts.Count64(0), counts.Sum())
	assert.Equal(counts.Count64(6), counts.Sum(1, 2, 3))
	assert.Equal(counts.Count64(0xffffffffffffffff), counts.Sum(0xf000000000000000, 0xf000000000000000, 1))
}
