package vmem

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvironmentQueries(t *testing.T) {
	ps := PageSize()
	assert.Positive(t, ps)
	assert.Zero(t, ps&(ps-1), "page size %d is not a power of two", ps)

	cl := CacheLineSize()
	assert.Positive(t, cl)
	assert.LessOrEqual(t, cl, ps)
}
