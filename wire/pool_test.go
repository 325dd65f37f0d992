package wire

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolGetSized(t *testing.T) {
	p := NewPool()
	l := p.Get(100)
	require.Len(t, l.Memory(), 100)
	l.Dispose()
}

func TestLeasePreserveDisposeBalanced(t *testing.T) {
	p := NewPool()
	l := p.Get(16)
	before := l.RefCount()
	l.Preserve()
	l.Dispose()
	assert.Equal(t, before, l.RefCount())
	l.Dispose()
}

func TestLeasePinUnpin(t *testing.T) {
	p := NewPool()
	l := p.Get(16)
	mem := l.Pin()
	require.Len(t, mem, 16)
	l.Unpin()
	l.Dispose()
}

func TestLeaseDisposeReturnsToPool(t *testing.T) {
	p := NewPool()
	l := p.Get(16)
	l.Dispose()
	assert.Equal(t, int32(0), l.RefCount())
}

func TestLeaseConcurrentPreserveDispose(t *testing.T) {
	p := NewPool()
	l := p.Get(64)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		l.Preserve()
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Dispose()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), l.RefCount())
	l.Dispose()
}

func TestPoolOversizedRequest(t *testing.T) {
	p := NewPool()
	l := p.Get(1 << 20)
	require.Len(t, l.Memory(), 1<<20)
	l.Dispose()
}
