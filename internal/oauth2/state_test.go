package oauth2

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateGenerator_Memoizes(t *testing.T) {
	keys := &fixedKeys{keys: []string{"first", "second"}}
	gen := NewStateGenerator(keys)

	s1, err := gen.GenerateState()
	require.NoError(t, err)
	s2, err := gen.GenerateState()
	require.NoError(t, err)

	assert.Equal(t, "first", s1)
	assert.Equal(t, s1, s2)
	assert.Equal(t, 1, keys.calls)
}

func TestStateGenerator_Concurrent(t *testing.T) {
	gen := NewStateGenerator(nil)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		states = make(map[string]struct{})
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := gen.GenerateState()
			assert.NoError(t, err)
			mu.Lock()
			states[s] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, states, 1)
}

func TestStateGenerator_IndependentInstances(t *testing.T) {
	s1, err := NewStateGenerator(nil).GenerateState()
	require.NoError(t, err)
	s2, err := NewStateGenerator(nil).GenerateState()
	require.NoError(t, err)

	assert.NotEqual(t, s1, s2)

	parsed, err := uuid.Parse(s1)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), parsed.Version())
}
