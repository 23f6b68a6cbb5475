package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFixedRunIDs_ReturnsInOrder(t *testing.T) {
	gen := NewFixedRunIDs("run-1", "run-2", "run-3")

	assert.Equal(t, "run-1", gen.NewRunID())
	assert.Equal(t, "run-2", gen.NewRunID())
	assert.Equal(t, "run-3", gen.NewRunID())
}

func TestFixedRunIDs_PanicsWhenExhausted(t *testing.T) {
	gen := NewFixedRunIDs("only")
	gen.NewRunID()

	assert.PanicsWithValue(t, "FixedRunIDs: all run IDs exhausted", func() {
		gen.NewRunID()
	})
}

func TestFixedRunIDs_ThreadSafe(t *testing.T) {
	ids := make([]string, 1000)
	for i := range ids {
		ids[i] = "id"
	}
	gen := NewFixedRunIDs(ids...)

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				assert.Equal(t, "id", gen.NewRunID())
			}
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}
