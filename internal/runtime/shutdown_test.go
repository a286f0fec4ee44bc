package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdown_RunsHooksInReverseOrder(t *testing.T) {
	m := NewShutdownManager(time.Second)
	var order []string
	for _, name := range []string{"first", "second", "third"} {
		m.Register(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, m.Shutdown())
	assert.Equal(t, []string{"third", "second", "first"}, order)
}

func TestShutdown_OnlyOnce(t *testing.T) {
	m := NewShutdownManager(time.Second)
	calls := 0
	m.Register("count", func(context.Context) error {
		calls++
		return nil
	})

	_ = m.Shutdown()
	_ = m.Shutdown()
	assert.Equal(t, 1, calls)

	select {
	case <-m.Done():
	default:
		t.Fatal("Done() not closed after shutdown")
	}
	assert.Error(t, m.Context().Err())
}

func TestShutdown_JoinsErrors(t *testing.T) {
	m := NewShutdownManager(time.Second)
	boom := errors.New("boom")
	m.Register("ok", func(context.Context) error { return nil })
	m.Register("bad", func(context.Context) error { return boom })

	err := m.Shutdown()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "bad: boom")
}
