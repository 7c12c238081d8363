package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockAfter(t *testing.T) {
	m := NewMock()
	start := m.Now()

	ch := m.After(5 * time.Second)
	require.Equal(t, 1, m.Waiters())

	// 未到期时不应触发
	m.Add(4 * time.Second)
	select {
	case <-ch:
		t.Fatal("等待者提前触发")
	default:
	}

	m.Add(time.Second)
	select {
	case fired := <-ch:
		assert.Equal(t, start.Add(5*time.Second), fired)
	default:
		t.Fatal("等待者应当已触发")
	}
	assert.Equal(t, 0, m.Waiters())
}

func TestMockAfterZeroDuration(t *testing.T) {
	m := NewMock()
	select {
	case <-m.After(0):
	default:
		t.Fatal("零时长应立即触发")
	}
}

func TestMockBlockUntil(t *testing.T) {
	m := NewMock()
	go func() {
		time.Sleep(10 * time.Millisecond)
		m.After(time.Minute)
	}()
	assert.True(t, m.BlockUntil(1, time.Second))
	assert.False(t, m.BlockUntil(2, 20*time.Millisecond))
}
