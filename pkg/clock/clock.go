package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock 定义组件访问时间的方式，便于测试中替换
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// System 基于真实时间的默认实现
var System Clock = systemClock{}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Mock 手动推进的时钟，仅用于测试
type Mock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []waiter
	// 每次有新的等待者加入时通知，测试可据此同步
	added chan struct{}
}

type waiter struct {
	until time.Time
	ch    chan time.Time
}

var _ Clock = (*Mock)(nil)

// NewMock 创建一个以当前真实时间为起点的模拟时钟
func NewMock() *Mock {
	return &Mock{
		now:   time.Now(),
		added: make(chan struct{}, 1024),
	}
}

// Now 返回模拟时间
func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// After 返回在模拟时间推进d之后触发的通道
func (m *Mock) After(d time.Duration) <-chan time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- m.now
		return ch
	}
	m.waiters = append(m.waiters, waiter{until: m.now.Add(d), ch: ch})
	select {
	case m.added <- struct{}{}:
	default:
	}
	return ch
}

// Add 推进模拟时间并触发所有到期的等待者
func (m *Mock) Add(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	now := m.now

	sort.Slice(m.waiters, func(i, j int) bool {
		return m.waiters[i].until.Before(m.waiters[j].until)
	})
	var fired []waiter
	remaining := m.waiters[:0]
	for _, w := range m.waiters {
		if !w.until.After(now) {
			fired = append(fired, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	m.waiters = remaining
	m.mu.Unlock()

	for _, w := range fired {
		w.ch <- now
	}
}

// Waiters 返回当前尚未触发的等待者数量
func (m *Mock) Waiters() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}

// BlockUntil 阻塞直到至少有n个等待者，超时返回false
func (m *Mock) BlockUntil(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if m.Waiters() >= n {
			return true
		}
		select {
		case <-m.added:
		case <-time.After(time.Millisecond):
		case <-deadline:
			return m.Waiters() >= n
		}
	}
}
