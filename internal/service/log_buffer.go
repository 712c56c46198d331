package service

import (
	"strings"
	"sync"
)

// LogBuffer 累积运行日志行，并向订阅者广播新行
type LogBuffer struct {
	mu          sync.RWMutex
	lines       []string
	maxLines    int
	subscribers map[int]chan string
	nextID      int
}

func NewLogBuffer(maxLines int) *LogBuffer {
	if maxLines <= 0 {
		maxLines = 10000
	}
	return &LogBuffer{
		maxLines:    maxLines,
		subscribers: make(map[int]chan string),
	}
}

// Write 实现 io.Writer，每次写入可能包含多行
func (b *LogBuffer) Write(p []byte) (int, error) {
	text := strings.TrimRight(string(p), "\n")
	if text == "" {
		return len(p), nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, line := range strings.Split(text, "\n") {
		b.lines = append(b.lines, line)
		for _, ch := range b.subscribers {
			// 订阅者消费太慢时丢弃，不阻塞日志写入
			select {
			case ch <- line:
			default:
			}
		}
	}
	if len(b.lines) > b.maxLines {
		b.lines = b.lines[len(b.lines)-b.maxLines:]
	}
	return len(p), nil
}

// Lines 返回当前缓冲的副本
func (b *LogBuffer) Lines() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

// Subscribe 注册一个新行通道，返回取消函数
func (b *LogBuffer) Subscribe(buffer int) (<-chan string, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribeLocked(buffer)
}

// Follow 在同一把锁内取出已有行并订阅，保证不丢行也不重复
func (b *LogBuffer) Follow(buffer int) ([]string, <-chan string, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	backlog := make([]string, len(b.lines))
	copy(backlog, b.lines)
	ch, cancel := b.subscribeLocked(buffer)
	return backlog, ch, cancel
}

func (b *LogBuffer) subscribeLocked(buffer int) (<-chan string, func()) {
	id := b.nextID
	b.nextID++
	ch := make(chan string, buffer)
	b.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *LogBuffer) Reset() {
	b.mu.Lock()
	b.lines = nil
	b.mu.Unlock()
}
