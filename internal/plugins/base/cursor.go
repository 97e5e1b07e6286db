package base

import (
	"sync"
	"time"
)

// Cursors 增量同步游标（按设备）
//
// ReadData 只暂存本次读到的最新时间（Stage），读数落库后才由
// CommitSync 推进（Commit）。落库失败时游标不动，下一次同步会重新读取。
type Cursors struct {
	mu        sync.Mutex
	committed map[string]time.Time
	pending   map[string]time.Time
}

// NewCursors 创建空游标表
func NewCursors() *Cursors {
	return &Cursors{
		committed: make(map[string]time.Time),
		pending:   make(map[string]time.Time),
	}
}

// Get 已提交的游标
func (c *Cursors) Get(deviceID string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.committed[deviceID]
	return t, ok
}

// Stage 暂存本次同步的最新时间，只前进不后退
func (c *Cursors) Stage(deviceID string, t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.committed[deviceID]; ok && !t.After(cur) {
		delete(c.pending, deviceID)
		return
	}
	c.pending[deviceID] = t
}

// Commit 提交暂存的游标
func (c *Cursors) Commit(deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.pending[deviceID]; ok {
		c.committed[deviceID] = t
		delete(c.pending, deviceID)
	}
}

// Clear 丢弃设备的游标（断开连接时）
func (c *Cursors) Clear(deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.committed, deviceID)
	delete(c.pending, deviceID)
}

// Reset 丢弃全部游标（Destroy 时）
func (c *Cursors) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.committed = make(map[string]time.Time)
	c.pending = make(map[string]time.Time)
}
