package gateway

import (
	"hash/fnv"
	"sync"
)

// ClientIDs 把本地 CorrelationID（uuid 字符串）映射为 Backpack 要求的 uint32 clientId，
// 并支持私有流回报反查。REST 与 WS 共享同一个实例。
type ClientIDs struct {
	mu      sync.RWMutex
	forward map[string]uint32
	reverse map[uint32]string
}

func NewClientIDs() *ClientIDs {
	return &ClientIDs{
		forward: make(map[string]uint32),
		reverse: make(map[uint32]string),
	}
}

// Register 为 correlationID 分配 clientId；哈希冲突时线性探测。
func (c *ClientIDs) Register(correlationID string) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.forward[correlationID]; ok {
		return id
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(correlationID))
	id := h.Sum32()
	for {
		if id == 0 {
			id = 1
		}
		if _, taken := c.reverse[id]; !taken {
			break
		}
		id++
	}
	c.forward[correlationID] = id
	c.reverse[id] = correlationID
	return id
}

// Lookup 私有流回报中的 clientId 反查 correlationID。
func (c *ClientIDs) Lookup(id uint32) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cid, ok := c.reverse[id]
	return cid, ok
}

// Release 订单终态后释放映射。
func (c *ClientIDs) Release(correlationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.forward[correlationID]; ok {
		delete(c.forward, correlationID)
		delete(c.reverse, id)
	}
}

func (c *ClientIDs) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.forward)
}
