package zarrindex

import (
	"container/list"
	"sync"
)

// chunkCache holds decoded index chunks, keyed by "<array>/<chunk key>",
// evicting the least recently used once full.
type chunkCache struct {
	mu    sync.Mutex
	size  int
	index map[string]*list.Element
	order *list.List // front is most recently used
}

type cachedChunk struct {
	key    string
	values []float64
}

func newChunkCache(size int) *chunkCache {
	return &chunkCache{
		size:  size,
		index: make(map[string]*list.Element, size),
		order: list.New(),
	}
}

func (c *chunkCache) get(key string) ([]float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.index[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*cachedChunk).values, true
}

func (c *chunkCache) put(key string, values []float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[key]; ok {
		elem.Value.(*cachedChunk).values = values
		c.order.MoveToFront(elem)
		return
	}
	c.index[key] = c.order.PushFront(&cachedChunk{key: key, values: values})

	for c.order.Len() > c.size {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.index, oldest.Value.(*cachedChunk).key)
	}
}

func (c *chunkCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
