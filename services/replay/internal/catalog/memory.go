package catalog

import (
	"context"
	"sync"
)

// InMemoryCatalog is a development and test implementation seeded by hand.
type InMemoryCatalog struct {
	mu     sync.RWMutex
	titles map[string]Title
}

func NewInMemoryCatalog() *InMemoryCatalog {
	return &InMemoryCatalog{titles: make(map[string]Title)}
}

func (c *InMemoryCatalog) Put(t Title) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.titles[t.ID] = t
}

func (c *InMemoryCatalog) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.titles, id)
}

func (c *InMemoryCatalog) GetTitlesByIDs(_ context.Context, ids []string) ([]Title, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Title, 0, len(ids))
	for _, id := range ids {
		if t, ok := c.titles[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}
