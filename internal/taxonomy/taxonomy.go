// Package taxonomy keeps an in-memory count of how many records carry each
// tag.
package taxonomy

import (
	"sort"
	"sync"
)

// Source enumerates the tag sets of all stored records.
type Source interface {
	EachTagSet(fn func(slug string, tags []string)) error
}

// Tag is one entry of the cache snapshot.
type Tag struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type Cache struct {
	mu     sync.RWMutex
	counts map[string]int
}

func New() *Cache {
	return &Cache{counts: make(map[string]int)}
}

// Rebuild replaces the cache with counts recomputed from src. On error the
// previous counts are kept.
func (c *Cache) Rebuild(src Source) error {
	fresh := make(map[string]int)
	err := src.EachTagSet(func(_ string, tags []string) {
		for _, t := range uniq(tags) {
			fresh[t]++
		}
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.counts = fresh
	c.mu.Unlock()
	return nil
}

// Update applies one record change: every tag in removed loses one holder
// and every tag in added gains one. Tags whose count drops to zero are
// dropped.
func (c *Cache) Update(removed, added []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range uniq(removed) {
		c.counts[t]--
		if c.counts[t] <= 0 {
			delete(c.counts, t)
		}
	}
	for _, t := range uniq(added) {
		c.counts[t]++
	}
}

// Read returns the tags ordered by count, most used first, with ties broken
// alphabetically.
func (c *Cache) Read() []Tag {
	c.mu.RLock()
	out := make([]Tag, 0, len(c.counts))
	for name, n := range c.counts {
		out = append(out, Tag{Name: name, Count: n})
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Names is Read without the counts.
func (c *Cache) Names() []string {
	tags := c.Read()
	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = t.Name
	}
	return names
}

func (c *Cache) Count(tag string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counts[tag]
}

func uniq(tags []string) []string {
	if len(tags) < 2 {
		return tags
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
