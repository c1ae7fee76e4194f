// Package regex provides the process wide lookup-or-compile cache for rule
// patterns.
package regex

import (
	"fmt"
	"sync"
	"time"

	"github.com/dlclark/regexp2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sunbk201/httpmod/internal/metrics"
)

const (
	DefaultSize    = 512
	DefaultTimeout = 2 * time.Second
)

// Cache compiles every distinct pattern at most once while it stays
// resident. Lookups are safe for concurrent use; compilation of a missing
// pattern is serialized so two racing callers never both compile it.
type Cache struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *regexp2.Regexp]
	timeout time.Duration
}

// NewCache returns a cache holding up to size patterns. A positive timeout
// bounds every match performed with the returned expressions.
func NewCache(size int, timeout time.Duration) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	entries, err := lru.New[string, *regexp2.Regexp](size)
	if err != nil {
		return nil, fmt.Errorf("lru.New: %w", err)
	}
	return &Cache{entries: entries, timeout: timeout}, nil
}

// Get returns the compiled form of pattern, compiling it on first use.
// Invalid patterns are never cached.
func (c *Cache) Get(pattern string) (*regexp2.Regexp, error) {
	m := metrics.Get()
	if re, ok := c.entries.Get(pattern); ok {
		m.RegexCacheTotal.WithLabelValues("hit").Inc()
		return re, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if re, ok := c.entries.Peek(pattern); ok {
		m.RegexCacheTotal.WithLabelValues("hit").Inc()
		return re, nil
	}

	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		m.RegexCacheTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("regexp2.Compile %q: %w", pattern, err)
	}
	if c.timeout > 0 {
		re.MatchTimeout = c.timeout
	}
	c.entries.Add(pattern, re)
	m.RegexCacheTotal.WithLabelValues("miss").Inc()
	return re, nil
}

func (c *Cache) Len() int {
	return c.entries.Len()
}
