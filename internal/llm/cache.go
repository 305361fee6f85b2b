package llm

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ResponseCache memoizes completions for identical (model, messages, tools)
// inputs, keyed by an xxhash fingerprint rather than the raw prompt text so
// entries stay cheap to store and compare.
type ResponseCache struct {
	cache *lru.Cache[uint64, Response]
}

// NewResponseCache builds a response cache holding up to size entries.
func NewResponseCache(size int) (*ResponseCache, error) {
	c, err := lru.New[uint64, Response](size)
	if err != nil {
		return nil, fmt.Errorf("llm: create response cache: %w", err)
	}
	return &ResponseCache{cache: c}, nil
}

// Fingerprint derives a cache key from the model name, message history, and
// available tool definitions.
func Fingerprint(model string, messages []Message, tools []ToolDefinition) (uint64, error) {
	h := xxhash.New()
	h.WriteString(model)
	h.WriteString("|")

	enc := json.NewEncoder(h)
	if err := enc.Encode(messages); err != nil {
		return 0, fmt.Errorf("llm: encode messages for fingerprint: %w", err)
	}
	if err := enc.Encode(tools); err != nil {
		return 0, fmt.Errorf("llm: encode tools for fingerprint: %w", err)
	}
	return h.Sum64(), nil
}

// Get returns a cached response for the fingerprint, if present.
func (c *ResponseCache) Get(key uint64) (Response, bool) {
	return c.cache.Get(key)
}

// Put stores a response under the fingerprint, evicting the least recently
// used entry if the cache is full.
func (c *ResponseCache) Put(key uint64, resp Response) {
	c.cache.Add(key, resp)
}

// Len reports the number of cached entries.
func (c *ResponseCache) Len() int {
	return c.cache.Len()
}

// Purge clears the cache entirely.
func (c *ResponseCache) Purge() {
	c.cache.Purge()
}

// Stats reports cache occupancy as a human-readable string.
func (c *ResponseCache) Stats() string {
	return "entries=" + strconv.Itoa(c.cache.Len())
}
