package classifier

import (
	"strings"
	"sync"
	"time"

	"bomflow/internal/model"
)

// CacheEntry 缓存的外部分类结果
type CacheEntry struct {
	ComponentType       model.ComponentType
	CanonicalPartNumber string
}

type cacheItem struct {
	entry  CacheEntry
	expiry time.Time
}

// Cache 外部分类结果缓存（按行文本归一化后的键），由调用方创建并显式传入
type Cache struct {
	mu    sync.RWMutex
	ttl   time.Duration
	items map[string]cacheItem
	now   func() time.Time
}

// NewCache 创建缓存，ttl<=0 时默认 30 分钟
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Cache{
		ttl:   ttl,
		items: make(map[string]cacheItem),
		now:   time.Now,
	}
}

// CacheKey 生成缓存键：类别、品名、规格小写并压缩空白
func CacheKey(row model.BOMRow) string {
	norm := func(s string) string {
		return strings.Join(strings.Fields(strings.ToLower(s)), " ")
	}
	return norm(row.RawType) + "|" + norm(row.RawPartNumber) + "|" + norm(row.RawDescription)
}

// Get 读取未过期的条目
func (c *Cache) Get(key string) (CacheEntry, bool) {
	if c == nil {
		return CacheEntry{}, false
	}
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return CacheEntry{}, false
	}
	if c.now().After(item.expiry) {
		// 加写锁后再确认一次，避免删掉并发 Put 刚写入的新条目
		c.mu.Lock()
		if cur, ok := c.items[key]; ok && c.now().After(cur.expiry) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return CacheEntry{}, false
	}
	return item.entry, true
}

// Put 写入条目
func (c *Cache) Put(key string, entry CacheEntry) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = cacheItem{entry: entry, expiry: c.now().Add(c.ttl)}
}

// Invalidate 删除单个条目
func (c *Cache) Invalidate(key string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Purge 清空缓存，返回清除的条目数
func (c *Cache) Purge() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.items)
	c.items = make(map[string]cacheItem)
	return n
}

// Len 当前条目数（含尚未清理的过期条目）
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
