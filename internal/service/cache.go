// cache.go — LRU-кэш документов с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable. Кэш per-instance:
// инвалидация выполняется локально при каждом переходе документа.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/docflow/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "df_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш документов.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "df_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша документов.",
	})
)

// DocumentCache — LRU-кэш документов с автоматическим TTL.
type DocumentCache struct {
	cache *expirable.LRU[string, *model.Document]
}

// NewDocumentCache создаёт LRU-кэш с указанным максимальным размером и TTL.
func NewDocumentCache(maxSize int, ttl time.Duration) *DocumentCache {
	cache := expirable.NewLRU[string, *model.Document](maxSize, nil, ttl)
	return &DocumentCache{cache: cache}
}

// Get возвращает документ из кэша по ID.
// Возвращает (документ, true) при hit или (nil, false) при miss.
func (c *DocumentCache) Get(id string) (*model.Document, bool) {
	val, ok := c.cache.Get(id)
	if ok {
		cacheHitsTotal.Inc()
		return val, true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет или обновляет документ в кэше.
func (c *DocumentCache) Set(id string, doc *model.Document) {
	c.cache.Add(id, doc)
}

// Delete удаляет документ из кэша (инвалидация при переходе).
func (c *DocumentCache) Delete(id string) {
	c.cache.Remove(id)
}
