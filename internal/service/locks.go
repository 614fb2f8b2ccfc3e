// locks.go — полосатые мьютексы на документ.
// Переходы одного документа сериализуются; разные документы
// блокируются независимо (с точностью до коллизий хэша).
package service

import (
	"hash/fnv"
	"sync"
)

const lockShards = 64

// keyedMutex — набор полосатых мьютексов, выбираемых по ключу.
type keyedMutex struct {
	shards [lockShards]sync.Mutex
}

// Lock блокирует полосу ключа и возвращает функцию разблокировки.
func (m *keyedMutex) Lock(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key))
	shard := &m.shards[h.Sum32()%lockShards]
	shard.Lock()
	return shard.Unlock
}
