package service

import (
	"encoding/binary"
	"sync"

	"github.com/google/uuid"
)

const orderLockShards = 64

// orderLocks serializes work per order. Unrelated orders only contend when
// they hash to the same shard.
type orderLocks struct {
	shards [orderLockShards]sync.Mutex
}

func (l *orderLocks) lock(orderID uuid.UUID) func() {
	m := &l.shards[binary.BigEndian.Uint64(orderID[8:])%orderLockShards]
	m.Lock()
	return m.Unlock
}
