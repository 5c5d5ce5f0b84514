// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package database

import (
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

// addressCache maps address strings to row IDs. Entries are only added
// once the transaction that created or read the row has committed. Rows can
// be removed by an address GC in another process, so a hit is checked
// against the caller's transaction before it is used.
type addressCache struct {
	cache  *cache.Cache
	group  singleflight.Group
	hits   prometheus.Counter
	misses prometheus.Counter
	stale  prometheus.Counter
}

type addressResult struct {
	txn *Txn
	id  uint
}

func newAddressCache(ttl time.Duration, promRegistry prometheus.Registerer) *addressCache {
	factory := promauto.With(promRegistry)
	return &addressCache{
		cache: cache.New(ttl, 2*ttl),
		hits: factory.NewCounter(prometheus.CounterOpts{
			Name: "prism_address_cache_hits_total",
			Help: "address lookups served from the cache",
		}),
		misses: factory.NewCounter(prometheus.CounterOpts{
			Name: "prism_address_cache_misses_total",
			Help: "address lookups that went to the database",
		}),
		stale: factory.NewCounter(prometheus.CounterOpts{
			Name: "prism_address_cache_stale_total",
			Help: "cached address IDs whose row no longer exists",
		}),
	}
}

// getOrCreate returns the ID for key, calling fetch on a cache miss. A cached
// ID is only returned when exists finds its row in txn; otherwise the entry
// is dropped and the lookup is treated as a miss. Concurrent misses for the
// same key share one fetch. A caller whose transaction differs from the one
// the shared fetch ran in repeats the fetch in its own transaction, since
// the shared row may not be visible to it yet.
func (c *addressCache) getOrCreate(
	key string,
	txn *Txn,
	fetch func(*Txn) (uint, error),
	exists func(*Txn, uint) (bool, error),
) (uint, error) {
	if v, ok := c.cache.Get(key); ok {
		id := v.(uint)
		found, err := exists(txn, id)
		if err != nil {
			return 0, err
		}
		if found {
			c.hits.Inc()
			return id, nil
		}
		c.stale.Inc()
		c.cache.Delete(key)
	}
	c.misses.Inc()
	v, err, _ := c.group.Do(key, func() (any, error) {
		id, err := fetch(txn)
		if err != nil {
			return nil, err
		}
		return addressResult{txn: txn, id: id}, nil
	})
	if err != nil {
		return 0, err
	}
	res := v.(addressResult)
	if res.txn != txn {
		id, err := fetch(txn)
		if err != nil {
			return 0, err
		}
		res.id = id
	}
	txn.OnCommit(func() {
		c.cache.SetDefault(key, res.id)
	})
	return res.id, nil
}

func (c *addressCache) flush() {
	c.cache.Flush()
}
