package lifo_test

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/404wolf/firefuse/firefuse/lifo"
)

func TestEmptyCache(t *testing.T) {
	cache := lifo.New[[]byte]()
	snap := cache.Snapshot()

	assert.True(t, cache.Empty())
	assert.Equal(t, uint64(0), snap.Generation)
	assert.Nil(t, snap.Value)
	assert.True(t, snap.Updated.IsZero())
}

func TestPublishOverwrites(t *testing.T) {
	cache := lifo.New[string]()

	assert.Equal(t, uint64(1), cache.Publish("a"))
	assert.Equal(t, uint64(2), cache.Publish("b"))
	assert.Equal(t, uint64(3), cache.Publish("c"))

	snap := cache.Snapshot()
	assert.Equal(t, "c", snap.Value, "most recent value wins")
	assert.Equal(t, uint64(3), snap.Generation)
	assert.False(t, snap.Updated.IsZero())
	assert.False(t, cache.Empty())
}

func TestSnapshotIsDecoupledFromLaterPublishes(t *testing.T) {
	cache := lifo.New[[]byte]()
	cache.Publish([]byte("first"))
	held := cache.Snapshot()

	cache.Publish([]byte("second"))

	assert.Equal(t, "first", string(held.Value))
	assert.Equal(t, uint64(1), held.Generation)
	assert.Equal(t, "second", string(cache.Snapshot().Value))
}

func TestPublishDoesNotBlockOnReaders(t *testing.T) {
	cache := lifo.New[int]()
	start := time.Now()
	for i := 0; i < 10000; i++ {
		cache.Publish(i)
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 9999, cache.Snapshot().Value)
}

func TestConcurrentReadersSeeMonotonicCompleteValues(t *testing.T) {
	cache := lifo.New[[]byte]()
	const size = 4096

	fill := func(b byte) []byte {
		return bytes.Repeat([]byte{b}, size)
	}

	var producers sync.WaitGroup
	for p := 0; p < 2; p++ {
		producers.Add(1)
		go func(seed byte) {
			defer producers.Done()
			for i := 0; i < 500; i++ {
				cache.Publish(fill(seed + byte(i%50)))
			}
		}(byte(p * 100))
	}

	var readers sync.WaitGroup
	errs := make(chan string, 8)
	for r := 0; r < 8; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			var seen uint64
			for i := 0; i < 2000; i++ {
				snap := cache.Snapshot()
				if snap.Generation < seen {
					errs <- "generation went backwards"
					return
				}
				seen = snap.Generation
				if snap.Value == nil {
					continue
				}
				if len(snap.Value) != size || !bytes.Equal(snap.Value, fill(snap.Value[0])) {
					errs <- "observed a mixed value"
					return
				}
			}
		}()
	}

	producers.Wait()
	readers.Wait()
	close(errs)
	for msg := range errs {
		t.Error(msg)
	}

	require.Equal(t, uint64(1000), cache.Generation())
}
