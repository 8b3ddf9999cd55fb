package bridge

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/smallyunet/engineapi/pkg/types"
)

// DefaultPayloadIDCacheSize is used when the configured size is not positive.
const DefaultPayloadIDCacheSize = 64

// PayloadTracker enforces single use of payload ids. It remembers the ids
// already passed to getPayload, bounded by an LRU, so a repeated id from
// forkchoiceUpdated is refused instead of fetching the same build twice.
type PayloadTracker struct {
	consumed *lru.Cache[types.PayloadID, int64]
}

// NewPayloadTracker returns a tracker remembering at most size consumed ids.
func NewPayloadTracker(size int) (*PayloadTracker, error) {
	if size <= 0 {
		size = DefaultPayloadIDCacheSize
	}
	consumed, err := lru.New[types.PayloadID, int64](size)
	if err != nil {
		return nil, fmt.Errorf("create payload id cache: %w", err)
	}
	return &PayloadTracker{consumed: consumed}, nil
}

// Consume marks id as used by the block at height. If id was consumed
// before, it returns the earlier height and false and leaves the record as is.
func (t *PayloadTracker) Consume(id types.PayloadID, height int64) (int64, bool) {
	prev, seen, _ := t.consumed.PeekOrAdd(id, height)
	if seen {
		return prev, false
	}
	return height, true
}

// Len returns the number of remembered ids.
func (t *PayloadTracker) Len() int {
	return t.consumed.Len()
}
