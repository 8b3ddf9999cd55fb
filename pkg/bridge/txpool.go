package bridge

import (
	"sync"
)

// TxPool stores transactions received from CometBFT ABCI, keyed by block height.
// These transactions are waiting to be injected into the execution client before block production.
type TxPool struct {
	mu   sync.RWMutex
	pool map[int64][][]byte
}

func NewTxPool() *TxPool {
	return &TxPool{
		pool: make(map[int64][][]byte),
	}
}

// AddTxs stores a copy of the transactions for a specific height.
func (tp *TxPool) AddTxs(height int64, txs [][]byte) {
	copied := make([][]byte, len(txs))
	for i, tx := range txs {
		copied[i] = append([]byte(nil), tx...)
	}
	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.pool[height] = copied
}

// GetTxs retrieves transactions for a specific height.
func (tp *TxPool) GetTxs(height int64) [][]byte {
	tp.mu.RLock()
	defer tp.mu.RUnlock()
	return tp.pool[height]
}

// Prune removes transactions for heights older than the given height.
func (tp *TxPool) Prune(height int64) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	for h := range tp.pool {
		if h < height {
			delete(tp.pool, h)
		}
	}
}

// Len returns the number of heights holding transactions.
func (tp *TxPool) Len() int {
	tp.mu.RLock()
	defer tp.mu.RUnlock()
	return len(tp.pool)
}
