package state

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/smallyunet/engineapi/pkg/types"
)

// DefaultMaxHistory bounds the number of heights remembered.
const DefaultMaxHistory = 4096

// Manager tracks the execution head hash produced for each CometBFT height
// and derives the head/safe/finalized fork-choice state from it.
type Manager struct {
	mu sync.RWMutex

	latestHeight  int64
	finalityDepth int64
	genesis       common.Hash

	heightToHash map[int64]common.Hash
	hashToHeight map[common.Hash]int64
	heightOrder  []int64
	maxHistory   int
}

// BlockState is one tracked block and its fork-choice role.
type BlockState struct {
	Height int64       `json:"height"`
	Hash   common.Hash `json:"hash"`
	Status string      `json:"status"` // "latest", "safe", "finalized"
}

// NewManager returns an empty manager. Safe and finalized trail the head by
// finalityDepth heights; zero finalizes the head immediately.
func NewManager(finalityDepth int) *Manager {
	return &Manager{
		finalityDepth: int64(finalityDepth),
		heightToHash:  make(map[int64]common.Hash),
		hashToHeight:  make(map[common.Hash]int64),
		maxHistory:    DefaultMaxHistory,
	}
}

// SetGenesis records the execution genesis hash used until enough heights
// have been produced to satisfy the finality depth.
func (m *Manager) SetGenesis(hash common.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.genesis = hash
}

// Genesis returns the recorded genesis hash.
func (m *Manager) Genesis() common.Hash {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.genesis
}

// UpdateLatest records hash as the head at height.
func (m *Manager) UpdateLatest(height int64, hash common.Hash) error {
	if height < 0 {
		return fmt.Errorf("negative height %d", height)
	}
	if hash == (common.Hash{}) {
		return fmt.Errorf("zero hash at height %d", height)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set(height, hash)
	if height > m.latestHeight {
		m.latestHeight = height
	}
	return nil
}

func (m *Manager) set(height int64, hash common.Hash) {
	if old, exists := m.heightToHash[height]; exists {
		delete(m.hashToHeight, old)
	} else {
		m.heightOrder = append(m.heightOrder, height)
		sort.Slice(m.heightOrder, func(i, j int) bool { return m.heightOrder[i] < m.heightOrder[j] })
	}
	m.heightToHash[height] = hash
	m.hashToHeight[hash] = height
	for m.maxHistory > 0 && len(m.heightOrder) > m.maxHistory {
		oldH := m.heightOrder[0]
		m.heightOrder = m.heightOrder[1:]
		delete(m.hashToHeight, m.heightToHash[oldH])
		delete(m.heightToHash, oldH)
	}
}

// HashAt returns the head hash recorded for height.
func (m *Manager) HashAt(height int64) (common.Hash, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.heightToHash[height]
	return h, ok
}

// HeightOf returns the height a hash was recorded at.
func (m *Manager) HeightOf(hash common.Hash) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.hashToHeight[hash]
	return h, ok
}

func (m *Manager) finalizedHeight() int64 {
	h := m.latestHeight - m.finalityDepth
	if h < 0 {
		return 0
	}
	return h
}

func (m *Manager) hashOrGenesis(height int64) common.Hash {
	if h, ok := m.heightToHash[height]; ok {
		return h
	}
	return m.genesis
}

// GetLatest returns the head block.
func (m *Manager) GetLatest() BlockState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return BlockState{Height: m.latestHeight, Hash: m.hashOrGenesis(m.latestHeight), Status: "latest"}
}

// GetFinalized returns the finalized block. Safe and finalized coincide.
func (m *Manager) GetFinalized() BlockState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h := m.finalizedHeight()
	return BlockState{Height: h, Hash: m.hashOrGenesis(h), Status: "finalized"}
}

// Forkchoice returns the state for the next fork-choice update.
func (m *Manager) Forkchoice() types.ForkchoiceState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	head := m.hashOrGenesis(m.latestHeight)
	final := m.hashOrGenesis(m.finalizedHeight())
	return types.ForkchoiceState{
		HeadBlockHash:      head,
		SafeBlockHash:      final,
		FinalizedBlockHash: final,
	}
}

// ForkchoiceAt returns the state with parent as head, for building the block
// at height on top of it.
func (m *Manager) ForkchoiceAt(height int64, parent common.Hash) types.ForkchoiceState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	final := parent
	if m.finalityDepth > 0 {
		fh := height - 1 - m.finalityDepth
		if fh < 0 {
			fh = 0
		}
		if h, ok := m.heightToHash[fh]; ok {
			final = h
		} else if m.genesis != (common.Hash{}) {
			final = m.genesis
		}
	}
	return types.ForkchoiceState{HeadBlockHash: parent, SafeBlockHash: final, FinalizedBlockHash: final}
}

// Reorg drops every height above newHead and records newHash at newHead.
func (m *Manager) Reorg(newHead int64, newHash common.Hash) error {
	if newHash == (common.Hash{}) {
		return fmt.Errorf("zero hash at height %d", newHead)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.heightOrder[:0]
	for _, h := range m.heightOrder {
		if h > newHead {
			delete(m.hashToHeight, m.heightToHash[h])
			delete(m.heightToHash, h)
			continue
		}
		kept = append(kept, h)
	}
	m.heightOrder = kept
	m.set(newHead, newHash)
	m.latestHeight = newHead
	return nil
}

// Stats summarizes the tracked state.
func (m *Manager) Stats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]interface{}{
		"latest_height":    m.latestHeight,
		"finalized_height": m.finalizedHeight(),
		"total_blocks":     len(m.heightToHash),
	}
}

type snapshot struct {
	Genesis common.Hash           `json:"genesis"`
	Heights map[int64]common.Hash `json:"heights"`
}

// Save writes the tracked heights to path atomically.
func (m *Manager) Save(path string) error {
	m.mu.RLock()
	snap := snapshot{Genesis: m.genesis, Heights: make(map[int64]common.Hash, len(m.heightToHash))}
	for h, hash := range m.heightToHash {
		snap.Heights[h] = hash
	}
	m.mu.RUnlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}

// Load replaces the tracked heights with those stored at path. A missing
// file leaves the manager empty and is not an error.
func (m *Manager) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read state: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("unmarshal state: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.genesis = snap.Genesis
	m.heightToHash = make(map[int64]common.Hash, len(snap.Heights))
	m.hashToHeight = make(map[common.Hash]int64, len(snap.Heights))
	m.heightOrder = m.heightOrder[:0]
	m.latestHeight = 0
	for h, hash := range snap.Heights {
		m.set(h, hash)
		if h > m.latestHeight {
			m.latestHeight = h
		}
	}
	return nil
}
