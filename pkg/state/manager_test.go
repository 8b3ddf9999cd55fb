package state

import (
	"math/big"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/smallyunet/engineapi/pkg/types"
)

func hashOf(n int64) common.Hash {
	return common.BigToHash(big.NewInt(n))
}

func TestForkchoiceImmediateFinality(t *testing.T) {
	m := NewManager(0)
	genesis := common.HexToHash("0x99")
	m.SetGenesis(genesis)
	require.Equal(t, types.ForkchoiceState{HeadBlockHash: genesis, SafeBlockHash: genesis, FinalizedBlockHash: genesis}, m.Forkchoice())

	require.NoError(t, m.UpdateLatest(1, hashOf(1)))
	require.Equal(t, types.ForkchoiceState{HeadBlockHash: hashOf(1), SafeBlockHash: hashOf(1), FinalizedBlockHash: hashOf(1)}, m.Forkchoice())
}

func TestForkchoiceWithDepth(t *testing.T) {
	m := NewManager(2)
	genesis := common.HexToHash("0x99")
	m.SetGenesis(genesis)
	for h := int64(1); h <= 5; h++ {
		require.NoError(t, m.UpdateLatest(h, hashOf(h)))
	}
	fc := m.Forkchoice()
	require.Equal(t, hashOf(5), fc.HeadBlockHash)
	require.Equal(t, hashOf(3), fc.FinalizedBlockHash)
	require.Equal(t, fc.FinalizedBlockHash, fc.SafeBlockHash)
	require.Equal(t, int64(3), m.GetFinalized().Height)

	// Building height 6 on top of 5 finalizes height 3.
	at := m.ForkchoiceAt(6, hashOf(5))
	require.Equal(t, hashOf(5), at.HeadBlockHash)
	require.Equal(t, hashOf(3), at.FinalizedBlockHash)

	// Early heights fall back to genesis.
	early := NewManager(2)
	early.SetGenesis(genesis)
	at = early.ForkchoiceAt(1, genesis)
	require.Equal(t, genesis, at.FinalizedBlockHash)
}

func TestUpdateLatestRejects(t *testing.T) {
	m := NewManager(0)
	require.Error(t, m.UpdateLatest(-1, hashOf(1)))
	require.Error(t, m.UpdateLatest(1, common.Hash{}))
}

func TestLookups(t *testing.T) {
	m := NewManager(0)
	require.NoError(t, m.UpdateLatest(4, hashOf(4)))
	h, ok := m.HashAt(4)
	require.True(t, ok)
	require.Equal(t, hashOf(4), h)
	height, ok := m.HeightOf(hashOf(4))
	require.True(t, ok)
	require.Equal(t, int64(4), height)
	_, ok = m.HashAt(5)
	require.False(t, ok)

	// Overwriting a height forgets the old hash.
	require.NoError(t, m.UpdateLatest(4, hashOf(7)))
	_, ok = m.HeightOf(hashOf(4))
	require.False(t, ok)
}

func TestReorg(t *testing.T) {
	m := NewManager(0)
	for h := int64(1); h <= 5; h++ {
		require.NoError(t, m.UpdateLatest(h, hashOf(h)))
	}
	require.NoError(t, m.Reorg(3, hashOf(30)))
	require.Equal(t, int64(3), m.GetLatest().Height)
	require.Equal(t, hashOf(30), m.GetLatest().Hash)
	_, ok := m.HashAt(4)
	require.False(t, ok)
	_, ok = m.HeightOf(hashOf(3))
	require.False(t, ok)
	require.Equal(t, 3, m.Stats()["total_blocks"])
}

func TestHistoryBound(t *testing.T) {
	m := NewManager(0)
	m.maxHistory = 4
	var wg sync.WaitGroup
	for i := int64(1); i <= 10; i++ {
		wg.Add(1)
		go func(h int64) {
			defer wg.Done()
			_ = m.UpdateLatest(h, hashOf(h))
			_, _ = m.HashAt(h)
		}(i)
	}
	wg.Wait()

	m.mu.RLock()
	defer m.mu.RUnlock()
	require.LessOrEqual(t, len(m.heightOrder), 4)
	require.LessOrEqual(t, len(m.heightToHash), 4)
	require.Equal(t, len(m.heightToHash), len(m.hashToHeight))
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	m := NewManager(1)
	m.SetGenesis(common.HexToHash("0x99"))
	for h := int64(1); h <= 3; h++ {
		require.NoError(t, m.UpdateLatest(h, hashOf(h)))
	}
	require.NoError(t, m.Save(path))
	require.NoFileExists(t, path+".tmp")

	loaded := NewManager(1)
	require.NoError(t, loaded.Load(path))
	require.Equal(t, m.Forkchoice(), loaded.Forkchoice())
	require.Equal(t, m.Genesis(), loaded.Genesis())
	require.Equal(t, m.GetLatest(), loaded.GetLatest())

	empty := NewManager(0)
	require.NoError(t, empty.Load(filepath.Join(t.TempDir(), "missing.json")))
	require.Equal(t, int64(0), empty.GetLatest().Height)
}
