package bridge

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/smallyunet/engineapi/pkg/config"
	"github.com/smallyunet/engineapi/pkg/consensus"
	"github.com/smallyunet/engineapi/pkg/ethereum"
	"github.com/smallyunet/engineapi/pkg/state"
	"github.com/smallyunet/engineapi/pkg/types"
)

func newTestBridge(t *testing.T, elURL string) *Bridge {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Execution.Endpoint = elURL
	cfg.Execution.EngineAPI = elURL
	cfg.Execution.JWTSecret = ""
	cfg.Bridge.Timeout = 5
	cfg.Bridge.StateFile = filepath.Join(t.TempDir(), "state.json")
	cfg.Bridge.FeeRecipient = "0x00000000000000000000000000000000000000fe"

	ethClient, err := ethereum.NewClient(cfg)
	require.NoError(t, err)
	b, err := newBridge(cfg, types.ForkCapella, ethClient, ethereum.NewEngineClient(ethClient, nil), slog.Default())
	require.NoError(t, err)
	t.Cleanup(b.cancel)
	return b
}

func signedTx(t *testing.T) []byte {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	tx, err := gethtypes.SignNewTx(key, gethtypes.LatestSignerForChainID(big.NewInt(1337)), &gethtypes.LegacyTx{
		GasPrice: big.NewInt(100),
		Gas:      21000,
		To:       &common.Address{0x01},
		Value:    big.NewInt(1),
	})
	require.NoError(t, err)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return raw
}

func TestParseCometHash(t *testing.T) {
	h := parseCometHash("AABBCC")
	if h.Hex() != "0x0000000000000000000000000000000000000000000000000000000000aabbcc" {
		t.Fatalf("unexpected hash: %s", h.Hex())
	}
	h2 := parseCometHash("0xABCDEF")
	if h2.Hex() != "0x0000000000000000000000000000000000000000000000000000000000abcdef" {
		t.Fatalf("unexpected hash: %s", h2.Hex())
	}
	if parseCometHash("  ") != (common.Hash{}) {
		t.Fatal("expected zero hash for blank input")
	}
}

func TestNextTimestamp(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	require.Equal(t, uint64(1_700_000_000), nextTimestamp(now, 0))
	require.Equal(t, uint64(1_700_000_000), nextTimestamp(now, 1_699_999_999))
	require.Equal(t, uint64(1_700_000_001), nextTimestamp(now, 1_700_000_000))
	require.Equal(t, uint64(1_700_000_006), nextTimestamp(now, 1_700_000_005))
}

func TestPayloadTrackerSingleUse(t *testing.T) {
	tracker, err := NewPayloadTracker(2)
	require.NoError(t, err)

	a, b, c := types.PayloadID{1}, types.PayloadID{2}, types.PayloadID{3}
	height, ok := tracker.Consume(a, 10)
	require.True(t, ok)
	require.Equal(t, int64(10), height)

	height, ok = tracker.Consume(a, 11)
	require.False(t, ok, "payload id must not be consumable twice")
	require.Equal(t, int64(10), height)

	_, ok = tracker.Consume(b, 11)
	require.True(t, ok)
	_, ok = tracker.Consume(c, 12)
	require.True(t, ok)
	require.Equal(t, 2, tracker.Len())

	_, ok = tracker.Consume(a, 13)
	require.True(t, ok, "evicted id is no longer remembered")
}

func TestTxPool(t *testing.T) {
	pool := NewTxPool()
	txs := [][]byte{{0x01}, {0x02}}
	pool.AddTxs(5, txs)
	txs[0][0] = 0xff
	require.Equal(t, [][]byte{{0x01}, {0x02}}, pool.GetTxs(5))

	var wg sync.WaitGroup
	for i := int64(0); i < 10; i++ {
		wg.Add(1)
		go func(h int64) {
			defer wg.Done()
			pool.AddTxs(h+10, [][]byte{{byte(h)}})
		}(i)
	}
	wg.Wait()
	pool.Prune(15)
	require.Nil(t, pool.GetTxs(5))
	require.Equal(t, 5, pool.Len())
}

func TestProduceBlockAtHeight(t *testing.T) {
	el := newFakeEngine(t)
	b := newTestBridge(t, el.URL)
	b.state.SetGenesis(el.genesis.Hash)

	tx := signedTx(t)
	b.txPool.AddTxs(1, [][]byte{tx})
	b.recordCometBlock(consensus.NewBlock{Height: 1, Hash: "AABBCC"})

	require.NoError(t, b.produceBlockAtHeight(1))
	require.NoError(t, b.produceBlockAtHeight(2))

	h1, ok := b.state.HashAt(1)
	require.True(t, ok)
	h2, ok := b.state.HashAt(2)
	require.True(t, ok)

	block1, ok := el.block(h1)
	require.True(t, ok)
	require.Equal(t, el.genesis.Hash, block1.ParentHash)
	block2, ok := el.block(h2)
	require.True(t, ok)
	require.Equal(t, h1, block2.ParentHash)
	require.Greater(t, uint64(block2.Timestamp), uint64(block1.Timestamp))

	head := el.lastHead()
	require.Equal(t, types.ForkchoiceState{HeadBlockHash: h2, SafeBlockHash: h2, FinalizedBlockHash: h2}, head)
	require.Equal(t, parseCometHash("AABBCC"), el.randaoAt(1))
	require.Equal(t, common.Hash{}, el.randaoAt(2))
	require.Equal(t, [][]byte{tx}, el.injected())
	require.Equal(t, 2, b.payloads.Len())

	require.Equal(t, 2.0, testutil.ToFloat64(b.metrics.HeadHeight))
	require.Equal(t, 2.0, testutil.ToFloat64(b.metrics.PayloadStatus.WithLabelValues("VALID")))
	require.Equal(t, 1.0, testutil.ToFloat64(b.metrics.InjectedTxs))

	saved := state.NewManager(0)
	require.NoError(t, saved.Load(b.config.Bridge.StateFile))
	hash, ok := saved.HashAt(2)
	require.True(t, ok)
	require.Equal(t, h2, hash)
}

func TestProduceBlockWithFinalityDepth(t *testing.T) {
	el := newFakeEngine(t)
	b := newTestBridge(t, el.URL)
	b.state = state.NewManager(2)
	b.state.SetGenesis(el.genesis.Hash)

	for h := int64(1); h <= 4; h++ {
		require.NoError(t, b.produceBlockAtHeight(h))
	}
	h2, _ := b.state.HashAt(2)
	h4, _ := b.state.HashAt(4)
	require.Equal(t, types.ForkchoiceState{HeadBlockHash: h4, SafeBlockHash: h2, FinalizedBlockHash: h2}, el.lastHead())
}

func TestProduceBlockRejectsInvalidPayload(t *testing.T) {
	el := newFakeEngine(t)
	el.setVerdict(types.StatusInvalid)
	b := newTestBridge(t, el.URL)
	b.state.SetGenesis(el.genesis.Hash)

	err := b.produceBlockAtHeight(1)
	require.ErrorContains(t, err, "status=INVALID")
	_, ok := b.state.HashAt(1)
	require.False(t, ok)
	require.Equal(t, 1.0, testutil.ToFloat64(b.metrics.RPCErrors))
	require.Equal(t, 1.0, testutil.ToFloat64(b.metrics.PayloadStatus.WithLabelValues("INVALID")))

	require.Equal(t, int64(0), b.catchUp(0, 3), "catch up must stop at the first failed height")
}

func TestProduceBlockRefusesConsumedPayloadID(t *testing.T) {
	el := newFakeEngine(t)
	el.setRepeatID(true)
	b := newTestBridge(t, el.URL)
	b.state.SetGenesis(el.genesis.Hash)

	require.NoError(t, b.produceBlockAtHeight(1))
	err := b.produceBlockAtHeight(2)
	require.ErrorContains(t, err, "already consumed at height 1")
	_, ok := b.state.HashAt(2)
	require.False(t, ok)
	require.Equal(t, 1, el.getPayloadCalls())
}

func TestProduceBlockRejectsBlockHashMismatch(t *testing.T) {
	el := newFakeEngine(t)
	el.setTamper(true)
	b := newTestBridge(t, el.URL)
	b.state.SetGenesis(el.genesis.Hash)

	err := b.produceBlockAtHeight(1)
	require.ErrorContains(t, err, "block hash mismatch")
	_, ok := b.state.HashAt(1)
	require.False(t, ok)
	require.Zero(t, testutil.ToFloat64(b.metrics.PayloadStatus.WithLabelValues("VALID")))
}

func TestStartHeightRewindsAheadOfCometBFT(t *testing.T) {
	comet := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID json.RawMessage `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":{"sync_info":{"latest_block_hash":"AA","latest_block_height":"2"}}}`, req.ID)
	}))
	t.Cleanup(comet.Close)

	el := newFakeEngine(t)
	b := newTestBridge(t, el.URL)
	b.config.CometBFT.Endpoint = comet.URL
	var err error
	b.consClient, err = consensus.NewClient(b.config)
	require.NoError(t, err)

	b.state.SetGenesis(el.genesis.Hash)
	for h := int64(1); h <= 4; h++ {
		require.NoError(t, b.state.UpdateLatest(h, common.BigToHash(big.NewInt(h))))
	}

	require.Equal(t, int64(2), b.startHeight())
	require.Equal(t, int64(2), b.state.GetLatest().Height)
	_, ok := b.state.HashAt(3)
	require.False(t, ok)
	require.Equal(t, int64(2), b.startHeight())
}

func TestHealthHandler(t *testing.T) {
	el := newFakeEngine(t)
	b := newTestBridge(t, el.URL)
	b.state.SetGenesis(el.genesis.Hash)
	require.NoError(t, b.produceBlockAtHeight(1))

	handler := NewHealthServer("", b).Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "capella", body["fork"])
	require.Equal(t, 1.0, body["latest_height"])

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "engineapi_head_height 1")
}
