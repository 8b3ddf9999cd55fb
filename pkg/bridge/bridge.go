package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/go-multierror"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/smallyunet/engineapi/pkg/config"
	"github.com/smallyunet/engineapi/pkg/consensus"
	"github.com/smallyunet/engineapi/pkg/engine"
	"github.com/smallyunet/engineapi/pkg/ethereum"
	"github.com/smallyunet/engineapi/pkg/state"
	"github.com/smallyunet/engineapi/pkg/types"
)

const (
	pruneDepth     = 100
	blockCacheSize = 1024
	pollInterval   = 2 * time.Second
)

// Bridge wires CometBFT (consensus) to an execution client via the Engine API.
// Every committed CometBFT height drives one forkchoiceUpdated, getPayload,
// newPayload, forkchoiceUpdated round on the execution side.
type Bridge struct {
	config     *config.Config
	fork       types.ForkName
	ethClient  *ethereum.Client
	engine     *ethereum.EngineClient
	consClient *consensus.Client
	abciServer *ABCIServer
	abciApp    *ABCIApplication
	health     *HealthServer
	txPool     *TxPool
	state      *state.Manager
	payloads   *PayloadTracker
	metrics    *Metrics
	chainID    *big.Int

	timestamps *lru.Cache[common.Hash, uint64]
	randao     *lru.Cache[int64, common.Hash]

	ctx    context.Context
	cancel context.CancelFunc

	wg          sync.WaitGroup
	running     bool
	runningLock sync.Mutex

	logger *slog.Logger
}

// NewBridge builds all clients and servers and reads the execution genesis
// hash used as the fork-choice fallback.
func NewBridge(cfg *config.Config) (*Bridge, error) {
	logger := slog.Default().With("component", "bridge")

	fork, err := cfg.ForkName()
	if err != nil {
		return nil, err
	}
	preset, err := cfg.Preset()
	if err != nil {
		return nil, err
	}
	ethClient, err := ethereum.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create execution client: %w", err)
	}
	consClient, err := consensus.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create cometbft client: %w", err)
	}

	b, err := newBridge(cfg, fork, ethClient, ethereum.NewEngineClient(ethClient, engine.NewConverter(preset)), logger)
	if err != nil {
		return nil, err
	}
	b.consClient = consClient
	b.abciServer = NewABCIServer(b)
	b.health = NewHealthServer(cfg.Bridge.HealthAddr, b)

	if err := b.state.Load(cfg.Bridge.StateFile); err != nil {
		logger.Error("Failed to load state", "file", cfg.Bridge.StateFile, "error", err)
	} else if stats := b.state.Stats(); stats["total_blocks"] != 0 {
		logger.Info("Loaded state", "file", cfg.Bridge.StateFile, "entries", stats["total_blocks"])
	}

	ctx, cancel := context.WithTimeout(b.ctx, cfg.CallTimeout(5*time.Second))
	defer cancel()
	if genesis, err := ethClient.BlockByNumber(ctx, 0); err == nil {
		b.state.SetGenesis(genesis.Hash)
		logger.Info("EL genesis hash found", "hash", genesis.Hash.Hex())
	} else {
		logger.Warn("Failed to fetch EL genesis hash", "error", err)
	}
	if chainID, err := ethClient.ChainID(ctx); err == nil {
		b.chainID = chainID
	} else {
		logger.Warn("Failed to fetch chain id, CheckTx will not verify it", "error", err)
	}

	return b, nil
}

// newBridge assembles the parts that do not need a live CometBFT node.
func newBridge(cfg *config.Config, fork types.ForkName, ethClient *ethereum.Client, engineClient *ethereum.EngineClient, logger *slog.Logger) (*Bridge, error) {
	payloads, err := NewPayloadTracker(cfg.Bridge.PayloadIDCacheSize)
	if err != nil {
		return nil, err
	}
	timestamps, err := lru.New[common.Hash, uint64](blockCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create timestamp cache: %w", err)
	}
	randao, err := lru.New[int64, common.Hash](blockCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create randao cache: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		config:     cfg,
		fork:       fork,
		ethClient:  ethClient,
		engine:     engineClient,
		txPool:     NewTxPool(),
		state:      state.NewManager(cfg.Bridge.FinalityDepth),
		payloads:   payloads,
		metrics:    NewMetrics(),
		timestamps: timestamps,
		randao:     randao,
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger,
	}
	b.abciApp = NewABCIApplication(b)
	return b, nil
}

// Start launches the ABCI server, the health server and the bridging loop when enabled.
func (b *Bridge) Start() error {
	b.runningLock.Lock()
	defer b.runningLock.Unlock()
	if b.running {
		return fmt.Errorf("bridge already running")
	}
	if b.abciServer != nil {
		if err := b.abciServer.Start(); err != nil {
			return err
		}
	}
	if b.health != nil {
		if err := b.health.Start(); err != nil {
			return err
		}
	}
	if b.config.Bridge.EnableBridging {
		b.wg.Add(1)
		go b.runBlockBridging()
	}
	b.running = true
	b.logger.Info("Bridge started", "fork", b.fork, "bridging_enabled", b.config.Bridge.EnableBridging)
	return nil
}

// Stop shuts down services gracefully.
func (b *Bridge) Stop() error {
	b.runningLock.Lock()
	defer b.runningLock.Unlock()
	if !b.running {
		return nil
	}

	var result *multierror.Error
	if b.abciServer != nil {
		if err := b.abciServer.Stop(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to stop ABCI server: %w", err))
		}
	}
	if b.health != nil {
		if err := b.health.Stop(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to stop health server: %w", err))
		}
	}
	if b.consClient != nil {
		if err := b.consClient.Stop(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to stop consensus client: %w", err))
		}
	}
	b.cancel()
	done := make(chan struct{})
	go func() { b.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		b.logger.Warn("Bridge stop timeout, continuing")
	}
	if err := b.state.Save(b.config.Bridge.StateFile); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to save state: %w", err))
	}
	b.running = false
	return result.ErrorOrNil()
}

// runBlockBridging follows new CometBFT blocks over the websocket and falls
// back to polling when the subscription fails or closes.
func (b *Bridge) runBlockBridging() {
	defer b.wg.Done()
	b.logger.Info("Block bridging loop started (Event-Driven)")

	blockCh, err := b.consClient.SubscribeNewBlocks(b.ctx)
	if err != nil {
		b.logger.Error("Failed to subscribe to new blocks, falling back to polling", "error", err)
		b.runPollingLoop()
		return
	}
	defer func() {
		if err := b.consClient.UnsubscribeAll(context.Background()); err != nil {
			b.logger.Error("Failed to unsubscribe from all events", "error", err)
		}
	}()

	lastHeight := b.startHeight()
	for {
		select {
		case <-b.ctx.Done():
			b.logger.Info("Block bridging loop stopped")
			return
		case block, ok := <-blockCh:
			if !ok {
				b.logger.Warn("Subscription channel closed, falling back to polling")
				b.runPollingLoop()
				return
			}
			b.recordCometBlock(block)
			lastHeight = b.catchUp(lastHeight, block.Height)
		}
	}
}

func (b *Bridge) runPollingLoop() {
	b.logger.Info("Starting polling loop fallback")
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	lastHeight := b.startHeight()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			block, err := b.fetchCometBlock()
			if err != nil {
				b.logger.Error("Failed to fetch CometBFT height", "error", err)
				continue
			}
			b.recordCometBlock(block)
			lastHeight = b.catchUp(lastHeight, block.Height)
		}
	}
}

// startHeight is the last height already bridged, or the current CometBFT
// height when nothing has been produced yet. Recorded heads above the
// CometBFT height are dropped.
func (b *Bridge) startHeight() int64 {
	latest := b.state.GetLatest()
	block, err := b.fetchCometBlock()
	if err != nil {
		return latest.Height
	}
	if latest.Height == 0 {
		return block.Height
	}
	if latest.Height > block.Height {
		return b.rewind(latest.Height, block.Height)
	}
	return latest.Height
}

// rewind moves the recorded head back to height and returns the height the
// bridge resumes from.
func (b *Bridge) rewind(from, height int64) int64 {
	hash, ok := b.state.HashAt(height)
	if !ok {
		b.logger.Warn("CometBFT is behind recorded state, no head known to rewind to", "recorded", from, "cometbft", height)
		return from
	}
	if err := b.state.Reorg(height, hash); err != nil {
		b.logger.Error("Failed to rewind state", "height", height, "error", err)
		return from
	}
	b.logger.Warn("CometBFT is behind recorded state, rewound head", "from", from, "to", height, "hash", hash)
	return height
}

// catchUp processes every height in (last, target] in order and returns the
// last height processed. It stops at the first failure so the next
// notification retries the gap.
func (b *Bridge) catchUp(last, target int64) int64 {
	for h := last + 1; h <= target; h++ {
		if err := b.processHeight(h); err != nil {
			b.logger.Error("Failed to process height", "height", h, "error", err)
			break
		}
		last = h
		b.txPool.Prune(h - pruneDepth)
	}
	return last
}

func (b *Bridge) fetchCometBlock() (consensus.NewBlock, error) {
	ctx, cancel := context.WithTimeout(b.ctx, b.config.CallTimeout(5*time.Second))
	defer cancel()
	return b.consClient.LatestBlock(ctx)
}

// recordCometBlock keeps the CometBFT block hash as prevRandao for the
// execution block built at the same height.
func (b *Bridge) recordCometBlock(block consensus.NewBlock) {
	if hash := parseCometHash(block.Hash); hash != (common.Hash{}) {
		b.randao.Add(block.Height, hash)
	}
}

// processHeight triggers block production for the given CometBFT height.
func (b *Bridge) processHeight(height int64) error {
	return b.produceBlockAtHeight(height)
}

// Status summarizes the bridge for the health endpoint.
func (b *Bridge) Status() map[string]interface{} {
	stats := b.state.Stats()
	stats["fork"] = b.fork.String()
	stats["consumed_payload_ids"] = b.payloads.Len()
	stats["pending_tx_heights"] = b.txPool.Len()
	return stats
}
