package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/smallyunet/engineapi/pkg/engine"
	"github.com/smallyunet/engineapi/pkg/types"
)

const fcuRetryDelay = 200 * time.Millisecond

var errNoParent = errors.New("no valid parent available (zero hash); ensure EL is up and has a head")

// verifyBlockHash recomputes the hash of a built payload before it is handed
// back for import. Payloads whose header cannot be rebuilt locally pass.
func (b *Bridge) verifyBlockHash(payload types.ExecutionPayload) error {
	computed, err := engine.ComputeBlockHash(payload)
	if err != nil {
		b.logger.Debug("Skipping block hash check", "error", err)
		return nil
	}
	if got := payload.Base().BlockHash; got != computed {
		return fmt.Errorf("block hash mismatch: payload carries %s, header hashes to %s", got, computed)
	}
	return nil
}

// callTimeout is the per-height budget for the Engine API round.
func (b *Bridge) callTimeout() time.Duration {
	return b.config.CallTimeout(8 * time.Second)
}

// blockTimestamp returns the timestamp of the block with hash h, 0 on failure.
func (b *Bridge) blockTimestamp(ctx context.Context, h common.Hash) uint64 {
	if h == (common.Hash{}) {
		return 0
	}
	if ts, ok := b.timestamps.Get(h); ok {
		return ts
	}
	header, err := b.ethClient.BlockByHash(ctx, h)
	if err != nil {
		b.logger.Debug("Failed to fetch block timestamp", "hash", h.Hex(), "error", err)
		return 0
	}
	ts := uint64(header.Timestamp)
	b.timestamps.Add(h, ts)
	return ts
}

// selectParent prefers the head produced for the previous height, then the
// execution head, then genesis.
func (b *Bridge) selectParent(ctx context.Context, height int64) (common.Hash, uint64, error) {
	if parent, ok := b.state.HashAt(height - 1); ok {
		return parent, b.blockTimestamp(ctx, parent), nil
	}
	if head, err := b.ethClient.LatestBlock(ctx); err == nil && head.Hash != (common.Hash{}) {
		b.timestamps.Add(head.Hash, uint64(head.Timestamp))
		return head.Hash, uint64(head.Timestamp), nil
	} else if err != nil {
		b.logger.Warn("Failed to fetch EL head", "error", err)
	}
	if genesis := b.state.Genesis(); genesis != (common.Hash{}) {
		return genesis, b.blockTimestamp(ctx, genesis), nil
	}
	return common.Hash{}, 0, errNoParent
}

// injectTxs forwards the transactions CometBFT committed at height to the
// execution client's mempool. Failures are logged and skipped.
func (b *Bridge) injectTxs(ctx context.Context, height int64) {
	txs := b.txPool.GetTxs(height)
	if len(txs) == 0 {
		return
	}
	b.logger.Info("Injecting transactions into execution client", "height", height, "count", len(txs))

	var wg sync.WaitGroup
	for _, tx := range txs {
		wg.Add(1)
		go func(raw []byte) {
			defer wg.Done()
			if _, err := b.ethClient.SendRawTransaction(ctx, raw); err != nil {
				b.logger.Warn("Failed to inject tx", "error", err)
				return
			}
			b.metrics.InjectedTxs.Inc()
		}(tx)
	}
	wg.Wait()
}

// nextTimestamp is the wall clock, bumped past the parent when needed.
func nextTimestamp(now time.Time, parentTs uint64) uint64 {
	ts := uint64(now.Unix())
	if parentTs > 0 && ts <= parentTs {
		ts = parentTs + 1
	}
	return ts
}

// acceptable reports whether a payload status lets production continue.
func acceptable(status types.PayloadStatus) bool {
	return status.Status == types.StatusValid || status.Status == types.StatusAccepted
}

func describe(status types.PayloadStatus) string {
	if status.ValidationError != nil {
		return fmt.Sprintf("status=%s err=%s", status.Status, *status.ValidationError)
	}
	return fmt.Sprintf("status=%s", status.Status)
}

// produceBlockAtHeight executes the Engine API loop that lets the execution
// client build and import one block.
//
// Sequence:
// 1) forkchoiceUpdated(parent) without attributes
// 2) forkchoiceUpdated(parent, attributes) -> payloadId
// 3) getPayload(payloadId) -> payload built by the execution client
// 4) newPayload(payload) -> VALID/ACCEPTED
// 5) forkchoiceUpdated(head=payload, safe/finalized per finality depth)
func (b *Bridge) produceBlockAtHeight(height int64) (err error) {
	start := time.Now()
	defer func() {
		b.metrics.BlockProductionDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			b.metrics.RPCErrors.Inc()
		}
	}()

	ctx, cancel := context.WithTimeout(b.ctx, b.callTimeout())
	defer cancel()

	b.injectTxs(ctx, height)

	parent, parentTs, err := b.selectParent(ctx, height)
	if err != nil {
		return err
	}
	fcState := b.state.ForkchoiceAt(height, parent)

	if err := b.sendForkchoiceUpdate(ctx, fcState); err != nil {
		return fmt.Errorf("pre-fcu failed: %w", err)
	}

	prevRandao, _ := b.randao.Get(height)
	attrs := types.NewPayloadAttributes(
		b.fork,
		nextTimestamp(time.Now(), parentTs),
		prevRandao,
		b.config.FeeRecipientAddress(),
		nil,
	)
	fcu, err := b.engine.ForkchoiceUpdated(ctx, b.fork, fcState, attrs)
	if err != nil {
		return fmt.Errorf("fcu (with attrs) call: %w", err)
	}
	if fcu.PayloadID == nil {
		if fcu.PayloadStatus.Status == types.StatusSyncing {
			return fmt.Errorf("engine is SYNCING, cannot produce payload")
		}
		select {
		case <-time.After(fcuRetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if fcu, err = b.engine.ForkchoiceUpdated(ctx, b.fork, fcState, attrs); err != nil {
			return fmt.Errorf("fcu retry call: %w", err)
		}
		if fcu.PayloadID == nil {
			return fmt.Errorf("no payloadId from fcu, %s", describe(fcu.PayloadStatus))
		}
	}
	id := *fcu.PayloadID
	if prev, ok := b.payloads.Consume(id, height); !ok {
		return fmt.Errorf("payload id %s was already consumed at height %d", id, prev)
	}
	payload, value, err := b.engine.GetPayload(ctx, b.fork, id)
	if err != nil {
		return fmt.Errorf("getPayload: %w", err)
	}
	if err := b.verifyBlockHash(payload); err != nil {
		return err
	}

	status, err := b.engine.NewPayload(ctx, payload)
	if err != nil {
		return fmt.Errorf("newPayload: %w", err)
	}
	b.metrics.PayloadStatus.WithLabelValues(status.Status.String()).Inc()
	if !acceptable(status) {
		return fmt.Errorf("newPayload %s", describe(status))
	}

	head := payload.Base().BlockHash
	if err := b.state.UpdateLatest(height, head); err != nil {
		return err
	}
	if err := b.sendForkchoiceUpdate(ctx, b.state.Forkchoice()); err != nil {
		return fmt.Errorf("final fcu failed: %w", err)
	}

	b.metrics.HeadHeight.Set(float64(height))
	if err := b.state.Save(b.config.Bridge.StateFile); err != nil {
		b.logger.Error("Failed to save state", "error", err)
	}
	b.logger.Info("Produced block",
		"height", height,
		"number", payload.Base().BlockNumber,
		"head", head.Hex(),
		"txs", len(payload.Base().Transactions),
		"value", value.Dec(),
	)
	return nil
}

// parseCometHash converts upper-case/no-0x hex to go-ethereum common.Hash (0x-prefixed, lower-case).
func parseCometHash(h string) common.Hash {
	hs := strings.TrimSpace(h)
	if hs == "" {
		return common.Hash{}
	}
	if !strings.HasPrefix(hs, "0x") {
		hs = "0x" + strings.ToLower(hs)
	}
	return common.HexToHash(hs)
}

// sendForkchoiceUpdate sets head/safe/finalized without requesting a build.
// SYNCING is tolerated here.
func (b *Bridge) sendForkchoiceUpdate(ctx context.Context, fcState types.ForkchoiceState) error {
	resp, err := b.engine.ForkchoiceUpdated(ctx, b.fork, fcState, nil)
	if err != nil {
		return err
	}
	switch resp.PayloadStatus.Status {
	case types.StatusValid, types.StatusAccepted:
		return nil
	case types.StatusSyncing:
		b.logger.Warn("Engine is SYNCING during forkchoice update", "head", fcState.HeadBlockHash.Hex())
		return nil
	default:
		return fmt.Errorf("forkchoice %s", describe(resp.PayloadStatus))
	}
}
