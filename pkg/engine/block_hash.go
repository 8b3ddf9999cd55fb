package engine

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/pkg/errors"

	"github.com/smallyunet/engineapi/pkg/types"
)

// ComputeBlockHash derives the execution block hash from the header fields
// of a payload, the way the execution client does on newPayload. Eip4844
// payloads carry the draft excess data gas field, which has no go-ethereum
// header encoding, and are rejected with ErrUnsupportedForkVariant.
func ComputeBlockHash(p types.ExecutionPayload) (common.Hash, error) {
	var withdrawalsHash *common.Hash
	switch v := p.(type) {
	case *types.ExecutionPayloadMerge:
	case *types.ExecutionPayloadCapella:
		ws := make(gethtypes.Withdrawals, len(v.Withdrawals))
		for i := range v.Withdrawals {
			ws[i] = &v.Withdrawals[i]
		}
		h := gethtypes.DeriveSha(ws, trie.NewStackTrie(nil))
		withdrawalsHash = &h
	default:
		return common.Hash{}, errors.Wrapf(ErrUnsupportedForkVariant, "no header encoding for payload of type %T", p)
	}

	base := p.Base()
	txs := make(gethtypes.Transactions, len(base.Transactions))
	for i, raw := range base.Transactions {
		tx := new(gethtypes.Transaction)
		if err := tx.UnmarshalBinary(raw); err != nil {
			return common.Hash{}, errors.Wrapf(ErrBadConversion, "transaction %d: %v", i, err)
		}
		txs[i] = tx
	}

	header := &gethtypes.Header{
		ParentHash:      base.ParentHash,
		UncleHash:       gethtypes.EmptyUncleHash,
		Coinbase:        base.FeeRecipient,
		Root:            base.StateRoot,
		TxHash:          gethtypes.DeriveSha(txs, trie.NewStackTrie(nil)),
		ReceiptHash:     base.ReceiptsRoot,
		Bloom:           base.LogsBloom,
		Difficulty:      new(big.Int),
		Number:          new(big.Int).SetUint64(base.BlockNumber),
		GasLimit:        base.GasLimit,
		GasUsed:         base.GasUsed,
		Time:            base.Timestamp,
		Extra:           base.ExtraData,
		MixDigest:       base.PrevRandao,
		BaseFee:         base.BaseFeePerGas.ToBig(),
		WithdrawalsHash: withdrawalsHash,
	}
	return header.Hash(), nil
}
