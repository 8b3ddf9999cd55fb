package engine

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/smallyunet/engineapi/pkg/types"
)

func signedTestTx(t *testing.T, nonce uint64) *gethtypes.Transaction {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	tx, err := gethtypes.SignNewTx(key, gethtypes.LatestSignerForChainID(big.NewInt(1337)), &gethtypes.DynamicFeeTx{
		ChainID:   big.NewInt(1337),
		Nonce:     nonce,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(10),
		Gas:       21000,
		To:        &common.Address{0x01},
		Value:     big.NewInt(1),
	})
	require.NoError(t, err)
	return tx
}

// payloadFromBlock copies the header fields of block into a canonical payload.
func payloadFromBlock(t *testing.T, block *gethtypes.Block) types.PayloadBase {
	t.Helper()
	raw := make([][]byte, len(block.Transactions()))
	for i, tx := range block.Transactions() {
		enc, err := tx.MarshalBinary()
		require.NoError(t, err)
		raw[i] = enc
	}
	baseFee, overflow := uint256.FromBig(block.BaseFee())
	require.False(t, overflow)
	return types.PayloadBase{
		ParentHash:    block.ParentHash(),
		FeeRecipient:  block.Coinbase(),
		StateRoot:     block.Root(),
		ReceiptsRoot:  block.ReceiptHash(),
		LogsBloom:     block.Bloom(),
		PrevRandao:    block.MixDigest(),
		BlockNumber:   block.NumberU64(),
		GasLimit:      block.GasLimit(),
		GasUsed:       block.GasUsed(),
		Timestamp:     block.Time(),
		ExtraData:     block.Extra(),
		BaseFeePerGas: *baseFee,
		BlockHash:     block.Hash(),
		Transactions:  raw,
	}
}

func testHeader() *gethtypes.Header {
	return &gethtypes.Header{
		ParentHash: common.HexToHash("0x3b8fb240d288781d4aac94d3fd16809ee413bc99294a085798a589dae51ddd4a"),
		Coinbase:   common.HexToAddress("0xa94f5374fce5edbc8e2a8697c15331677e6ebf0b"),
		Root:       common.HexToHash("0xca3149fa9e37db08d1cd49c9061db1002ef1cd58db2210f2115c8c989b2bdf45"),
		Difficulty: new(big.Int),
		Number:     big.NewInt(12),
		GasLimit:   30_000_000,
		GasUsed:    42_000,
		Time:       1_700_000_000,
		Extra:      []byte("engineapi"),
		MixDigest:  common.HexToHash("0x01"),
		BaseFee:    big.NewInt(7),
	}
}

func TestComputeBlockHashCapella(t *testing.T) {
	txs := gethtypes.Transactions{signedTestTx(t, 0), signedTestTx(t, 1)}
	withdrawals := testWithdrawals()
	ws := make(gethtypes.Withdrawals, len(withdrawals))
	for i := range withdrawals {
		ws[i] = &withdrawals[i]
	}
	block := gethtypes.NewBlock(testHeader(), &gethtypes.Body{Transactions: txs, Withdrawals: ws}, nil, trie.NewStackTrie(nil))

	payload := &types.ExecutionPayloadCapella{PayloadBase: payloadFromBlock(t, block), Withdrawals: withdrawals}
	hash, err := ComputeBlockHash(payload)
	require.NoError(t, err)
	require.Equal(t, block.Hash(), hash)

	payload.GasUsed++
	hash, err = ComputeBlockHash(payload)
	require.NoError(t, err)
	require.NotEqual(t, block.Hash(), hash)
}

func TestComputeBlockHashMerge(t *testing.T) {
	block := gethtypes.NewBlock(testHeader(), &gethtypes.Body{Transactions: gethtypes.Transactions{signedTestTx(t, 0)}}, nil, trie.NewStackTrie(nil))
	payload := &types.ExecutionPayloadMerge{PayloadBase: payloadFromBlock(t, block)}
	hash, err := ComputeBlockHash(payload)
	require.NoError(t, err)
	require.Equal(t, block.Hash(), hash)
}

func TestComputeBlockHashRejects(t *testing.T) {
	_, err := ComputeBlockHash(testEip4844())
	require.ErrorIs(t, err, ErrUnsupportedForkVariant)

	_, err = ComputeBlockHash(testMerge())
	require.ErrorIs(t, err, ErrBadConversion)
}
