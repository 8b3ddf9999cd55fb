package types

import (
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// Withdrawal is a validator withdrawal processed by the execution layer.
// The canonical and wire shapes are identical, so the go-ethereum type is reused.
type Withdrawal = gethtypes.Withdrawal

// PayloadBase holds the fields shared by every execution payload fork.
type PayloadBase struct {
	ParentHash    common.Hash
	FeeRecipient  common.Address
	StateRoot     common.Hash
	ReceiptsRoot  common.Hash
	LogsBloom     gethtypes.Bloom
	PrevRandao    common.Hash
	BlockNumber   uint64
	GasLimit      uint64
	GasUsed       uint64
	Timestamp     uint64
	ExtraData     []byte
	BaseFeePerGas uint256.Int
	BlockHash     common.Hash
	Transactions  [][]byte
}

// ExecutionPayload is the fork-tagged canonical payload. The set of
// implementations is closed: ExecutionPayloadMerge, ExecutionPayloadCapella
// and ExecutionPayloadEip4844.
type ExecutionPayload interface {
	Fork() ForkName
	Base() *PayloadBase
	isExecutionPayload()
}

// ExecutionPayloadMerge is the pre-withdrawal payload.
type ExecutionPayloadMerge struct {
	PayloadBase
}

// ExecutionPayloadCapella adds the withdrawal list. A nil list is the same
// payload as an empty one; it goes on the wire as [] and comes back empty.
type ExecutionPayloadCapella struct {
	PayloadBase
	Withdrawals []Withdrawal
}

// ExecutionPayloadEip4844 adds the withdrawal list and the excess data gas.
// Withdrawals follows the Capella nil-as-empty rule.
type ExecutionPayloadEip4844 struct {
	PayloadBase
	ExcessDataGas uint256.Int
	Withdrawals   []Withdrawal
}

func (p *ExecutionPayloadMerge) Fork() ForkName   { return ForkMerge }
func (p *ExecutionPayloadCapella) Fork() ForkName { return ForkCapella }
func (p *ExecutionPayloadEip4844) Fork() ForkName { return ForkEip4844 }

func (p *ExecutionPayloadMerge) Base() *PayloadBase   { return &p.PayloadBase }
func (p *ExecutionPayloadCapella) Base() *PayloadBase { return &p.PayloadBase }
func (p *ExecutionPayloadEip4844) Base() *PayloadBase { return &p.PayloadBase }

func (*ExecutionPayloadMerge) isExecutionPayload()   {}
func (*ExecutionPayloadCapella) isExecutionPayload() {}
func (*ExecutionPayloadEip4844) isExecutionPayload() {}

// PayloadWithdrawals returns the withdrawal list of p and whether the fork
// of p carries one at all.
func PayloadWithdrawals(p ExecutionPayload) ([]Withdrawal, bool) {
	switch v := p.(type) {
	case *ExecutionPayloadCapella:
		return v.Withdrawals, true
	case *ExecutionPayloadEip4844:
		return v.Withdrawals, true
	default:
		return nil, false
	}
}
