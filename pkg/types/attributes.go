package types

import "github.com/ethereum/go-ethereum/common"

// PayloadAttributes are the consensus-supplied hints for building a payload.
// Implementations are PayloadAttributesV1 and PayloadAttributesV2.
type PayloadAttributes interface {
	Version() int
	isPayloadAttributes()
}

// PayloadAttributesV1 carries no withdrawals.
type PayloadAttributesV1 struct {
	Timestamp             uint64
	PrevRandao            common.Hash
	SuggestedFeeRecipient common.Address
}

// PayloadAttributesV2 extends V1 with an optional withdrawal list. A nil
// Withdrawals slice means the list is absent, which differs from an empty one.
type PayloadAttributesV2 struct {
	Timestamp             uint64
	PrevRandao            common.Hash
	SuggestedFeeRecipient common.Address
	Withdrawals           []Withdrawal
}

func (*PayloadAttributesV1) Version() int { return 1 }
func (*PayloadAttributesV2) Version() int { return 2 }

func (*PayloadAttributesV1) isPayloadAttributes() {}
func (*PayloadAttributesV2) isPayloadAttributes() {}

// NewPayloadAttributes builds the attribute version expected by fork.
// Withdrawal-carrying forks always get a non-nil list.
func NewPayloadAttributes(fork ForkName, timestamp uint64, prevRandao common.Hash, feeRecipient common.Address, withdrawals []Withdrawal) PayloadAttributes {
	if !fork.HasWithdrawals() {
		return &PayloadAttributesV1{
			Timestamp:             timestamp,
			PrevRandao:            prevRandao,
			SuggestedFeeRecipient: feeRecipient,
		}
	}
	if withdrawals == nil {
		withdrawals = []Withdrawal{}
	}
	return &PayloadAttributesV2{
		Timestamp:             timestamp,
		PrevRandao:            prevRandao,
		SuggestedFeeRecipient: feeRecipient,
		Withdrawals:           withdrawals,
	}
}
