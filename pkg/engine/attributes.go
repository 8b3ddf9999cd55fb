package engine

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// PayloadAttributesV1 is the pre-withdrawal wire attributes shape.
type PayloadAttributesV1 struct {
	Timestamp             uint64
	PrevRandao            common.Hash
	SuggestedFeeRecipient common.Address
}

// PayloadAttributesV2 adds an optional withdrawal list. Nil means the key was
// absent or null.
type PayloadAttributesV2 struct {
	Timestamp             uint64
	PrevRandao            common.Hash
	SuggestedFeeRecipient common.Address
	Withdrawals           []WithdrawalJSON
}

// PayloadAttributesJSON holds exactly one of the V1 and V2 attribute shapes,
// serialized without a discriminator.
type PayloadAttributesJSON struct {
	v1 *PayloadAttributesV1
	v2 *PayloadAttributesV2
}

func NewPayloadAttributesV1JSON(a *PayloadAttributesV1) *PayloadAttributesJSON {
	return &PayloadAttributesJSON{v1: a}
}

func NewPayloadAttributesV2JSON(a *PayloadAttributesV2) *PayloadAttributesJSON {
	return &PayloadAttributesJSON{v2: a}
}

func (a *PayloadAttributesJSON) Version() WireVersion {
	if a.v2 != nil {
		return VersionV2
	}
	return VersionV1
}

func (a *PayloadAttributesJSON) V1() (*PayloadAttributesV1, error) {
	if a.v1 == nil {
		return nil, errors.Wrapf(ErrIncorrectStateVariant, "payload attributes are %s, not V1", a.Version())
	}
	return a.v1, nil
}

func (a *PayloadAttributesJSON) V2() (*PayloadAttributesV2, error) {
	if a.v2 == nil {
		return nil, errors.Wrapf(ErrIncorrectStateVariant, "payload attributes are %s, not V2", a.Version())
	}
	return a.v2, nil
}

// Timestamp is available on both versions.
func (a *PayloadAttributesJSON) Timestamp() uint64 {
	if a.v2 != nil {
		return a.v2.Timestamp
	}
	if a.v1 != nil {
		return a.v1.Timestamp
	}
	return 0
}

// Withdrawals fails with ErrIncorrectStateVariant on V1 attributes.
func (a *PayloadAttributesJSON) Withdrawals() ([]WithdrawalJSON, error) {
	v2, err := a.V2()
	if err != nil {
		return nil, errors.Wrap(err, "withdrawals")
	}
	return v2.Withdrawals, nil
}

type payloadAttributesWire struct {
	Timestamp             *string           `json:"timestamp"`
	PrevRandao            *string           `json:"prevRandao"`
	SuggestedFeeRecipient *string           `json:"suggestedFeeRecipient"`
	Withdrawals           *[]WithdrawalJSON `json:"withdrawals,omitempty"`
}

func attributesToWire(ts uint64, randao common.Hash, fee common.Address) payloadAttributesWire {
	return payloadAttributesWire{
		Timestamp:             strPtr(EncodeQuantity(ts)),
		PrevRandao:            strPtr(EncodeBytes(randao.Bytes())),
		SuggestedFeeRecipient: strPtr(EncodeBytes(fee.Bytes())),
	}
}

func (a PayloadAttributesV1) MarshalJSON() ([]byte, error) {
	return json.Marshal(attributesToWire(a.Timestamp, a.PrevRandao, a.SuggestedFeeRecipient))
}

func (a PayloadAttributesV2) MarshalJSON() ([]byte, error) {
	w := attributesToWire(a.Timestamp, a.PrevRandao, a.SuggestedFeeRecipient)
	if a.Withdrawals != nil {
		ws := a.Withdrawals
		w.Withdrawals = &ws
	}
	return json.Marshal(w)
}

func (a *PayloadAttributesV1) UnmarshalJSON(enc []byte) error {
	var w payloadAttributesWire
	if err := json.Unmarshal(enc, &w); err != nil {
		return classify(err)
	}
	if err := rejectKeys(enc, "PayloadAttributesV1", "withdrawals"); err != nil {
		return err
	}
	d := fieldDecoder{object: "PayloadAttributesV1"}
	out := PayloadAttributesV1{
		Timestamp:             d.quantity("timestamp", w.Timestamp),
		PrevRandao:            d.hash("prevRandao", w.PrevRandao),
		SuggestedFeeRecipient: d.address("suggestedFeeRecipient", w.SuggestedFeeRecipient),
	}
	if d.err != nil {
		return d.err
	}
	*a = out
	return nil
}

func (a *PayloadAttributesV2) UnmarshalJSON(enc []byte) error {
	var w payloadAttributesWire
	if err := json.Unmarshal(enc, &w); err != nil {
		return classify(err)
	}
	d := fieldDecoder{object: "PayloadAttributesV2"}
	out := PayloadAttributesV2{
		Timestamp:             d.quantity("timestamp", w.Timestamp),
		PrevRandao:            d.hash("prevRandao", w.PrevRandao),
		SuggestedFeeRecipient: d.address("suggestedFeeRecipient", w.SuggestedFeeRecipient),
	}
	if d.err != nil {
		return d.err
	}
	if w.Withdrawals != nil {
		out.Withdrawals = *w.Withdrawals
		if out.Withdrawals == nil {
			out.Withdrawals = []WithdrawalJSON{}
		}
	}
	*a = out
	return nil
}

func (a PayloadAttributesJSON) MarshalJSON() ([]byte, error) {
	switch {
	case a.v2 != nil:
		return json.Marshal(a.v2)
	case a.v1 != nil:
		return json.Marshal(a.v1)
	default:
		return nil, errors.Wrap(ErrIncorrectStateVariant, "empty payload attributes")
	}
}

// UnmarshalJSON treats a withdrawals key, even a null one, as V2.
func (a *PayloadAttributesJSON) UnmarshalJSON(enc []byte) error {
	present, err := probeKeys(enc, "withdrawals")
	if err != nil {
		return err
	}
	if present["withdrawals"] {
		var v2 PayloadAttributesV2
		if err := v2.UnmarshalJSON(enc); err != nil {
			return err
		}
		*a = PayloadAttributesJSON{v2: &v2}
		return nil
	}
	var v1 PayloadAttributesV1
	if err := v1.UnmarshalJSON(enc); err != nil {
		return err
	}
	*a = PayloadAttributesJSON{v1: &v1}
	return nil
}
