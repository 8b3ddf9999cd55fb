package engine

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// WireVersion distinguishes the two historical wire shapes.
type WireVersion int

const (
	VersionV1 WireVersion = 1
	VersionV2 WireVersion = 2
)

func (v WireVersion) String() string {
	return fmt.Sprintf("V%d", int(v))
}

// ExecutionPayloadCommon is the field set shared by V1 and V2. It has the
// same fields as types.PayloadBase, so the two convert with a plain type
// conversion and a field added to only one of them breaks the build.
type ExecutionPayloadCommon struct {
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

// ExecutionPayloadV1 is the pre-withdrawal wire payload.
type ExecutionPayloadV1 struct {
	ExecutionPayloadCommon
}

// ExecutionPayloadV2 adds optional withdrawals and excess data gas. A nil
// field was absent or null on the wire; an empty Withdrawals slice was [].
type ExecutionPayloadV2 struct {
	ExecutionPayloadCommon
	ExcessDataGas *uint256.Int
	Withdrawals   []WithdrawalJSON
}

// ExecutionPayloadJSON holds exactly one of the V1 and V2 shapes. It is
// serialized without a discriminator; decoding infers the version from the
// keys present in the object.
type ExecutionPayloadJSON struct {
	v1 *ExecutionPayloadV1
	v2 *ExecutionPayloadV2
}

// NewExecutionPayloadV1JSON wraps a V1 payload.
func NewExecutionPayloadV1JSON(p *ExecutionPayloadV1) *ExecutionPayloadJSON {
	return &ExecutionPayloadJSON{v1: p}
}

// NewExecutionPayloadV2JSON wraps a V2 payload.
func NewExecutionPayloadV2JSON(p *ExecutionPayloadV2) *ExecutionPayloadJSON {
	return &ExecutionPayloadJSON{v2: p}
}

// Version reports the active shape.
func (p *ExecutionPayloadJSON) Version() WireVersion {
	if p.v2 != nil {
		return VersionV2
	}
	return VersionV1
}

// V1 returns the V1 shape or ErrIncorrectStateVariant.
func (p *ExecutionPayloadJSON) V1() (*ExecutionPayloadV1, error) {
	if p.v1 == nil {
		return nil, errors.Wrapf(ErrIncorrectStateVariant, "execution payload is %s, not V1", p.Version())
	}
	return p.v1, nil
}

// V2 returns the V2 shape or ErrIncorrectStateVariant.
func (p *ExecutionPayloadJSON) V2() (*ExecutionPayloadV2, error) {
	if p.v2 == nil {
		return nil, errors.Wrapf(ErrIncorrectStateVariant, "execution payload is %s, not V2", p.Version())
	}
	return p.v2, nil
}

// Common returns the shared fields of whichever shape is active.
func (p *ExecutionPayloadJSON) Common() *ExecutionPayloadCommon {
	switch {
	case p.v2 != nil:
		return &p.v2.ExecutionPayloadCommon
	case p.v1 != nil:
		return &p.v1.ExecutionPayloadCommon
	default:
		return &ExecutionPayloadCommon{}
	}
}

// Withdrawals returns the V2 withdrawal list, nil when it was absent or null.
func (p *ExecutionPayloadJSON) Withdrawals() ([]WithdrawalJSON, error) {
	v2, err := p.V2()
	if err != nil {
		return nil, errors.Wrap(err, "withdrawals")
	}
	return v2.Withdrawals, nil
}

// ExcessDataGas returns the V2 excess data gas, nil when it was absent or null.
func (p *ExecutionPayloadJSON) ExcessDataGas() (*uint256.Int, error) {
	v2, err := p.V2()
	if err != nil {
		return nil, errors.Wrap(err, "excessDataGas")
	}
	return v2.ExcessDataGas, nil
}

// executionPayloadWire is the JSON layout of both versions. V1 leaves the
// optional V2 fields nil so they are omitted.
type executionPayloadWire struct {
	ParentHash    *string           `json:"parentHash"`
	FeeRecipient  *string           `json:"feeRecipient"`
	StateRoot     *string           `json:"stateRoot"`
	ReceiptsRoot  *string           `json:"receiptsRoot"`
	LogsBloom     *string           `json:"logsBloom"`
	PrevRandao    *string           `json:"prevRandao"`
	BlockNumber   *string           `json:"blockNumber"`
	GasLimit      *string           `json:"gasLimit"`
	GasUsed       *string           `json:"gasUsed"`
	Timestamp     *string           `json:"timestamp"`
	ExtraData     *string           `json:"extraData"`
	BaseFeePerGas *string           `json:"baseFeePerGas"`
	ExcessDataGas *string           `json:"excessDataGas,omitempty"`
	BlockHash     *string           `json:"blockHash"`
	Transactions  []string          `json:"transactions"`
	Withdrawals   *[]WithdrawalJSON `json:"withdrawals,omitempty"`
}

func strPtr(s string) *string { return &s }

func commonToWire(c *ExecutionPayloadCommon) executionPayloadWire {
	return executionPayloadWire{
		ParentHash:    strPtr(EncodeBytes(c.ParentHash.Bytes())),
		FeeRecipient:  strPtr(EncodeBytes(c.FeeRecipient.Bytes())),
		StateRoot:     strPtr(EncodeBytes(c.StateRoot.Bytes())),
		ReceiptsRoot:  strPtr(EncodeBytes(c.ReceiptsRoot.Bytes())),
		LogsBloom:     strPtr(EncodeBytes(c.LogsBloom.Bytes())),
		PrevRandao:    strPtr(EncodeBytes(c.PrevRandao.Bytes())),
		BlockNumber:   strPtr(EncodeQuantity(c.BlockNumber)),
		GasLimit:      strPtr(EncodeQuantity(c.GasLimit)),
		GasUsed:       strPtr(EncodeQuantity(c.GasUsed)),
		Timestamp:     strPtr(EncodeQuantity(c.Timestamp)),
		ExtraData:     strPtr(EncodeBytes(c.ExtraData)),
		BaseFeePerGas: strPtr(EncodeUint256(&c.BaseFeePerGas)),
		BlockHash:     strPtr(EncodeBytes(c.BlockHash.Bytes())),
		Transactions:  EncodeList(c.Transactions),
	}
}

func commonFromWire(d *fieldDecoder, w *executionPayloadWire) ExecutionPayloadCommon {
	var c ExecutionPayloadCommon
	c.ParentHash = d.hash("parentHash", w.ParentHash)
	c.FeeRecipient = d.address("feeRecipient", w.FeeRecipient)
	c.StateRoot = d.hash("stateRoot", w.StateRoot)
	c.ReceiptsRoot = d.hash("receiptsRoot", w.ReceiptsRoot)
	c.LogsBloom = gethtypes.BytesToBloom(d.fixed("logsBloom", w.LogsBloom, LogsBloomLength))
	c.PrevRandao = d.hash("prevRandao", w.PrevRandao)
	c.BlockNumber = d.quantity("blockNumber", w.BlockNumber)
	c.GasLimit = d.quantity("gasLimit", w.GasLimit)
	c.GasUsed = d.quantity("gasUsed", w.GasUsed)
	c.Timestamp = d.quantity("timestamp", w.Timestamp)
	c.ExtraData = d.bytes("extraData", w.ExtraData)
	c.BaseFeePerGas = d.u256("baseFeePerGas", w.BaseFeePerGas)
	c.BlockHash = d.hash("blockHash", w.BlockHash)
	c.Transactions = d.list("transactions", w.Transactions)
	return c
}

func (p ExecutionPayloadV1) MarshalJSON() ([]byte, error) {
	return json.Marshal(commonToWire(&p.ExecutionPayloadCommon))
}

func (p ExecutionPayloadV2) MarshalJSON() ([]byte, error) {
	w := commonToWire(&p.ExecutionPayloadCommon)
	if p.ExcessDataGas != nil {
		w.ExcessDataGas = strPtr(EncodeUint256(p.ExcessDataGas))
	}
	if p.Withdrawals != nil {
		ws := p.Withdrawals
		w.Withdrawals = &ws
	}
	return json.Marshal(w)
}

// UnmarshalJSON rejects withdrawals and excessDataGas instead of dropping them.
func (p *ExecutionPayloadV1) UnmarshalJSON(enc []byte) error {
	var w executionPayloadWire
	if err := json.Unmarshal(enc, &w); err != nil {
		return classify(err)
	}
	if err := rejectKeys(enc, "ExecutionPayloadV1", v2OnlyKeys...); err != nil {
		return err
	}
	d := fieldDecoder{object: "ExecutionPayloadV1"}
	c := commonFromWire(&d, &w)
	if d.err != nil {
		return d.err
	}
	*p = ExecutionPayloadV1{ExecutionPayloadCommon: c}
	return nil
}

func (p *ExecutionPayloadV2) UnmarshalJSON(enc []byte) error {
	var w executionPayloadWire
	if err := json.Unmarshal(enc, &w); err != nil {
		return classify(err)
	}
	d := fieldDecoder{object: "ExecutionPayloadV2"}
	c := commonFromWire(&d, &w)
	excess := d.optionalUint256("excessDataGas", w.ExcessDataGas)
	if d.err != nil {
		return d.err
	}
	out := ExecutionPayloadV2{ExecutionPayloadCommon: c, ExcessDataGas: excess}
	if w.Withdrawals != nil {
		out.Withdrawals = *w.Withdrawals
		if out.Withdrawals == nil {
			out.Withdrawals = []WithdrawalJSON{}
		}
	}
	*p = out
	return nil
}

// v2OnlyKeys are the keys whose presence, even with a null value, selects V2.
var v2OnlyKeys = []string{"withdrawals", "excessDataGas"}

func (p ExecutionPayloadJSON) MarshalJSON() ([]byte, error) {
	switch {
	case p.v2 != nil:
		return json.Marshal(p.v2)
	case p.v1 != nil:
		return json.Marshal(p.v1)
	default:
		return nil, errors.Wrap(ErrIncorrectStateVariant, "empty execution payload")
	}
}

// UnmarshalJSON selects the shape by probing for V2-only keys, so a V2
// field is never silently dropped and a V1 object never gains V2 defaults.
func (p *ExecutionPayloadJSON) UnmarshalJSON(enc []byte) error {
	present, err := probeKeys(enc, v2OnlyKeys...)
	if err != nil {
		return err
	}
	for _, k := range v2OnlyKeys {
		if present[k] {
			var v2 ExecutionPayloadV2
			if err := v2.UnmarshalJSON(enc); err != nil {
				return err
			}
			*p = ExecutionPayloadJSON{v2: &v2}
			return nil
		}
	}
	var v1 ExecutionPayloadV1
	if err := v1.UnmarshalJSON(enc); err != nil {
		return err
	}
	*p = ExecutionPayloadJSON{v1: &v1}
	return nil
}
