package engine

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/smallyunet/engineapi/pkg/types"
)

// Converter maps between the canonical fork-tagged model and the versioned
// wire schema. The preset bounds every variable-length field. A Converter is
// immutable and safe for concurrent use.
type Converter struct {
	preset Preset
}

// NewConverter returns a Converter for preset, or for mainnet when preset is nil.
func NewConverter(preset *Preset) *Converter {
	if preset == nil {
		preset = MainnetPreset()
	}
	return &Converter{preset: *preset}
}

// Preset returns the size limits in use.
func (c *Converter) Preset() Preset {
	return c.preset
}

func baseToJSON(b *types.PayloadBase) ExecutionPayloadCommon {
	return ExecutionPayloadCommon(*b)
}

func baseFromJSON(c *ExecutionPayloadCommon) types.PayloadBase {
	return types.PayloadBase(*c)
}

func (c *Converter) checkBase(b *ExecutionPayloadCommon) error {
	if err := checkCapacity("extraData", len(b.ExtraData), c.preset.MaxExtraDataBytes); err != nil {
		return err
	}
	if err := checkCapacity("transactions", len(b.Transactions), c.preset.MaxTransactionsPerPayload); err != nil {
		return err
	}
	for i, tx := range b.Transactions {
		if err := checkCapacity("transaction", len(tx), c.preset.MaxBytesPerTransaction); err != nil {
			return errors.Wrapf(err, "transaction %d", i)
		}
	}
	return nil
}

func (c *Converter) checkWithdrawals(n int) error {
	return checkCapacity("withdrawals", n, c.preset.MaxWithdrawalsPerPayload)
}

// LowerPayload converts a canonical payload to its wire shape. The variant
// alone selects the shape: Merge lowers to V1, Capella and Eip4844 to V2.
func (c *Converter) LowerPayload(p types.ExecutionPayload) (*ExecutionPayloadJSON, error) {
	if p == nil {
		return nil, errors.Wrap(ErrUnsupportedForkVariant, "nil execution payload")
	}
	shared := baseToJSON(p.Base())
	if err := c.checkBase(&shared); err != nil {
		return nil, errors.Wrapf(err, "lower %s payload", p.Fork())
	}

	switch v := p.(type) {
	case *types.ExecutionPayloadMerge:
		return NewExecutionPayloadV1JSON(&ExecutionPayloadV1{ExecutionPayloadCommon: shared}), nil
	case *types.ExecutionPayloadCapella:
		if err := c.checkWithdrawals(len(v.Withdrawals)); err != nil {
			return nil, errors.Wrap(err, "lower capella payload")
		}
		return NewExecutionPayloadV2JSON(&ExecutionPayloadV2{
			ExecutionPayloadCommon: shared,
			Withdrawals:            withdrawalsToJSON(v.Withdrawals),
		}), nil
	case *types.ExecutionPayloadEip4844:
		if err := c.checkWithdrawals(len(v.Withdrawals)); err != nil {
			return nil, errors.Wrap(err, "lower eip4844 payload")
		}
		excess := v.ExcessDataGas
		return NewExecutionPayloadV2JSON(&ExecutionPayloadV2{
			ExecutionPayloadCommon: shared,
			ExcessDataGas:          &excess,
			Withdrawals:            withdrawalsToJSON(v.Withdrawals),
		}), nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedForkVariant, "cannot lower payload of type %T", p)
	}
}

// RaisePayload converts a wire payload to the canonical variant of fork.
// The fork is never inferred from the wire shape.
func (c *Converter) RaisePayload(p *ExecutionPayloadJSON, fork types.ForkName) (types.ExecutionPayload, error) {
	if p == nil || (p.v1 == nil && p.v2 == nil) {
		return nil, errors.Wrapf(ErrBadConversion, "no execution payload to raise to %s", fork)
	}
	version := p.Version()
	if err := c.checkBase(p.Common()); err != nil {
		return nil, errors.Wrapf(err, "raise %s payload to %s", version, fork)
	}
	base := baseFromJSON(p.Common())

	if version == VersionV1 {
		if fork != types.ForkMerge {
			return nil, unsupported(version, fork)
		}
		return &types.ExecutionPayloadMerge{PayloadBase: base}, nil
	}

	v2 := p.v2
	switch fork {
	case types.ForkMerge:
		return &types.ExecutionPayloadMerge{PayloadBase: base}, nil
	case types.ForkCapella:
		if v2.Withdrawals == nil {
			return nil, errors.Wrap(ErrBadConversion, "null withdrawal field converting V2 payload to capella")
		}
		if err := c.checkWithdrawals(len(v2.Withdrawals)); err != nil {
			return nil, errors.Wrap(err, "raise V2 payload to capella")
		}
		return &types.ExecutionPayloadCapella{
			PayloadBase: base,
			Withdrawals: withdrawalsFromJSON(v2.Withdrawals),
		}, nil
	case types.ForkEip4844:
		if v2.Withdrawals == nil {
			return nil, errors.Wrap(ErrBadConversion, "null withdrawal field converting V2 payload to eip4844")
		}
		if v2.ExcessDataGas == nil {
			return nil, errors.Wrap(ErrBadConversion, "null excess data gas field converting V2 payload to eip4844")
		}
		if err := c.checkWithdrawals(len(v2.Withdrawals)); err != nil {
			return nil, errors.Wrap(err, "raise V2 payload to eip4844")
		}
		return &types.ExecutionPayloadEip4844{
			PayloadBase:   base,
			ExcessDataGas: *v2.ExcessDataGas,
			Withdrawals:   withdrawalsFromJSON(v2.Withdrawals),
		}, nil
	default:
		return nil, unsupported(version, fork)
	}
}

func unsupported(version WireVersion, fork types.ForkName) error {
	return errors.Wrapf(ErrUnsupportedForkVariant, "wire %s payload has no mapping to fork %q", version, fork)
}

// DecodePayload parses wire JSON and raises it to fork.
func (c *Converter) DecodePayload(enc []byte, fork types.ForkName) (types.ExecutionPayload, error) {
	var p ExecutionPayloadJSON
	if err := json.Unmarshal(enc, &p); err != nil {
		return nil, classify(err)
	}
	return c.RaisePayload(&p, fork)
}

// LowerAttributes maps V1 to V1 and V2 to V2. A nil withdrawal list stays absent.
func (c *Converter) LowerAttributes(a types.PayloadAttributes) (*PayloadAttributesJSON, error) {
	switch v := a.(type) {
	case *types.PayloadAttributesV1:
		return NewPayloadAttributesV1JSON(&PayloadAttributesV1{
			Timestamp:             v.Timestamp,
			PrevRandao:            v.PrevRandao,
			SuggestedFeeRecipient: v.SuggestedFeeRecipient,
		}), nil
	case *types.PayloadAttributesV2:
		if err := c.checkWithdrawals(len(v.Withdrawals)); err != nil {
			return nil, errors.Wrap(err, "lower V2 payload attributes")
		}
		out := &PayloadAttributesV2{
			Timestamp:             v.Timestamp,
			PrevRandao:            v.PrevRandao,
			SuggestedFeeRecipient: v.SuggestedFeeRecipient,
		}
		if v.Withdrawals != nil {
			out.Withdrawals = withdrawalsToJSON(v.Withdrawals)
		}
		return NewPayloadAttributesV2JSON(out), nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedForkVariant, "cannot lower payload attributes of type %T", a)
	}
}

// RaiseAttributes is the inverse of LowerAttributes.
func (c *Converter) RaiseAttributes(a *PayloadAttributesJSON) (types.PayloadAttributes, error) {
	if a == nil || (a.v1 == nil && a.v2 == nil) {
		return nil, errors.Wrap(ErrBadConversion, "no payload attributes to raise")
	}
	if a.v1 != nil {
		return &types.PayloadAttributesV1{
			Timestamp:             a.v1.Timestamp,
			PrevRandao:            a.v1.PrevRandao,
			SuggestedFeeRecipient: a.v1.SuggestedFeeRecipient,
		}, nil
	}
	if err := c.checkWithdrawals(len(a.v2.Withdrawals)); err != nil {
		return nil, errors.Wrap(err, "raise V2 payload attributes")
	}
	return &types.PayloadAttributesV2{
		Timestamp:             a.v2.Timestamp,
		PrevRandao:            a.v2.PrevRandao,
		SuggestedFeeRecipient: a.v2.SuggestedFeeRecipient,
		Withdrawals:           withdrawalsFromJSON(a.v2.Withdrawals),
	}, nil
}

// DecodeAttributes parses wire JSON and raises it.
func (c *Converter) DecodeAttributes(enc []byte) (types.PayloadAttributes, error) {
	var a PayloadAttributesJSON
	if err := json.Unmarshal(enc, &a); err != nil {
		return nil, classify(err)
	}
	return c.RaiseAttributes(&a)
}

func (c *Converter) checkBlobs(b *BlobsBundleV1) error {
	if len(b.Commitments) != len(b.Blobs) {
		return errors.Wrapf(ErrLengthMismatch, "%d commitments for %d blobs", len(b.Commitments), len(b.Blobs))
	}
	if err := checkCapacity("blobs", len(b.Blobs), c.preset.MaxBlobsPerBlock); err != nil {
		return err
	}
	for i, blob := range b.Blobs {
		if len(blob) != c.preset.BytesPerBlob() {
			return errors.Wrapf(ErrLengthMismatch, "blob %d: want %d bytes, have %d", i, c.preset.BytesPerBlob(), len(blob))
		}
	}
	return nil
}

// LowerBlobsBundle validates a canonical bundle against the preset.
func (c *Converter) LowerBlobsBundle(b *types.BlobsBundle) (*BlobsBundleV1, error) {
	out := BlobsBundleV1(*b)
	if err := c.checkBlobs(&out); err != nil {
		return nil, errors.Wrap(err, "lower blobs bundle")
	}
	return &out, nil
}

// RaiseBlobsBundle validates a wire bundle against the preset.
func (c *Converter) RaiseBlobsBundle(b *BlobsBundleV1) (*types.BlobsBundle, error) {
	if err := c.checkBlobs(b); err != nil {
		return nil, errors.Wrap(err, "raise blobs bundle")
	}
	out := types.BlobsBundle(*b)
	return &out, nil
}
