package engine

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/smallyunet/engineapi/pkg/types"
)

// ForkchoiceStateV1 is the wire fork-choice state. Its fields mirror
// types.ForkchoiceState.
type ForkchoiceStateV1 struct {
	HeadBlockHash      common.Hash
	SafeBlockHash      common.Hash
	FinalizedBlockHash common.Hash
}

type forkchoiceStateWire struct {
	HeadBlockHash      *string `json:"headBlockHash"`
	SafeBlockHash      *string `json:"safeBlockHash"`
	FinalizedBlockHash *string `json:"finalizedBlockHash"`
}

func NewForkchoiceStateV1(s types.ForkchoiceState) ForkchoiceStateV1 {
	return ForkchoiceStateV1(s)
}

func (s ForkchoiceStateV1) ToForkchoiceState() types.ForkchoiceState {
	return types.ForkchoiceState(s)
}

func (s ForkchoiceStateV1) MarshalJSON() ([]byte, error) {
	return json.Marshal(forkchoiceStateWire{
		HeadBlockHash:      strPtr(EncodeBytes(s.HeadBlockHash.Bytes())),
		SafeBlockHash:      strPtr(EncodeBytes(s.SafeBlockHash.Bytes())),
		FinalizedBlockHash: strPtr(EncodeBytes(s.FinalizedBlockHash.Bytes())),
	})
}

func (s *ForkchoiceStateV1) UnmarshalJSON(enc []byte) error {
	var w forkchoiceStateWire
	if err := json.Unmarshal(enc, &w); err != nil {
		return classify(err)
	}
	d := fieldDecoder{object: "ForkchoiceStateV1"}
	out := ForkchoiceStateV1{
		HeadBlockHash:      d.hash("headBlockHash", w.HeadBlockHash),
		SafeBlockHash:      d.hash("safeBlockHash", w.SafeBlockHash),
		FinalizedBlockHash: d.hash("finalizedBlockHash", w.FinalizedBlockHash),
	}
	if d.err != nil {
		return d.err
	}
	*s = out
	return nil
}

// PayloadStatusV1 is the wire payload status. Absent optional fields are
// encoded as null.
type PayloadStatusV1 struct {
	Status          types.PayloadStatusKind
	LatestValidHash *common.Hash
	ValidationError *string
}

type payloadStatusWire struct {
	Status          *string `json:"status"`
	LatestValidHash *string `json:"latestValidHash"`
	ValidationError *string `json:"validationError"`
}

func NewPayloadStatusV1(s types.PayloadStatus) PayloadStatusV1 {
	return PayloadStatusV1(s)
}

func (s PayloadStatusV1) ToPayloadStatus() types.PayloadStatus {
	return types.PayloadStatus(s)
}

func (s PayloadStatusV1) MarshalJSON() ([]byte, error) {
	w := payloadStatusWire{
		Status:          strPtr(s.Status.String()),
		ValidationError: s.ValidationError,
	}
	if s.LatestValidHash != nil {
		w.LatestValidHash = strPtr(EncodeBytes(s.LatestValidHash.Bytes()))
	}
	return json.Marshal(w)
}

func (s *PayloadStatusV1) UnmarshalJSON(enc []byte) error {
	var w payloadStatusWire
	if err := json.Unmarshal(enc, &w); err != nil {
		return classify(err)
	}
	d := fieldDecoder{object: "PayloadStatusV1"}
	name, _ := d.required("status", w.Status)
	latest := d.optionalHash("latestValidHash", w.LatestValidHash)
	if d.err != nil {
		return d.err
	}
	kind, err := types.ParsePayloadStatusKind(name)
	if err != nil {
		return errors.Wrap(ErrInvalidJSON, err.Error())
	}
	*s = PayloadStatusV1{
		Status:          kind,
		LatestValidHash: latest,
		ValidationError: w.ValidationError,
	}
	return nil
}

// ForkchoiceUpdatedResponseV1 carries the payload id as a bare hex string,
// or null when no build was started.
type ForkchoiceUpdatedResponseV1 struct {
	PayloadStatus PayloadStatusV1   `json:"payloadStatus"`
	PayloadID     *PayloadIDRequest `json:"payloadId"`
}

func NewForkchoiceUpdatedResponseV1(r types.ForkchoiceUpdatedResponse) ForkchoiceUpdatedResponseV1 {
	out := ForkchoiceUpdatedResponseV1{PayloadStatus: NewPayloadStatusV1(r.PayloadStatus)}
	if r.PayloadID != nil {
		id := PayloadIDRequest(*r.PayloadID)
		out.PayloadID = &id
	}
	return out
}

func (r ForkchoiceUpdatedResponseV1) ToForkchoiceUpdatedResponse() types.ForkchoiceUpdatedResponse {
	out := types.ForkchoiceUpdatedResponse{PayloadStatus: r.PayloadStatus.ToPayloadStatus()}
	if r.PayloadID != nil {
		id := types.PayloadID(*r.PayloadID)
		out.PayloadID = &id
	}
	return out
}

func (r *ForkchoiceUpdatedResponseV1) UnmarshalJSON(enc []byte) error {
	var w struct {
		PayloadStatus *PayloadStatusV1  `json:"payloadStatus"`
		PayloadID     *PayloadIDRequest `json:"payloadId"`
	}
	if err := json.Unmarshal(enc, &w); err != nil {
		return classify(err)
	}
	if w.PayloadStatus == nil {
		return errors.Wrap(ErrInvalidJSON, "missing required field 'payloadStatus' for ForkchoiceUpdatedResponseV1")
	}
	*r = ForkchoiceUpdatedResponseV1{PayloadStatus: *w.PayloadStatus, PayloadID: w.PayloadID}
	return nil
}

// TransitionConfigurationV1 mirrors types.TransitionConfiguration.
type TransitionConfigurationV1 struct {
	TerminalTotalDifficulty uint256.Int
	TerminalBlockHash       common.Hash
	TerminalBlockNumber     uint64
}

type transitionConfigurationWire struct {
	TerminalTotalDifficulty *string `json:"terminalTotalDifficulty"`
	TerminalBlockHash       *string `json:"terminalBlockHash"`
	TerminalBlockNumber     *string `json:"terminalBlockNumber"`
}

func NewTransitionConfigurationV1(c types.TransitionConfiguration) TransitionConfigurationV1 {
	return TransitionConfigurationV1(c)
}

func (c TransitionConfigurationV1) ToTransitionConfiguration() types.TransitionConfiguration {
	return types.TransitionConfiguration(c)
}

func (c TransitionConfigurationV1) MarshalJSON() ([]byte, error) {
	return json.Marshal(transitionConfigurationWire{
		TerminalTotalDifficulty: strPtr(EncodeUint256(&c.TerminalTotalDifficulty)),
		TerminalBlockHash:       strPtr(EncodeBytes(c.TerminalBlockHash.Bytes())),
		TerminalBlockNumber:     strPtr(EncodeQuantity(c.TerminalBlockNumber)),
	})
}

func (c *TransitionConfigurationV1) UnmarshalJSON(enc []byte) error {
	var w transitionConfigurationWire
	if err := json.Unmarshal(enc, &w); err != nil {
		return classify(err)
	}
	d := fieldDecoder{object: "TransitionConfigurationV1"}
	out := TransitionConfigurationV1{
		TerminalTotalDifficulty: d.u256("terminalTotalDifficulty", w.TerminalTotalDifficulty),
		TerminalBlockHash:       d.hash("terminalBlockHash", w.TerminalBlockHash),
		TerminalBlockNumber:     d.quantity("terminalBlockNumber", w.TerminalBlockNumber),
	}
	if d.err != nil {
		return d.err
	}
	*c = out
	return nil
}

// BlobsBundleV1 is the result of engine_getBlobsBundleV1. Blob sizes and
// counts are checked against a preset by Converter.RaiseBlobsBundle.
type BlobsBundleV1 struct {
	BlockHash   common.Hash
	Commitments []types.KZGCommitment
	Blobs       [][]byte
}

type blobsBundleWire struct {
	BlockHash   *string  `json:"blockHash"`
	Commitments []string `json:"kzgs"`
	Blobs       []string `json:"blobs"`
}

func (b BlobsBundleV1) MarshalJSON() ([]byte, error) {
	kzgs := make([]string, len(b.Commitments))
	for i := range b.Commitments {
		kzgs[i] = EncodeBytes(b.Commitments[i][:])
	}
	return json.Marshal(blobsBundleWire{
		BlockHash:   strPtr(EncodeBytes(b.BlockHash.Bytes())),
		Commitments: kzgs,
		Blobs:       EncodeList(b.Blobs),
	})
}

func (b *BlobsBundleV1) UnmarshalJSON(enc []byte) error {
	var w blobsBundleWire
	if err := json.Unmarshal(enc, &w); err != nil {
		return classify(err)
	}
	d := fieldDecoder{object: "BlobsBundleV1"}
	out := BlobsBundleV1{BlockHash: d.hash("blockHash", w.BlockHash)}
	kzgs := d.list("kzgs", w.Commitments)
	out.Blobs = d.list("blobs", w.Blobs)
	if d.err != nil {
		return d.err
	}
	out.Commitments = make([]types.KZGCommitment, len(kzgs))
	for i, k := range kzgs {
		if len(k) != len(out.Commitments[i]) {
			return errors.Wrapf(ErrLengthMismatch, "kzgs element %d: want %d bytes, have %d", i, len(out.Commitments[i]), len(k))
		}
		copy(out.Commitments[i][:], k)
	}
	*b = out
	return nil
}

// GetPayloadV2Response is the result of engine_getPayloadV2.
type GetPayloadV2Response struct {
	ExecutionPayload *ExecutionPayloadJSON
	BlockValue       uint256.Int
}

type getPayloadV2Wire struct {
	ExecutionPayload *ExecutionPayloadJSON `json:"executionPayload"`
	BlockValue       *string               `json:"blockValue"`
}

func (r GetPayloadV2Response) MarshalJSON() ([]byte, error) {
	if r.ExecutionPayload == nil {
		return nil, errors.Wrap(ErrIncorrectStateVariant, "getPayloadV2 response without payload")
	}
	return json.Marshal(getPayloadV2Wire{
		ExecutionPayload: r.ExecutionPayload,
		BlockValue:       strPtr(EncodeUint256(&r.BlockValue)),
	})
}

func (r *GetPayloadV2Response) UnmarshalJSON(enc []byte) error {
	var w getPayloadV2Wire
	if err := json.Unmarshal(enc, &w); err != nil {
		return classify(err)
	}
	if w.ExecutionPayload == nil {
		return errors.Wrap(ErrInvalidJSON, "missing required field 'executionPayload' for GetPayloadV2Response")
	}
	d := fieldDecoder{object: "GetPayloadV2Response"}
	value := d.u256("blockValue", w.BlockValue)
	if d.err != nil {
		return d.err
	}
	*r = GetPayloadV2Response{ExecutionPayload: w.ExecutionPayload, BlockValue: value}
	return nil
}
