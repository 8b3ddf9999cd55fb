package engine

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"

	"github.com/smallyunet/engineapi/pkg/types"
)

// PayloadIDRequest is a payload id in request position. It encodes as the
// bare hex string and never as an object.
type PayloadIDRequest types.PayloadID

func (id PayloadIDRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(hexutil.Encode(id[:]))
}

func (id *PayloadIDRequest) UnmarshalJSON(enc []byte) error {
	var s string
	if err := json.Unmarshal(enc, &s); err != nil {
		return errors.Wrapf(ErrInvalidJSON, "payload id must be a hex string: %v", err)
	}
	b, err := DecodeFixedBytes(s, len(id))
	if err != nil {
		return errors.Wrap(err, "payload id")
	}
	copy(id[:], b)
	return nil
}

// PayloadIDResponse is a payload id in response position. It encodes as
// {"payloadId": "0x..."} and a bare string is rejected.
type PayloadIDResponse struct {
	PayloadID types.PayloadID
}

type payloadIDResponseWire struct {
	PayloadID *PayloadIDRequest `json:"payloadId"`
}

func (r PayloadIDResponse) MarshalJSON() ([]byte, error) {
	id := PayloadIDRequest(r.PayloadID)
	return json.Marshal(payloadIDResponseWire{PayloadID: &id})
}

func (r *PayloadIDResponse) UnmarshalJSON(enc []byte) error {
	var w payloadIDResponseWire
	if err := json.Unmarshal(enc, &w); err != nil {
		return errors.Wrap(classify(err), "payload id response")
	}
	if w.PayloadID == nil {
		return errors.Wrap(ErrInvalidJSON, "missing required field 'payloadId' for PayloadIDResponse")
	}
	r.PayloadID = types.PayloadID(*w.PayloadID)
	return nil
}
