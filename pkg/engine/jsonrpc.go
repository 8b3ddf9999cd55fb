package engine

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
)

// JSONRPCVersion is the only protocol version spoken on the Engine API.
const JSONRPCVersion = "2.0"

// Request is a JSON-RPC request with positional parameters. ID is opaque
// and echoed back by the server.
type Request struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      json.RawMessage   `json:"id"`
}

// NewRequest encodes params positionally. The params slice is never nil so
// a call without arguments sends [].
func NewRequest(id uint64, method string, params ...interface{}) (*Request, error) {
	raw := make([]json.RawMessage, len(params))
	for i, p := range params {
		enc, err := json.Marshal(p)
		if err != nil {
			return nil, errors.Wrapf(err, "%s param %d", method, i)
		}
		raw[i] = enc
	}
	return &Request{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  raw,
		ID:      json.RawMessage(strconv.FormatUint(id, 10)),
	}, nil
}

// Response is a JSON-RPC response. Result encodes as null when unset. Only
// one of Result and Error is meaningful.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error,omitempty"`
}

var nullJSON = json.RawMessage("null")

// NewResultResponse builds a success response for the request id.
func NewResultResponse(id json.RawMessage, result interface{}) (*Response, error) {
	enc, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &Response{JSONRPC: JSONRPCVersion, ID: id, Result: enc}, nil
}

// NewErrorResponse builds an error response for the request id.
func NewErrorResponse(id json.RawMessage, code int64, message string) *Response {
	return &Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  nullJSON,
		Error:   &RPCError{Code: code, Message: message},
	}
}

// Err returns the error object verbatim, or nil on success.
func (r *Response) Err() error {
	if r.Error != nil {
		return r.Error
	}
	return nil
}

// ResultOrNull returns the raw result, substituting null when it is absent.
func (r *Response) ResultOrNull() json.RawMessage {
	if len(r.Result) == 0 {
		return nullJSON
	}
	return r.Result
}

// MatchesID reports whether the response echoes the id of req.
func (r *Response) MatchesID(req *Request) bool {
	return bytes.Equal(bytes.TrimSpace(r.ID), bytes.TrimSpace(req.ID))
}

// DecodeResult returns the RPC error if present and otherwise decodes the
// result into v.
func (r *Response) DecodeResult(v interface{}) error {
	if err := r.Err(); err != nil {
		return err
	}
	if err := json.Unmarshal(r.ResultOrNull(), v); err != nil {
		return classify(err)
	}
	return nil
}
