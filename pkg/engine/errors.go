package engine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
)

// Failure kinds produced by the codecs and the fork dispatcher. Every error
// returned by this package wraps exactly one of them; use errors.Is to classify.
var (
	ErrMalformedQuantity      = errors.New("malformed quantity")
	ErrLengthMismatch         = errors.New("length mismatch")
	ErrCapacityExceeded       = errors.New("capacity exceeded")
	ErrIncorrectStateVariant  = errors.New("incorrect state variant")
	ErrUnsupportedForkVariant = errors.New("unsupported fork variant")
	ErrBadConversion          = errors.New("bad conversion")
	ErrRPC                    = errors.New("json-rpc error")

	// ErrInvalidJSON covers structurally invalid input: bad JSON, non-hex
	// byte strings, missing required fields, unknown enum values.
	ErrInvalidJSON = errors.New("invalid json")
)

var taxonomy = []error{
	ErrMalformedQuantity,
	ErrLengthMismatch,
	ErrCapacityExceeded,
	ErrIncorrectStateVariant,
	ErrUnsupportedForkVariant,
	ErrBadConversion,
	ErrRPC,
	ErrInvalidJSON,
}

// RPCError is the error object of a JSON-RPC response. Code and message are
// passed through verbatim.
type RPCError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

var _ rpc.Error = (*RPCError)(nil)

func (e *RPCError) Error() string {
	return fmt.Sprintf("json-rpc error %d: %s", e.Code, e.Message)
}

// ErrorCode implements rpc.Error.
func (e *RPCError) ErrorCode() int {
	return int(e.Code)
}

// Is makes errors.Is(err, ErrRPC) match any RPCError.
func (e *RPCError) Is(target error) bool {
	return target == ErrRPC
}

// classify returns err unchanged when it already carries a failure kind and
// wraps it as ErrInvalidJSON otherwise.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range taxonomy {
		if errors.Is(err, kind) {
			return err
		}
	}
	return errors.Wrap(ErrInvalidJSON, err.Error())
}
