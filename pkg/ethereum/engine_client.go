package ethereum

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/smallyunet/engineapi/pkg/engine"
	"github.com/smallyunet/engineapi/pkg/types"
)

// EngineClient drives the Engine API with canonical types. Method versions
// follow the fork; wire shapes are produced by the Converter.
type EngineClient struct {
	client *Client
	conv   *engine.Converter
}

// NewEngineClient wraps client. A nil converter uses the mainnet preset.
func NewEngineClient(client *Client, conv *engine.Converter) *EngineClient {
	if conv == nil {
		conv = engine.NewConverter(nil)
	}
	return &EngineClient{client: client, conv: conv}
}

// Converter returns the converter used for payload shapes.
func (e *EngineClient) Converter() *engine.Converter {
	return e.conv
}

// NewPayload submits payload with the method version of its fork.
func (e *EngineClient) NewPayload(ctx context.Context, payload types.ExecutionPayload) (types.PayloadStatus, error) {
	wire, err := e.conv.LowerPayload(payload)
	if err != nil {
		return types.PayloadStatus{}, err
	}
	method, err := engine.NewPayloadMethod(payload.Fork())
	if err != nil {
		return types.PayloadStatus{}, err
	}
	var status engine.PayloadStatusV1
	if err := e.client.CallResult(ctx, &status, method, wire); err != nil {
		return types.PayloadStatus{}, err
	}
	return status.ToPayloadStatus(), nil
}

// ForkchoiceUpdated updates the fork choice and, when attrs is non-nil,
// asks the execution client to start building on the new head.
func (e *EngineClient) ForkchoiceUpdated(ctx context.Context, fork types.ForkName, state types.ForkchoiceState, attrs types.PayloadAttributes) (types.ForkchoiceUpdatedResponse, error) {
	method, err := engine.ForkchoiceUpdatedMethod(fork)
	if err != nil {
		return types.ForkchoiceUpdatedResponse{}, err
	}

	var wireAttrs *engine.PayloadAttributesJSON
	if attrs != nil {
		if wireAttrs, err = e.conv.LowerAttributes(attrs); err != nil {
			return types.ForkchoiceUpdatedResponse{}, err
		}
	}

	var resp engine.ForkchoiceUpdatedResponseV1
	if err := e.client.CallResult(ctx, &resp, method, engine.NewForkchoiceStateV1(state), wireAttrs); err != nil {
		return types.ForkchoiceUpdatedResponse{}, err
	}
	return resp.ToForkchoiceUpdatedResponse(), nil
}

// GetPayload fetches the payload built under id and raises it to fork. The
// block value is zero for V1, which does not report one.
func (e *EngineClient) GetPayload(ctx context.Context, fork types.ForkName, id types.PayloadID) (types.ExecutionPayload, *uint256.Int, error) {
	version, err := engine.VersionForFork(fork)
	if err != nil {
		return nil, nil, err
	}
	method, err := engine.GetPayloadMethod(fork)
	if err != nil {
		return nil, nil, err
	}

	var (
		wire  *engine.ExecutionPayloadJSON
		value = new(uint256.Int)
	)
	switch version {
	case engine.VersionV1:
		// The typed V1 decode rejects V2-only keys. RaisePayload alone would
		// accept a V2 body for the merge fork and drop its withdrawals.
		var v1 engine.ExecutionPayloadV1
		if err := e.client.CallResult(ctx, &v1, method, engine.PayloadIDRequest(id)); err != nil {
			return nil, nil, err
		}
		wire = engine.NewExecutionPayloadV1JSON(&v1)
	default:
		var resp engine.GetPayloadV2Response
		if err := e.client.CallResult(ctx, &resp, method, engine.PayloadIDRequest(id)); err != nil {
			return nil, nil, err
		}
		wire = resp.ExecutionPayload
		value.Set(&resp.BlockValue)
	}

	payload, err := e.conv.RaisePayload(wire, fork)
	if err != nil {
		return nil, nil, fmt.Errorf("%s %s: %w", method, id, err)
	}
	return payload, value, nil
}

// ExchangeTransitionConfiguration sends the local terminal PoW configuration
// and returns the execution client's.
func (e *EngineClient) ExchangeTransitionConfiguration(ctx context.Context, local types.TransitionConfiguration) (types.TransitionConfiguration, error) {
	var remote engine.TransitionConfigurationV1
	if err := e.client.CallResult(ctx, &remote, engine.MethodExchangeTransitionConfigurationV1, engine.NewTransitionConfigurationV1(local)); err != nil {
		return types.TransitionConfiguration{}, err
	}
	return remote.ToTransitionConfiguration(), nil
}

// GetBlobsBundle fetches the blobs built alongside an eip4844 payload.
func (e *EngineClient) GetBlobsBundle(ctx context.Context, id types.PayloadID) (*types.BlobsBundle, error) {
	var bundle engine.BlobsBundleV1
	if err := e.client.CallResult(ctx, &bundle, engine.MethodGetBlobsBundleV1, engine.PayloadIDRequest(id)); err != nil {
		return nil, err
	}
	return e.conv.RaiseBlobsBundle(&bundle)
}
