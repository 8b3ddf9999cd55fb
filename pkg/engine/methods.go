package engine

import (
	"github.com/pkg/errors"

	"github.com/smallyunet/engineapi/pkg/types"
)

const (
	MethodNewPayloadV1                      = "engine_newPayloadV1"
	MethodNewPayloadV2                      = "engine_newPayloadV2"
	MethodForkchoiceUpdatedV1               = "engine_forkchoiceUpdatedV1"
	MethodForkchoiceUpdatedV2               = "engine_forkchoiceUpdatedV2"
	MethodGetPayloadV1                      = "engine_getPayloadV1"
	MethodGetPayloadV2                      = "engine_getPayloadV2"
	MethodExchangeTransitionConfigurationV1 = "engine_exchangeTransitionConfigurationV1"
	MethodGetBlobsBundleV1                  = "engine_getBlobsBundleV1"
)

// SupportedMethods lists every method this package can encode.
var SupportedMethods = []string{
	MethodNewPayloadV1,
	MethodNewPayloadV2,
	MethodForkchoiceUpdatedV1,
	MethodForkchoiceUpdatedV2,
	MethodGetPayloadV1,
	MethodGetPayloadV2,
	MethodExchangeTransitionConfigurationV1,
	MethodGetBlobsBundleV1,
}

// VersionForFork returns the wire version used for payloads of fork.
func VersionForFork(fork types.ForkName) (WireVersion, error) {
	switch fork {
	case types.ForkMerge:
		return VersionV1, nil
	case types.ForkCapella, types.ForkEip4844:
		return VersionV2, nil
	default:
		return 0, errors.Wrapf(ErrUnsupportedForkVariant, "no wire version for fork %q", fork)
	}
}

func selectMethod(fork types.ForkName, v1, v2 string) (string, error) {
	version, err := VersionForFork(fork)
	if err != nil {
		return "", err
	}
	if version == VersionV1 {
		return v1, nil
	}
	return v2, nil
}

func NewPayloadMethod(fork types.ForkName) (string, error) {
	return selectMethod(fork, MethodNewPayloadV1, MethodNewPayloadV2)
}

func ForkchoiceUpdatedMethod(fork types.ForkName) (string, error) {
	return selectMethod(fork, MethodForkchoiceUpdatedV1, MethodForkchoiceUpdatedV2)
}

func GetPayloadMethod(fork types.ForkName) (string, error) {
	return selectMethod(fork, MethodGetPayloadV1, MethodGetPayloadV2)
}
