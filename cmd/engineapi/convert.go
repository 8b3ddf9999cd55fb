package main

import (
	"encoding/json"
	"fmt"

	"github.com/smallyunet/engineapi/pkg/engine"
	"github.com/smallyunet/engineapi/pkg/types"
)

type convertOptions struct {
	Fork       string
	Preset     string
	Attributes bool
	VerifyHash bool
}

// convertDocument decodes an execution payload (or payload attributes),
// raises it to the canonical form for the fork, lowers it again and returns
// the indented wire JSON.
func convertDocument(data []byte, opts convertOptions) ([]byte, error) {
	preset, err := engine.LookupPreset(opts.Preset)
	if err != nil {
		return nil, err
	}
	conv := engine.NewConverter(preset)

	var wire interface{}
	if opts.Attributes {
		attrs, err := conv.DecodeAttributes(data)
		if err != nil {
			return nil, fmt.Errorf("decode payload attributes: %w", err)
		}
		if wire, err = conv.LowerAttributes(attrs); err != nil {
			return nil, err
		}
	} else {
		fork, err := types.ParseForkName(opts.Fork)
		if err != nil {
			return nil, err
		}
		payload, err := conv.DecodePayload(data, fork)
		if err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", fork, err)
		}
		if opts.VerifyHash {
			computed, err := engine.ComputeBlockHash(payload)
			if err != nil {
				return nil, err
			}
			if computed != payload.Base().BlockHash {
				return nil, fmt.Errorf("block hash mismatch: document has %s, header hashes to %s", payload.Base().BlockHash, computed)
			}
		}
		if wire, err = conv.LowerPayload(payload); err != nil {
			return nil, err
		}
	}
	return json.MarshalIndent(wire, "", "  ")
}
