package engine

import (
	"fmt"
	"sort"
)

// Preset names.
const (
	PresetMainnet = "mainnet"
	PresetMinimal = "minimal"
)

// LogsBloomLength is the static byte length of the logs bloom.
const LogsBloomLength = 256

// Preset is the table of size limits for one network configuration.
type Preset struct {
	Name                      string
	MaxExtraDataBytes         int
	MaxBytesPerTransaction    int
	MaxTransactionsPerPayload int
	MaxWithdrawalsPerPayload  int
	MaxBlobsPerBlock          int
	FieldElementsPerBlob      int
}

// BytesPerBlob is the fixed byte length of a blob.
func (p *Preset) BytesPerBlob() int {
	return 32 * p.FieldElementsPerBlob
}

func (p *Preset) String() string {
	return fmt.Sprintf("%s(extra_data=%d tx_bytes=%d txs=%d withdrawals=%d blobs=%d blob_bytes=%d)",
		p.Name,
		p.MaxExtraDataBytes,
		p.MaxBytesPerTransaction,
		p.MaxTransactionsPerPayload,
		p.MaxWithdrawalsPerPayload,
		p.MaxBlobsPerBlock,
		p.BytesPerBlob(),
	)
}

var presets = map[string]Preset{
	PresetMainnet: {
		Name:                      PresetMainnet,
		MaxExtraDataBytes:         32,
		MaxBytesPerTransaction:    1 << 30,
		MaxTransactionsPerPayload: 1 << 20,
		MaxWithdrawalsPerPayload:  16,
		MaxBlobsPerBlock:          4,
		FieldElementsPerBlob:      4096,
	},
	PresetMinimal: {
		Name:                      PresetMinimal,
		MaxExtraDataBytes:         32,
		MaxBytesPerTransaction:    1 << 30,
		MaxTransactionsPerPayload: 1 << 20,
		MaxWithdrawalsPerPayload:  4,
		MaxBlobsPerBlock:          4,
		FieldElementsPerBlob:      4,
	},
}

// LookupPreset returns a copy of the named preset.
func LookupPreset(name string) (*Preset, error) {
	p, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("unknown preset %q", name)
	}
	return &p, nil
}

// MainnetPreset returns the mainnet limits.
func MainnetPreset() *Preset {
	p := presets[PresetMainnet]
	return &p
}

// PresetNames lists the known presets in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
