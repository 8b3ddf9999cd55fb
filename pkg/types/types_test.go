package types

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestParseForkName(t *testing.T) {
	tests := []struct {
		in   string
		want ForkName
	}{
		{"merge", ForkMerge},
		{"Bellatrix", ForkMerge},
		{" capella ", ForkCapella},
		{"EIP4844", ForkEip4844},
		{"deneb", ForkEip4844},
	}
	for _, tt := range tests {
		got, err := ParseForkName(tt.in)
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, got)
	}
	_, err := ParseForkName("shanghai")
	require.Error(t, err)
}

func TestPayloadStatusKindNames(t *testing.T) {
	for kind, name := range statusNames {
		require.Equal(t, name, kind.String())
		parsed, err := ParsePayloadStatusKind(name)
		require.NoError(t, err)
		require.Equal(t, kind, parsed)
	}
	_, err := ParsePayloadStatusKind("valid")
	require.Error(t, err)
	require.Equal(t, "PayloadStatusKind(9)", PayloadStatusKind(9).String())
}

func TestNewPayloadAttributes(t *testing.T) {
	randao := common.HexToHash("0x01")
	fee := common.HexToAddress("0x02")

	v1, ok := NewPayloadAttributes(ForkMerge, 5, randao, fee, []Withdrawal{{Index: 1}}).(*PayloadAttributesV1)
	require.True(t, ok)
	require.Equal(t, uint64(5), v1.Timestamp)

	v2, ok := NewPayloadAttributes(ForkCapella, 5, randao, fee, nil).(*PayloadAttributesV2)
	require.True(t, ok)
	require.NotNil(t, v2.Withdrawals)
	require.Empty(t, v2.Withdrawals)

	require.Equal(t, "0x0102030405060708", PayloadID{1, 2, 3, 4, 5, 6, 7, 8}.String())
}
