package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// ForkchoiceState is the head/safe/finalized triple sent on every fork-choice update.
type ForkchoiceState struct {
	HeadBlockHash      common.Hash
	SafeBlockHash      common.Hash
	FinalizedBlockHash common.Hash
}

// PayloadStatusKind is the terminal classification of a submitted payload.
type PayloadStatusKind int

const (
	StatusValid PayloadStatusKind = iota
	StatusInvalid
	StatusSyncing
	StatusAccepted
	StatusInvalidBlockHash
)

var statusNames = map[PayloadStatusKind]string{
	StatusValid:            "VALID",
	StatusInvalid:          "INVALID",
	StatusSyncing:          "SYNCING",
	StatusAccepted:         "ACCEPTED",
	StatusInvalidBlockHash: "INVALID_BLOCK_HASH",
}

func (s PayloadStatusKind) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("PayloadStatusKind(%d)", int(s))
}

// ParsePayloadStatusKind maps a wire status name to its kind.
func ParsePayloadStatusKind(name string) (PayloadStatusKind, error) {
	for kind, n := range statusNames {
		if n == name {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown payload status %q", name)
}

// PayloadStatus is the execution layer's verdict on a payload or fork-choice update.
type PayloadStatus struct {
	Status          PayloadStatusKind
	LatestValidHash *common.Hash
	ValidationError *string
}

// PayloadID identifies an in-progress payload build job on the execution side.
// It is single-use: a successful get-payload call consumes it.
type PayloadID [8]byte

func (id PayloadID) String() string {
	return hexutil.Encode(id[:])
}

// ForkchoiceUpdatedResponse pairs a payload status with the build job id,
// present only when building was requested and accepted.
type ForkchoiceUpdatedResponse struct {
	PayloadStatus PayloadStatus
	PayloadID     *PayloadID
}

// TransitionConfiguration is the one-time terminal PoW handshake value.
type TransitionConfiguration struct {
	TerminalTotalDifficulty uint256.Int
	TerminalBlockHash       common.Hash
	TerminalBlockNumber     uint64
}

// KZGCommitment is a 48-byte commitment to a blob.
type KZGCommitment [48]byte

// BlobsBundle carries the blobs built alongside an Eip4844 payload.
type BlobsBundle struct {
	BlockHash   common.Hash
	Commitments []KZGCommitment
	Blobs       [][]byte
}
