package types

import (
	"fmt"
	"strings"
)

// ForkName identifies a protocol upgrade that changes the execution payload shape.
type ForkName string

const (
	ForkMerge   ForkName = "merge"
	ForkCapella ForkName = "capella"
	ForkEip4844 ForkName = "eip4844"
)

// Forks lists the supported forks in activation order.
var Forks = []ForkName{ForkMerge, ForkCapella, ForkEip4844}

func (f ForkName) String() string {
	return string(f)
}

// ParseForkName accepts the lower-case fork names used in configuration.
// "bellatrix" is accepted as an alias of the merge fork.
func ParseForkName(s string) (ForkName, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "merge", "bellatrix":
		return ForkMerge, nil
	case "capella":
		return ForkCapella, nil
	case "eip4844", "deneb":
		return ForkEip4844, nil
	default:
		return "", fmt.Errorf("unknown fork %q", s)
	}
}

// HasWithdrawals reports whether payloads of the fork carry a withdrawal list.
func (f ForkName) HasWithdrawals() bool {
	return f == ForkCapella || f == ForkEip4844
}
