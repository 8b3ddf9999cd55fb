package engine

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"

	"github.com/smallyunet/engineapi/pkg/types"
)

// WithdrawalJSON is the wire withdrawal. Its fields mirror types.Withdrawal
// so the two convert directly.
type WithdrawalJSON struct {
	Index     uint64
	Validator uint64
	Address   common.Address
	Amount    uint64
}

type withdrawalWire struct {
	Index          *string `json:"index"`
	ValidatorIndex *string `json:"validatorIndex"`
	Address        *string `json:"address"`
	Amount         *string `json:"amount"`
}

func (w WithdrawalJSON) MarshalJSON() ([]byte, error) {
	index := EncodeQuantity(w.Index)
	validator := EncodeQuantity(w.Validator)
	address := EncodeBytes(w.Address.Bytes())
	amount := EncodeQuantity(w.Amount)
	return json.Marshal(withdrawalWire{
		Index:          &index,
		ValidatorIndex: &validator,
		Address:        &address,
		Amount:         &amount,
	})
}

func (w *WithdrawalJSON) UnmarshalJSON(enc []byte) error {
	var dec withdrawalWire
	if err := json.Unmarshal(enc, &dec); err != nil {
		return classify(err)
	}
	d := fieldDecoder{object: "Withdrawal"}
	out := WithdrawalJSON{
		Index:     d.quantity("index", dec.Index),
		Validator: d.quantity("validatorIndex", dec.ValidatorIndex),
		Address:   d.address("address", dec.Address),
		Amount:    d.quantity("amount", dec.Amount),
	}
	if d.err != nil {
		return d.err
	}
	*w = out
	return nil
}

// withdrawalsToJSON never returns nil, so a present but empty list stays present.
func withdrawalsToJSON(ws []types.Withdrawal) []WithdrawalJSON {
	out := make([]WithdrawalJSON, len(ws))
	for i, w := range ws {
		out[i] = WithdrawalJSON(w)
	}
	return out
}

// withdrawalsFromJSON preserves the nil (absent) versus empty distinction.
func withdrawalsFromJSON(ws []WithdrawalJSON) []types.Withdrawal {
	if ws == nil {
		return nil
	}
	out := make([]types.Withdrawal, len(ws))
	for i, w := range ws {
		out[i] = types.Withdrawal(w)
	}
	return out
}
