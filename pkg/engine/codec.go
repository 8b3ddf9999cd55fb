package engine

import (
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// EncodeQuantity returns the minimal 0x-prefixed hex form of v. Zero is "0x0".
func EncodeQuantity(v uint64) string {
	return hexutil.EncodeUint64(v)
}

// DecodeQuantity parses a 64-bit quantity. Missing prefix, empty digits,
// leading zeros, bad digits and overflow fail with ErrMalformedQuantity.
// Only the lower-case form is accepted, so EncodeQuantity(v) == s.
func DecodeQuantity(s string) (uint64, error) {
	if err := checkQuantityForm(s); err != nil {
		return 0, err
	}
	v, err := hexutil.DecodeUint64(s)
	if err != nil {
		return 0, errors.Wrapf(ErrMalformedQuantity, "%q: %v", s, err)
	}
	return v, nil
}

// EncodeUint256 returns the minimal 0x-prefixed hex form of a 256-bit value.
func EncodeUint256(v *uint256.Int) string {
	return v.Hex()
}

// DecodeUint256 parses a 256-bit quantity under the same rules as DecodeQuantity.
func DecodeUint256(s string) (uint256.Int, error) {
	if err := checkQuantityForm(s); err != nil {
		return uint256.Int{}, err
	}
	v, err := uint256.FromHex(s)
	if err != nil {
		return uint256.Int{}, errors.Wrapf(ErrMalformedQuantity, "%q: %v", s, err)
	}
	return *v, nil
}

// checkQuantityForm rejects an upper-case prefix or upper-case digits, which
// the hex libraries tolerate but no canonical encoder produces.
func checkQuantityForm(s string) error {
	if !strings.HasPrefix(s, "0x") {
		return errors.Wrapf(ErrMalformedQuantity, "%q: missing 0x prefix", s)
	}
	if strings.ContainsAny(s[2:], "ABCDEF") {
		return errors.Wrapf(ErrMalformedQuantity, "%q: upper-case digits", s)
	}
	return nil
}

// EncodeBytes returns "0x" followed by the lowercase hex of b.
func EncodeBytes(b []byte) string {
	return hexutil.Encode(b)
}

func decodeHex(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") {
		return nil, errors.Wrapf(ErrInvalidJSON, "%q: missing 0x prefix", s)
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidJSON, "%q: %v", s, err)
	}
	return b, nil
}

// DecodeFixedBytes decodes exactly n bytes, failing with ErrLengthMismatch otherwise.
func DecodeFixedBytes(s string, n int) ([]byte, error) {
	b, err := decodeHex(s)
	if err != nil {
		return nil, err
	}
	if len(b) != n {
		return nil, errors.Wrapf(ErrLengthMismatch, "want %d bytes, have %d", n, len(b))
	}
	return b, nil
}

// DecodeBoundedBytes decodes at most max bytes, failing with ErrCapacityExceeded otherwise.
func DecodeBoundedBytes(s string, max int) ([]byte, error) {
	if len(s) > 2 && (len(s)-2)/2 > max {
		return nil, errors.Wrapf(ErrCapacityExceeded, "%d bytes exceeds limit %d", (len(s)-2)/2, max)
	}
	b, err := decodeHex(s)
	if err != nil {
		return nil, err
	}
	if err := checkCapacity("bytes", len(b), max); err != nil {
		return nil, err
	}
	return b, nil
}

// DecodeBoundedList decodes a list of byte strings. The list holds at most
// maxItems elements of at most maxBytes each.
func DecodeBoundedList(items []string, maxItems, maxBytes int) ([][]byte, error) {
	if err := checkCapacity("list", len(items), maxItems); err != nil {
		return nil, err
	}
	out := make([][]byte, len(items))
	for i, item := range items {
		b, err := DecodeBoundedBytes(item, maxBytes)
		if err != nil {
			return nil, errors.Wrapf(err, "element %d", i)
		}
		out[i] = b
	}
	return out, nil
}

// EncodeList encodes every element with EncodeBytes. The result is never nil
// so an empty list serializes as [] rather than null.
func EncodeList(items [][]byte) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = EncodeBytes(item)
	}
	return out
}

func checkCapacity(what string, n, max int) error {
	if n > max {
		return errors.Wrapf(ErrCapacityExceeded, "%s length %d exceeds limit %d", what, n, max)
	}
	return nil
}

// fieldDecoder decodes the string fields of one JSON object, keeping the
// first error. Errors name the field and the object.
type fieldDecoder struct {
	object string
	err    error
}

func (d *fieldDecoder) fail(field string, err error) {
	if d.err == nil {
		d.err = errors.Wrapf(err, "field %s of %s", field, d.object)
	}
}

func (d *fieldDecoder) required(field string, raw *string) (string, bool) {
	if d.err != nil {
		return "", false
	}
	if raw == nil {
		d.err = errors.Wrapf(ErrInvalidJSON, "missing required field '%s' for %s", field, d.object)
		return "", false
	}
	return *raw, true
}

func (d *fieldDecoder) quantity(field string, raw *string) uint64 {
	s, ok := d.required(field, raw)
	if !ok {
		return 0
	}
	v, err := DecodeQuantity(s)
	if err != nil {
		d.fail(field, err)
	}
	return v
}

func (d *fieldDecoder) u256(field string, raw *string) uint256.Int {
	s, ok := d.required(field, raw)
	if !ok {
		return uint256.Int{}
	}
	v, err := DecodeUint256(s)
	if err != nil {
		d.fail(field, err)
	}
	return v
}

// optionalUint256 returns nil when raw is absent or null.
func (d *fieldDecoder) optionalUint256(field string, raw *string) *uint256.Int {
	if raw == nil || d.err != nil {
		return nil
	}
	v := d.u256(field, raw)
	return &v
}

func (d *fieldDecoder) fixed(field string, raw *string, n int) []byte {
	s, ok := d.required(field, raw)
	if !ok {
		return nil
	}
	b, err := DecodeFixedBytes(s, n)
	if err != nil {
		d.fail(field, err)
	}
	return b
}

func (d *fieldDecoder) hash(field string, raw *string) common.Hash {
	return common.BytesToHash(d.fixed(field, raw, common.HashLength))
}

func (d *fieldDecoder) optionalHash(field string, raw *string) *common.Hash {
	if raw == nil || d.err != nil {
		return nil
	}
	h := d.hash(field, raw)
	return &h
}

func (d *fieldDecoder) address(field string, raw *string) common.Address {
	return common.BytesToAddress(d.fixed(field, raw, common.AddressLength))
}

func (d *fieldDecoder) bytes(field string, raw *string) []byte {
	s, ok := d.required(field, raw)
	if !ok {
		return nil
	}
	b, err := decodeHex(s)
	if err != nil {
		d.fail(field, err)
	}
	return b
}

func (d *fieldDecoder) list(field string, raw []string) [][]byte {
	if d.err != nil {
		return nil
	}
	if raw == nil {
		d.err = errors.Wrapf(ErrInvalidJSON, "missing required field '%s' for %s", field, d.object)
		return nil
	}
	out := make([][]byte, len(raw))
	for i, item := range raw {
		b, err := decodeHex(item)
		if err != nil {
			d.fail(field, errors.Wrapf(err, "element %d", i))
			return nil
		}
		out[i] = b
	}
	return out
}

// rejectKeys fails with ErrIncorrectStateVariant when enc carries any of
// keys, which the object being decoded does not define.
func rejectKeys(enc []byte, object string, keys ...string) error {
	present, err := probeKeys(enc, keys...)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if present[k] {
			return errors.Wrapf(ErrIncorrectStateVariant, "%s: unexpected field %q", object, k)
		}
	}
	return nil
}

// probeKeys reports which of keys are present in the JSON object enc,
// counting explicit nulls as present.
func probeKeys(enc []byte, keys ...string) (map[string]bool, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(enc, &fields); err != nil {
		return nil, classify(err)
	}
	if fields == nil {
		return nil, errors.Wrap(ErrInvalidJSON, "expected JSON object, got null")
	}
	present := make(map[string]bool, len(keys))
	for _, k := range keys {
		_, present[k] = fields[k]
	}
	return present, nil
}
