package blockparam

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// DynamicBlockTags contains block tags that indicate dynamic/latest data
var DynamicBlockTags = map[string]bool{
	"latest":    true,
	"pending":   true,
	"earliest":  true,
	"safe":      true,
	"finalized": true,
}

// BlockNumber is either a concrete block height or a named tag (latest, finalized, ...)
type BlockNumber struct {
	number uint64
	tag    string
}

// Number returns a BlockNumber for a concrete height
func Number(n uint64) BlockNumber {
	return BlockNumber{number: n}
}

// Tag returns a BlockNumber for a named tag
func Tag(tag string) BlockNumber {
	return BlockNumber{tag: strings.ToLower(tag)}
}

// Latest is the chain head tag
var Latest = Tag("latest")

// IsTag returns true if the block is referenced by tag
func (b BlockNumber) IsTag() bool {
	return b.tag != ""
}

// Uint64 returns the concrete height; ok is false for tags
func (b BlockNumber) Uint64() (uint64, bool) {
	if b.IsTag() {
		return 0, false
	}
	return b.number, true
}

// String returns the wire form: a tag or a 0x-prefixed hex quantity
func (b BlockNumber) String() string {
	if b.IsTag() {
		return b.tag
	}
	return EncodeUint64(b.number)
}

// MarshalJSON implements json.Marshaler
func (b BlockNumber) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (b *BlockNumber) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Wrap(err, "block number must be a string")
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// Parse accepts a tag, a 0x-prefixed hex quantity or a decimal number
func Parse(s string) (BlockNumber, error) {
	s = strings.TrimSpace(s)
	if DynamicBlockTags[strings.ToLower(s)] {
		return Tag(s), nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		n, err := ParseHexUint64(s)
		if err != nil {
			return BlockNumber{}, err
		}
		return Number(n), nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return BlockNumber{}, errors.Newf("invalid block number %q", s)
	}
	return Number(n), nil
}

// EncodeUint64 encodes n as an Ethereum hex quantity
func EncodeUint64(n uint64) string {
	return "0x" + strconv.FormatUint(n, 16)
}

// ParseHexUint64 parses a hex string (with 0x prefix) to uint64
func ParseHexUint64(hexStr string) (uint64, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(hexStr, "0x"), "0X")
	if trimmed == "" {
		return 0, errors.Newf("invalid hex quantity %q", hexStr)
	}
	n, err := strconv.ParseUint(trimmed, 16, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid hex quantity %q", hexStr)
	}
	return n, nil
}
