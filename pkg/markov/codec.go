package markov

import (
	"fmt"
	"strconv"
)

// Token kinds recorded alongside persisted models.
const (
	KindWords = "words"
	KindBytes = "bytes"
)

// Codec converts tokens to and from the text stored in the database.
// Encode must be injective so that distinct tokens stay distinct.
type Codec[T comparable] interface {
	Kind() string
	Encode(T) string
	Decode(string) (T, error)
}

// StringCodec stores word tokens verbatim.
type StringCodec struct{}

func (StringCodec) Kind() string                    { return KindWords }
func (StringCodec) Encode(s string) string          { return s }
func (StringCodec) Decode(s string) (string, error) { return s, nil }

// ByteCodec stores byte tokens as decimal numbers.
type ByteCodec struct{}

func (ByteCodec) Kind() string {
	return KindBytes
}

func (ByteCodec) Encode(b byte) string {
	return strconv.Itoa(int(b))
}

func (ByteCodec) Decode(s string) (byte, error) {
	v, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid byte token %q: %w", s, err)
	}
	return byte(v), nil
}
