package protocol

import (
	"errors"
	"fmt"
)

// Codec is satisfied by *T when T knows how to put itself on the wire.
// Loops written against Codec never see the concrete message type.
type Codec[T any] interface {
	*T
	Serialize() ([]byte, error)
	Deserialize([]byte) error
}

// Marshal serializes v through its pointer codec.
// Failures that do not already carry ErrEncoding or ErrPayloadTooLarge are wrapped in ErrEncoding.
func Marshal[T any, PT Codec[T]](v T) ([]byte, error) {
	b, err := PT(&v).Serialize()
	if err != nil {
		if errors.Is(err, ErrEncoding) || errors.Is(err, ErrPayloadTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return b, nil
}

// Unmarshal decodes b into a fresh T.
func Unmarshal[T any, PT Codec[T]](b []byte) (T, error) {
	var v T
	if err := PT(&v).Deserialize(b); err != nil {
		var zero T
		if errors.Is(err, ErrDecoding) || errors.Is(err, ErrPayloadTooLarge) {
			return zero, err
		}
		return zero, fmt.Errorf("%w: %v", ErrDecoding, err)
	}
	return v, nil
}
