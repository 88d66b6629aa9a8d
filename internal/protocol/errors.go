package protocol

import "errors"

var (
	ErrEncoding        = errors.New("protocol: encoding failed")
	ErrDecoding        = errors.New("protocol: decoding failed")
	ErrTypeMismatch    = errors.New("protocol: type mismatch")
	ErrTransport       = errors.New("protocol: transport failure")
	ErrPayloadTooLarge = errors.New("protocol: payload too large")
	ErrPoolContention  = errors.New("protocol: pool contention timeout")
)
