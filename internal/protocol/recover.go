package protocol

import "fmt"

// Recover returns v as T, or ErrTypeMismatch naming both types.
func Recover[T any](v any) (T, error) {
	out, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: got %T want %T", ErrTypeMismatch, v, zero)
	}
	return out, nil
}

// MustRecover panics on mismatch. Use only where a mismatch is a wiring bug found at startup.
func MustRecover[T any](v any) T {
	out, err := Recover[T](v)
	if err != nil {
		panic(err)
	}
	return out
}
