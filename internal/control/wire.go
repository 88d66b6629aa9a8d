package control

import (
	"errors"
	"fmt"
	"io"
	"net"
)

// MaxMessageBytes bounds one control-plane message in either direction.
const MaxMessageBytes = 128 * 1024

var ErrMessageTooLarge = errors.New("control: message too large")

// ReadMessage reads r to end of stream. The peer frames a message by finishing its write.
func ReadMessage(r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, MaxMessageBytes+1))
	if err != nil {
		return nil, err
	}
	if len(b) > MaxMessageBytes {
		return nil, fmt.Errorf("%w: over %d bytes", ErrMessageTooLarge, MaxMessageBytes)
	}
	return b, nil
}

// WriteMessage writes b in full and half-closes conn when it supports it.
func WriteMessage(conn net.Conn, b []byte) error {
	if len(b) > MaxMessageBytes {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(b))
	}
	if _, err := conn.Write(b); err != nil {
		return err
	}
	return CloseWrite(conn)
}

// CloseWrite signals end of stream while keeping the read side open.
func CloseWrite(conn net.Conn) error {
	type closeWriter interface {
		CloseWrite() error
	}
	if cw, ok := conn.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return nil
}
