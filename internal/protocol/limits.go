package protocol

import "fmt"

// MaxDatagramBytes is the largest datagram either plane will send or accept:
// a 576-byte minimum path MTU less 60 bytes of IP header and 8 bytes of UDP header.
const MaxDatagramBytes = 576 - 60 - 8

// CheckDatagram rejects datagrams over MaxDatagramBytes.
func CheckDatagram(b []byte) error {
	if len(b) > MaxDatagramBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, len(b), MaxDatagramBytes)
	}
	return nil
}
