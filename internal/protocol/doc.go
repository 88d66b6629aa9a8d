// Package protocol owns the message contract shared by every plugin binding.
//
// Ownership boundary:
// - error taxonomy for encode/decode/transport failures
// - the Codec constraint and generic Marshal/Unmarshal entry points
// - generic type recovery for values carried as any
// - the datagram size ceiling
package protocol
