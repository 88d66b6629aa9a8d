package schema

import (
	"fmt"

	"github.com/danmuck/beaconctl/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Message kinds carried in the frame message_type.
const (
	KindHeartbeat uint32 = 1
	KindReady     uint32 = 2
	KindFetch     uint32 = 3
	KindCommand   uint32 = 4
	KindDone      uint32 = 5
	KindSkip      uint32 = 6
	KindError     uint32 = 7
)

// Field IDs.
const (
	FieldSource      uint16 = 1
	FieldDestination uint16 = 2

	FieldIndex   uint16 = 10
	FieldPending uint16 = 11

	FieldCommandID uint16 = 20
	FieldPayload   uint16 = 21

	FieldReason uint16 = 30
)

var kindNames = map[uint32]string{
	KindHeartbeat: "heartbeat",
	KindReady:     "ready",
	KindFetch:     "fetch",
	KindCommand:   "command",
	KindDone:      "done",
	KindSkip:      "skip",
	KindError:     "error",
}

// KindName returns a printable name, or "kind(N)" for unknown kinds.
func KindName(kind uint32) string {
	if name, ok := kindNames[kind]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", kind)
}

// IsResponse reports whether kind is sent server to agent.
func IsResponse(kind uint32) bool {
	switch kind {
	case KindReady, KindCommand, KindDone, KindSkip, KindError:
		return true
	default:
		return false
	}
}

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var addressing = []Requirement{
	{FieldSource, tlv.TypeString},
	{FieldDestination, tlv.TypeString},
}

var requirements = map[uint32][]Requirement{
	KindHeartbeat: addressing,
	KindReady:     append(addressing[:2:2], Requirement{FieldPending, tlv.TypeU32}),
	// FETCH carries the last command ID the agent processed, empty to start from the front.
	KindFetch: append(addressing[:2:2],
		Requirement{FieldIndex, tlv.TypeU32},
		Requirement{FieldCommandID, tlv.TypeString},
	),
	KindCommand: append(addressing[:2:2],
		Requirement{FieldIndex, tlv.TypeU32},
		Requirement{FieldCommandID, tlv.TypeString},
		Requirement{FieldPayload, tlv.TypeBytes},
	),
	KindDone: addressing,
	KindSkip: append(addressing[:2:2],
		Requirement{FieldIndex, tlv.TypeU32},
		Requirement{FieldCommandID, tlv.TypeString},
		Requirement{FieldReason, tlv.TypeString},
	),
	KindError: append(addressing[:2:2], Requirement{FieldReason, tlv.TypeString}),
}

// Requirements returns the required fields for kind in wire order.
func Requirements(kind uint32) ([]Requirement, bool) {
	reqs, ok := requirements[kind]
	if !ok {
		return nil, false
	}
	out := make([]Requirement, len(reqs))
	copy(out, reqs)
	return out, true
}

// Validate enforces required fields and required field types for a message type.
// Unknown fields are ignored.
func Validate(messageType uint32, fields []tlv.Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		log.Debug().Uint32("message_type", messageType).Msg("schema.Validate unknown message_type")
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Debug().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Msg("schema.Validate missing field")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Debug().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Uint8("got", f.Type).
				Uint8("want", req.Type).
				Msg("schema.Validate type mismatch")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	return nil
}
