package beacon

import (
	"fmt"

	"github.com/danmuck/beaconctl/internal/protocol"
	"github.com/danmuck/beaconctl/internal/protocol/frame"
	"github.com/danmuck/beaconctl/internal/protocol/schema"
	"github.com/danmuck/beaconctl/internal/protocol/tlv"
)

// Message is one data-plane datagram. Only the fields the kind requires are put on the wire.
type Message struct {
	Kind     uint32
	Sequence uint64
	// Tag carries the sender's public key in the frame auth section.
	Tag []byte

	Source      string
	Destination string

	Index   uint32
	Pending uint32

	CommandID string
	Payload   []byte
	Reason    string
}

func (m Message) String() string {
	return fmt.Sprintf("%s seq=%d %s->%s", schema.KindName(m.Kind), m.Sequence, m.Source, m.Destination)
}

func (m *Message) Serialize() ([]byte, error) {
	reqs, ok := schema.Requirements(m.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: unknown kind %d", protocol.ErrEncoding, m.Kind)
	}
	fields := make([]tlv.Field, 0, len(reqs))
	for _, req := range reqs {
		fields = append(fields, m.field(req.ID))
	}

	flags := uint32(0)
	if schema.IsResponse(m.Kind) {
		flags |= frame.FlagIsResponse
	}
	if m.Kind == schema.KindError {
		flags |= frame.FlagIsError
	}
	return frame.Marshal(frame.Frame{
		Header: frame.Header{
			MessageID:   m.Sequence,
			MessageType: m.Kind,
			Flags:       flags,
		},
		Auth:    m.Tag,
		Payload: tlv.EncodeFields(fields),
	})
}

func (m *Message) field(id uint16) tlv.Field {
	switch id {
	case schema.FieldSource:
		return tlv.String(id, m.Source)
	case schema.FieldDestination:
		return tlv.String(id, m.Destination)
	case schema.FieldIndex:
		return tlv.U32(id, m.Index)
	case schema.FieldPending:
		return tlv.U32(id, m.Pending)
	case schema.FieldCommandID:
		return tlv.String(id, m.CommandID)
	case schema.FieldPayload:
		return tlv.Bytes(id, m.Payload)
	default:
		return tlv.String(schema.FieldReason, m.Reason)
	}
}

func (m *Message) Deserialize(b []byte) error {
	f, err := frame.Unmarshal(b)
	if err != nil {
		return err
	}
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrDecoding, err)
	}
	kind := f.Header.MessageType
	if err := schema.Validate(kind, fields); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrDecoding, err)
	}

	out := Message{Kind: kind, Sequence: f.Header.MessageID, Tag: f.Auth}
	reqs, _ := schema.Requirements(kind)
	for _, req := range reqs {
		fld, _ := tlv.GetField(fields, req.ID)
		if err := out.set(fld); err != nil {
			return fmt.Errorf("%w: %v", protocol.ErrDecoding, err)
		}
	}
	*m = out
	return nil
}

func (m *Message) set(f tlv.Field) error {
	var err error
	switch f.ID {
	case schema.FieldSource:
		m.Source, err = f.AsString()
	case schema.FieldDestination:
		m.Destination, err = f.AsString()
	case schema.FieldIndex:
		m.Index, err = f.AsU32()
	case schema.FieldPending:
		m.Pending, err = f.AsU32()
	case schema.FieldCommandID:
		m.CommandID, err = f.AsString()
	case schema.FieldPayload:
		m.Payload, err = f.AsBytes()
		if len(m.Payload) == 0 {
			m.Payload = nil
		}
	case schema.FieldReason:
		m.Reason, err = f.AsString()
	}
	return err
}
