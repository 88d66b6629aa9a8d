package tlv

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeFieldsRoundTripPreservesUnknown(t *testing.T) {
	in := []Field{
		String(1, "JFK"),
		{ID: 9999, Type: TypeBytes, Value: []byte{0xAA, 0xBB}}, // unknown field id
	}
	b := EncodeFields(in)
	out, err := DecodeFields(b)
	if err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(out))
	}
	if out[1].ID != 9999 || out[1].Type != TypeBytes || !bytes.Equal(out[1].Value, []byte{0xAA, 0xBB}) {
		t.Fatalf("unknown field not preserved: %+v", out[1])
	}
}

func TestTypedAccessors(t *testing.T) {
	fields, err := DecodeFields(EncodeFields([]Field{
		U32(1, 7),
		U64(2, 1<<40),
		Bool(3, true),
		String(4, "whoami"),
		Bytes(5, []byte{1, 2, 3}),
	}))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v, err := fields[0].AsU32(); err != nil || v != 7 {
		t.Fatalf("u32: %v %v", v, err)
	}
	if v, err := fields[1].AsU64(); err != nil || v != 1<<40 {
		t.Fatalf("u64: %v %v", v, err)
	}
	if v, err := fields[2].AsBool(); err != nil || !v {
		t.Fatalf("bool: %v %v", v, err)
	}
	if v, err := fields[3].AsString(); err != nil || v != "whoami" {
		t.Fatalf("string: %q %v", v, err)
	}
	if v, err := fields[4].AsBytes(); err != nil || !bytes.Equal(v, []byte{1, 2, 3}) {
		t.Fatalf("bytes: %v %v", v, err)
	}
}

func TestAccessorTypeMismatch(t *testing.T) {
	_, err := String(1, "x").AsU32()
	if !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
	_, err = Field{ID: 2, Type: TypeU32, Value: []byte{1}}.AsU32()
	if !errors.Is(err, ErrValueLength) {
		t.Fatalf("expected ErrValueLength, got %v", err)
	}
}

func TestBytesCopiesInput(t *testing.T) {
	src := []byte{1, 2}
	f := Bytes(1, src)
	src[0] = 9
	if f.Value[0] != 1 {
		t.Fatalf("field aliases caller slice")
	}
}

func TestDecodeFieldsMalformedHeaderIsDeterministic(t *testing.T) {
	_, err := DecodeFields([]byte{1, 2, 3})
	if !errors.Is(err, ErrShortFieldHeader) {
		t.Fatalf("expected ErrShortFieldHeader, got %v", err)
	}
}

func TestDecodeFieldsMalformedLengthIsDeterministic(t *testing.T) {
	// id=1, type=string, len=5, value only 2 bytes
	payload := []byte{0, 1, TypeString, 0, 0, 0, 5, 'a', 'b'}
	_, err := DecodeFields(payload)
	if !errors.Is(err, ErrShortFieldValue) {
		t.Fatalf("expected ErrShortFieldValue, got %v", err)
	}
}
