package protocol

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/danmuck/beaconctl/internal/testutil/testlog"
)

// note is a minimal codec used to exercise the generic entry points.
type note struct {
	Body string
}

func (n *note) Serialize() ([]byte, error) {
	if strings.ContainsRune(n.Body, '\n') {
		return nil, errors.New("newline in body")
	}
	return []byte(n.Body + "\n"), nil
}

func (n *note) Deserialize(b []byte) error {
	if len(b) == 0 || b[len(b)-1] != '\n' {
		return errors.New("missing terminator")
	}
	n.Body = string(b[:len(b)-1])
	return nil
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	testlog.Start(t)
	in := note{Body: "whoami"}
	b, err := Marshal[note](in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out, err := Unmarshal[note](b)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got=%+v want=%+v", out, in)
	}
}

func TestMarshalWrapsEncodingError(t *testing.T) {
	testlog.Start(t)
	_, err := Marshal[note](note{Body: "a\nb"})
	if !errors.Is(err, ErrEncoding) {
		t.Fatalf("expected ErrEncoding, got %v", err)
	}
}

func TestUnmarshalWrapsDecodingError(t *testing.T) {
	testlog.Start(t)
	_, err := Unmarshal[note]([]byte("truncated"))
	if !errors.Is(err, ErrDecoding) {
		t.Fatalf("expected ErrDecoding, got %v", err)
	}
}

func TestRecoverMatchesConcreteType(t *testing.T) {
	testlog.Start(t)
	var v any = note{Body: "ok"}
	got, err := Recover[note](v)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if got.Body != "ok" {
		t.Fatalf("unexpected body: %q", got.Body)
	}
}

func TestRecoverMismatchIsExplicit(t *testing.T) {
	testlog.Start(t)
	var v any = &note{Body: "pointer"}
	_, err := Recover[note](v)
	if !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
	if !strings.Contains(err.Error(), "*protocol.note") {
		t.Fatalf("error should name the offending type: %v", err)
	}
}

func TestMustRecoverPanicsOnMismatch(t *testing.T) {
	testlog.Start(t)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	_ = MustRecover[string](42)
}

func TestCheckDatagramCeiling(t *testing.T) {
	testlog.Start(t)
	if err := CheckDatagram(bytes.Repeat([]byte{1}, MaxDatagramBytes)); err != nil {
		t.Fatalf("datagram at ceiling must pass: %v", err)
	}
	err := CheckDatagram(bytes.Repeat([]byte{1}, MaxDatagramBytes+1))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if MaxDatagramBytes != 508 {
		t.Fatalf("unexpected ceiling: %d", MaxDatagramBytes)
	}
}
