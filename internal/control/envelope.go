package control

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/beaconctl/internal/catalog"
	"github.com/danmuck/beaconctl/internal/protocol"
)

var (
	ErrInvalidRequest = errors.New("control: invalid request")
	ErrBothPopulated  = errors.New("control: envelope carries both request and response")
)

// Request kinds as they appear on the wire.
const (
	KindQueue   = "QUEUE"
	KindDequeue = "DEQUEUE"
	KindLock    = "LOCK"
	KindList    = "LIST"
	KindQuit    = "QUIT"
)

type Queue struct {
	Command string   `json:"command"`
	Targets []string `json:"targets"`
}

type Dequeue struct {
	Command string   `json:"command"`
	Targets []string `json:"targets"`
}

type Lock struct {
	Targets []string `json:"targets"`
}

type List struct {
	Targets []string `json:"targets"`
}

type Quit struct {
	Destroy bool `json:"destroy"`
}

// Request is a tagged variant: exactly one member is set.
type Request struct {
	Queue   *Queue   `json:"QUEUE,omitempty"`
	Dequeue *Dequeue `json:"DEQUEUE,omitempty"`
	Lock    *Lock    `json:"LOCK,omitempty"`
	List    *List    `json:"LIST,omitempty"`
	Quit    *Quit    `json:"QUIT,omitempty"`
}

func QueueRequest(command string, targets ...string) Request {
	return Request{Queue: &Queue{Command: command, Targets: targets}}
}

func DequeueRequest(command string, targets ...string) Request {
	return Request{Dequeue: &Dequeue{Command: command, Targets: targets}}
}

func LockRequest(targets ...string) Request {
	return Request{Lock: &Lock{Targets: targets}}
}

func ListRequest(targets ...string) Request {
	return Request{List: &List{Targets: targets}}
}

func QuitRequest(destroy bool) Request {
	return Request{Quit: &Quit{Destroy: destroy}}
}

// Kind names the populated variant, or "" when none or several are set.
func (r Request) Kind() string {
	kinds := r.kinds()
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

func (r Request) kinds() []string {
	kinds := make([]string, 0, 1)
	if r.Queue != nil {
		kinds = append(kinds, KindQueue)
	}
	if r.Dequeue != nil {
		kinds = append(kinds, KindDequeue)
	}
	if r.Lock != nil {
		kinds = append(kinds, KindLock)
	}
	if r.List != nil {
		kinds = append(kinds, KindList)
	}
	if r.Quit != nil {
		kinds = append(kinds, KindQuit)
	}
	return kinds
}

func (r Request) Validate() error {
	kinds := r.kinds()
	switch len(kinds) {
	case 0:
		return fmt.Errorf("%w: no request variant", ErrInvalidRequest)
	case 1:
	default:
		return fmt.Errorf("%w: multiple variants %s", ErrInvalidRequest, strings.Join(kinds, ","))
	}
	switch {
	case r.Queue != nil:
		return validateCommand(KindQueue, r.Queue.Command, r.Queue.Targets)
	case r.Dequeue != nil:
		return validateCommand(KindDequeue, r.Dequeue.Command, r.Dequeue.Targets)
	case r.Lock != nil:
		return validateTargets(KindLock, r.Lock.Targets)
	case r.List != nil:
		return validateTargets(KindList, r.List.Targets)
	}
	return nil
}

func validateCommand(kind, command string, targets []string) error {
	if strings.TrimSpace(command) == "" {
		return fmt.Errorf("%w: %s command required", ErrInvalidRequest, kind)
	}
	return validateTargets(kind, targets)
}

func validateTargets(kind string, targets []string) error {
	if len(targets) == 0 {
		return fmt.Errorf("%w: %s targets required", ErrInvalidRequest, kind)
	}
	for i, t := range targets {
		if catalog.NormalizeCode(t) == "" {
			return fmt.Errorf("%w: %s targets[%d] empty", ErrInvalidRequest, kind, i)
		}
	}
	return nil
}

// Response is the pool handler result.
type Response struct {
	Confirmation string           `json:"confirmation"`
	Commands     []string         `json:"commands"`
	Targets      []catalog.Target `json:"targets"`
}

// Envelope is the control-plane system message. Inbound it carries a Request,
// outbound a Response or an Error.
type Envelope struct {
	Origin   string    `json:"origin"`
	Request  *Request  `json:"request,omitempty"`
	Response *Response `json:"response,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Generate wraps req into an envelope addressed from this process.
func Generate(req Request) Envelope {
	return Envelope{Origin: DefaultOrigin(), Request: &req}
}

// Reply builds an outbound envelope carrying resp.
func Reply(origin string, resp Response) Envelope {
	return Envelope{Origin: origin, Response: &resp}
}

// Reject builds an outbound envelope carrying err.
func Reject(origin string, err error) Envelope {
	return Envelope{Origin: origin, Error: err.Error()}
}

// Refuse replaces e with a rejection from origin.
func (e *Envelope) Refuse(origin string, err error) {
	*e = Reject(origin, err)
}

// DefaultOrigin is "<binary>@<host>:<pid>".
func DefaultOrigin() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	bin := "beacon"
	if len(os.Args) > 0 {
		parts := strings.Split(os.Args[0], string(os.PathSeparator))
		bin = parts[len(parts)-1]
	}
	return fmt.Sprintf("%s@%s:%d", bin, host, os.Getpid())
}

// RequestKind names the carried request variant, or "" for replies.
func (e Envelope) RequestKind() string {
	if e.Request == nil {
		return ""
	}
	return e.Request.Kind()
}

func (e Envelope) Validate() error {
	if e.Request != nil && e.Response != nil {
		return ErrBothPopulated
	}
	if e.Request != nil {
		return e.Request.Validate()
	}
	return nil
}

func (e *Envelope) Serialize() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrEncoding, err)
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrEncoding, err)
	}
	return b, nil
}

func (e *Envelope) Deserialize(b []byte) error {
	var out Envelope
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&out); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrDecoding, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after envelope", protocol.ErrDecoding)
	}
	if out.Request != nil && out.Response != nil {
		return fmt.Errorf("%w: %v", protocol.ErrDecoding, ErrBothPopulated)
	}
	*e = out
	return nil
}
