package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/danmuck/beaconctl/internal/protocol"
	"github.com/rs/zerolog/log"
)

var ErrRejected = errors.New("control: request rejected")

// Client performs one exchange per connection against a server control socket.
type Client struct {
	socket  string
	timeout time.Duration
	origin  string
}

// NewClient constructs a client bound to one unix socket path.
func NewClient(socket string) *Client {
	return &Client{
		socket:  strings.TrimSpace(socket),
		timeout: 5 * time.Second,
		origin:  DefaultOrigin(),
	}
}

// WithTimeout returns a copy using d for dial, write and read deadlines.
func (c *Client) WithTimeout(d time.Duration) *Client {
	out := *c
	if d > 0 {
		out.timeout = d
	}
	return &out
}

// Exchange sends req and waits for the server to answer and close.
func (c *Client) Exchange(ctx context.Context, req Request) (Response, error) {
	if c.socket == "" {
		return Response{}, fmt.Errorf("%w: control socket path required", protocol.ErrTransport)
	}
	env := Generate(req)
	env.Origin = c.origin
	payload, err := env.Serialize()
	if err != nil {
		return Response{}, err
	}

	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socket)
	if err != nil {
		return Response{}, fmt.Errorf("%w: dial %s: %v", protocol.ErrTransport, c.socket, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	if err := WriteMessage(conn, payload); err != nil {
		return Response{}, fmt.Errorf("%w: write: %v", protocol.ErrTransport, err)
	}
	raw, err := ReadMessage(conn)
	if err != nil {
		return Response{}, fmt.Errorf("%w: read: %v", protocol.ErrTransport, err)
	}
	if len(raw) == 0 {
		return Response{}, fmt.Errorf("%w: server closed without a response", protocol.ErrTransport)
	}

	var out Envelope
	if err := out.Deserialize(raw); err != nil {
		return Response{}, err
	}
	log.Debug().
		Str("kind", req.Kind()).
		Str("server", out.Origin).
		Bool("rejected", out.Error != "").
		Msg("control.Client.Exchange")
	if out.Error != "" {
		return Response{}, fmt.Errorf("%w: %s", ErrRejected, out.Error)
	}
	if out.Response == nil {
		return Response{}, fmt.Errorf("%w: envelope has no response", protocol.ErrDecoding)
	}
	return *out.Response, nil
}

func (c *Client) Queue(ctx context.Context, command string, targets ...string) (Response, error) {
	return c.Exchange(ctx, QueueRequest(command, targets...))
}

func (c *Client) Dequeue(ctx context.Context, command string, targets ...string) (Response, error) {
	return c.Exchange(ctx, DequeueRequest(command, targets...))
}

func (c *Client) Lock(ctx context.Context, targets ...string) (Response, error) {
	return c.Exchange(ctx, LockRequest(targets...))
}

func (c *Client) List(ctx context.Context, targets ...string) (Response, error) {
	return c.Exchange(ctx, ListRequest(targets...))
}

func (c *Client) Quit(ctx context.Context, destroy bool) (Response, error) {
	return c.Exchange(ctx, QuitRequest(destroy))
}
