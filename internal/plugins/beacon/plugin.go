// Package beacon is the reference binding: agents check in with a heartbeat, learn how many
// commands are pending for their target, and fetch them one datagram at a time. Each FETCH
// names the last command the agent processed, so a conversation cut short by the chain cap
// resumes where it stopped on the next heartbeat.
//
// Command text travels sealed under a key both sides derive from the public keys carried in
// the frame auth section. The agent hands received commands to a Sink and never runs them.
package beacon

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/beaconctl/internal/catalog"
	"github.com/danmuck/beaconctl/internal/control"
	"github.com/danmuck/beaconctl/internal/plugins"
	"github.com/danmuck/beaconctl/internal/pool"
	"github.com/danmuck/beaconctl/internal/protocol"
	"github.com/danmuck/beaconctl/internal/protocol/schema"
	"github.com/danmuck/beaconctl/internal/seal"
	"github.com/rs/zerolog/log"
)

const (
	Name = "beacon"

	DefaultServerName = "beacond"
	DefaultSeenLimit  = 1024

	ReasonDestination = "destination mismatch"
	ReasonUnexpected  = "unexpected message kind"
	ReasonPeerKey     = "invalid peer key"
	ReasonTooLarge    = "sealed command exceeds datagram ceiling"
)

var (
	ErrNoPool         = errors.New("beacon: server role requires a pool")
	ErrNoTarget       = errors.New("beacon: agent role requires a target")
	ErrOutOfSequence  = errors.New("beacon: reply sequence does not match request")
	ErrUnexpectedKind = errors.New("beacon: unexpected message kind")
	ErrNoSession      = errors.New("beacon: command before ready")
	ErrRemote         = errors.New("beacon: server error")
)

type Options struct {
	// ServerName is the server's own name, and the destination agents address.
	ServerName string
	Keys       seal.KeyPair

	// Agent role.
	Target    string
	Sink      Sink
	SeenLimit int

	// Server role.
	Pool *pool.Pool

	Now func() time.Time
}

// Plugin carries both roles. A process uses one of them.
type Plugin struct {
	name string
	keys seal.KeyPair
	now  func() time.Time

	pool *pool.Pool

	mu      sync.Mutex
	target  string
	sink    Sink
	seen    *seenSet
	seq     uint64
	session []byte
	// cursor is the last command ID processed, kept across conversations.
	cursor string
}

var _ plugins.Plugin[Message, control.Envelope] = (*Plugin)(nil)

// New fills defaults and generates a key pair when none is supplied.
func New(opts Options) (*Plugin, error) {
	if opts.Keys == (seal.KeyPair{}) {
		kp, err := seal.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		opts.Keys = kp
	}
	if opts.ServerName == "" {
		opts.ServerName = DefaultServerName
	}
	if opts.SeenLimit <= 0 {
		opts.SeenLimit = DefaultSeenLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sink == nil {
		opts.Sink = LogSink{Logger: log.Logger}
	}
	return &Plugin{
		name:   opts.ServerName,
		keys:   opts.Keys,
		now:    opts.Now,
		pool:   opts.Pool,
		target: catalog.NormalizeCode(opts.Target),
		sink:   opts.Sink,
		seen:   newSeenSet(opts.SeenLimit),
	}, nil
}

// Register adds p to r under Name.
func Register(r *plugins.Registry, p *Plugin) error {
	return r.Register(Name, p)
}

func (p *Plugin) GenerateHeartbeat() (Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.target == "" {
		return Message{}, ErrNoTarget
	}
	p.session = nil
	return p.outgoing(Message{Kind: schema.KindHeartbeat}), nil
}

// outgoing stamps addressing and the next sequence number. Callers hold mu.
func (p *Plugin) outgoing(m Message) Message {
	p.seq++
	m.Sequence = p.seq
	m.Source = p.target
	m.Destination = p.name
	m.Tag = p.keys.Public[:]
	return m
}

func (p *Plugin) AgentRuntime(in Message) (Message, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if in.Sequence != p.seq {
		return Message{}, false, fmt.Errorf("%w: got %d want %d", ErrOutOfSequence, in.Sequence, p.seq)
	}

	switch in.Kind {
	case schema.KindReady:
		key, err := p.keys.SharedKey(in.Tag)
		if err != nil {
			return Message{}, false, err
		}
		p.session = key
		if in.Pending == 0 {
			log.Debug().Str("target", p.target).Msg("beacon.Plugin.AgentRuntime nothing pending")
			return Message{}, false, nil
		}
		return p.outgoing(Message{Kind: schema.KindFetch, Index: 0, CommandID: p.cursor}), true, nil

	case schema.KindCommand:
		if p.session == nil {
			return Message{}, false, ErrNoSession
		}
		text, err := seal.Open(p.session, in.Payload, []byte(in.CommandID))
		if err != nil {
			return Message{}, false, fmt.Errorf("beacon: command %s: %w", in.CommandID, err)
		}
		if err := p.deliver(in, string(text)); err != nil {
			return Message{}, false, err
		}
		p.cursor = in.CommandID
		return p.outgoing(Message{Kind: schema.KindFetch, Index: in.Index + 1, CommandID: in.CommandID}), true, nil

	case schema.KindSkip:
		log.Warn().
			Str("target", p.target).
			Str("id", in.CommandID).
			Str("reason", in.Reason).
			Msg("beacon.Plugin.AgentRuntime skipped")
		p.cursor = in.CommandID
		return p.outgoing(Message{Kind: schema.KindFetch, Index: in.Index + 1, CommandID: in.CommandID}), true, nil

	case schema.KindDone:
		return Message{}, false, nil

	case schema.KindError:
		return Message{}, false, fmt.Errorf("%w: %s", ErrRemote, in.Reason)

	default:
		return Message{}, false, fmt.Errorf("%w: %s", ErrUnexpectedKind, schema.KindName(in.Kind))
	}
}

// deliver hands a command to the sink at most once per ID. Callers hold mu.
func (p *Plugin) deliver(in Message, text string) error {
	if p.seen.has(in.CommandID) {
		return nil
	}
	if sc, ok := p.sink.(SeenChecker); ok {
		seen, err := sc.Seen(in.CommandID)
		if err != nil {
			return err
		}
		if seen {
			p.seen.add(in.CommandID)
			return nil
		}
	}
	err := p.sink.Deliver(Delivery{
		ID:         in.CommandID,
		Target:     p.target,
		Server:     in.Source,
		Index:      in.Index,
		Command:    text,
		ReceivedAt: p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("beacon: deliver %s: %w", in.CommandID, err)
	}
	p.seen.add(in.CommandID)
	return nil
}

// ServerRuntime answers one datagram from a read-only view of the pool.
// Protocol violations are answered in-band with an error kind.
func (p *Plugin) ServerRuntime(in Message) (Message, error) {
	if p.pool == nil {
		return Message{}, ErrNoPool
	}
	reply := Message{
		Sequence:    in.Sequence,
		Tag:         p.keys.Public[:],
		Source:      p.name,
		Destination: in.Source,
	}
	if in.Destination != p.name {
		return failure(reply, ReasonDestination), nil
	}

	switch in.Kind {
	case schema.KindHeartbeat:
		reply.Kind = schema.KindReady
		reply.Pending = uint32(len(p.pool.Deliverable(in.Source)))
		return reply, nil

	case schema.KindFetch:
		return p.fetch(reply, in), nil

	default:
		return failure(reply, ReasonUnexpected), nil
	}
}

// fetch answers with the command after the agent's cursor. A cursor no longer in the pool
// restarts from the front; the agent's seen-set absorbs the repeats.
func (p *Plugin) fetch(reply, in Message) Message {
	cmds := p.pool.Deliverable(in.Source)
	next := resumeIndex(cmds, in.CommandID)
	if next >= len(cmds) {
		reply.Kind = schema.KindDone
		return reply
	}
	cmd := cmds[next]
	key, err := p.keys.SharedKey(in.Tag)
	if err != nil {
		return failure(reply, ReasonPeerKey)
	}
	sealed, err := seal.Seal(key, []byte(cmd.Command), []byte(cmd.ID))
	if err != nil {
		return failure(reply, err.Error())
	}

	reply.Kind = schema.KindCommand
	reply.Index = uint32(next)
	reply.CommandID = cmd.ID
	reply.Payload = sealed
	if _, err := reply.Serialize(); errors.Is(err, protocol.ErrPayloadTooLarge) {
		log.Warn().
			Str("target", in.Source).
			Str("id", cmd.ID).
			Int("command_bytes", len(cmd.Command)).
			Msg("beacon.Plugin.fetch oversized")
		reply.Kind = schema.KindSkip
		reply.Payload = nil
		reply.Reason = ReasonTooLarge
	}
	return reply
}

func resumeIndex(cmds []pool.Command, after string) int {
	if after == "" {
		return 0
	}
	for i, cmd := range cmds {
		if cmd.ID == after {
			return i + 1
		}
	}
	return 0
}

func failure(reply Message, reason string) Message {
	reply.Kind = schema.KindError
	reply.Reason = reason
	return reply
}

// PoolHandler applies one control request. Request errors are reported in the envelope.
func (p *Plugin) PoolHandler(in control.Envelope) (control.Envelope, error) {
	if p.pool == nil {
		return control.Envelope{}, ErrNoPool
	}
	if in.Request == nil {
		return control.Reject(p.name, fmt.Errorf("%w: no request", control.ErrInvalidRequest)), nil
	}
	resp, err := p.pool.Handle(*in.Request)
	if err != nil {
		log.Debug().Err(err).Str("origin", in.Origin).Msg("beacon.Plugin.PoolHandler rejected")
		return control.Reject(p.name, err), nil
	}
	return control.Reply(p.name, resp), nil
}

func (p *Plugin) ShutdownCheck() (bool, error) {
	if p.pool == nil {
		return false, ErrNoPool
	}
	return p.pool.ShutdownRequested(), nil
}

// Pool exposes the bound pool for read-only surfaces.
func (p *Plugin) Pool() *pool.Pool {
	return p.pool
}
