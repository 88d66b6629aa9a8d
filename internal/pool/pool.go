// Package pool holds the queued commands and the shutdown flag shared by both server planes.
//
// Handle is the only mutating entry point. Everything else is a read path.
package pool

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/danmuck/beaconctl/internal/catalog"
	"github.com/danmuck/beaconctl/internal/control"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	ConfirmDestroy = "shutdown requested: destructive teardown"
	ConfirmQuiet   = "shutdown requested: quiet close"
)

// Command is one queued instruction and the targets it is still addressed to.
type Command struct {
	ID      string   `json:"id"`
	Targets []string `json:"targets"`
	Command string   `json:"command"`
}

func (c Command) HasTarget(code string) bool {
	return slices.Contains(c.Targets, code)
}

func (c Command) clone() Command {
	c.Targets = slices.Clone(c.Targets)
	return c
}

// Pool is safe for concurrent use.
type Pool struct {
	mu       sync.RWMutex
	catalog  *catalog.Catalog
	policy   DequeuePolicy
	commands []Command
	shutdown bool
	destroy  bool
	newID    func() string
}

func New(cat *catalog.Catalog, policy DequeuePolicy) *Pool {
	if cat == nil {
		cat = catalog.Default()
	}
	if policy == "" {
		policy = DefaultDequeuePolicy
	}
	return &Pool{
		catalog:  cat,
		policy:   policy,
		commands: make([]Command, 0),
		newID:    func() string { return uuid.NewString() },
	}
}

func (p *Pool) Policy() DequeuePolicy {
	return p.policy
}

// Handle applies one control request under the exclusive lock.
func (p *Pool) Handle(req control.Request) (control.Response, error) {
	if err := req.Validate(); err != nil {
		return control.Response{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var resp control.Response
	switch {
	case req.Queue != nil:
		resp = p.queue(req.Queue.Command, req.Queue.Targets)
	case req.Dequeue != nil:
		resp = p.dequeue(req.Dequeue.Command, req.Dequeue.Targets)
	case req.Lock != nil:
		resp = p.lock(req.Lock.Targets)
	case req.List != nil:
		resp = p.list(req.List.Targets)
	case req.Quit != nil:
		resp = p.quit(req.Quit.Destroy)
	}
	log.Debug().
		Str("kind", req.Kind()).
		Int("commands", len(p.commands)).
		Bool("shutdown", p.shutdown).
		Msg("pool.Pool.Handle")
	return resp, nil
}

func (p *Pool) queue(command string, targets []string) control.Response {
	codes := normalizeCodes(targets)
	cmd := Command{ID: p.newID(), Targets: codes, Command: command}
	p.commands = append(p.commands, cmd)
	return control.Response{
		Confirmation: fmt.Sprintf("queued %q for %s", command, strings.Join(codes, ",")),
		Commands:     []string{command},
		Targets:      p.describe(codes),
	}
}

func (p *Pool) dequeue(command string, targets []string) control.Response {
	codes := normalizeCodes(targets)
	kept := make([]Command, 0, len(p.commands))
	affected := make([]string, 0)
	removed := 0
	for _, cmd := range p.commands {
		if p.policy.matchesText() && cmd.Command != command {
			kept = append(kept, cmd)
			continue
		}
		if !p.policy.retractsTargets() {
			affected = append(affected, cmd.Command)
			removed++
			continue
		}
		remaining := slices.DeleteFunc(slices.Clone(cmd.Targets), func(code string) bool {
			return slices.Contains(codes, code)
		})
		if len(remaining) == len(cmd.Targets) {
			kept = append(kept, cmd)
			continue
		}
		affected = append(affected, cmd.Command)
		if len(remaining) == 0 {
			removed++
			continue
		}
		cmd.Targets = remaining
		kept = append(kept, cmd)
	}
	p.commands = kept
	return control.Response{
		Confirmation: fmt.Sprintf(
			"dequeued %d command(s), retracted from %d (policy=%s)",
			removed,
			len(affected)-removed,
			p.policy,
		),
		Commands: affected,
		Targets:  p.describe(codes),
	}
}

func (p *Pool) lock(targets []string) control.Response {
	codes := normalizeCodes(targets)
	updated := make([]catalog.Target, 0, len(codes))
	unknown := make([]string, 0)
	for _, code := range codes {
		t, ok := p.catalog.ToggleLock(code)
		if !ok {
			unknown = append(unknown, code)
			continue
		}
		updated = append(updated, t)
	}
	confirmation := fmt.Sprintf("toggled lock on %d target(s)", len(updated))
	if len(unknown) > 0 {
		confirmation += fmt.Sprintf("; unknown: %s", strings.Join(unknown, ","))
	}
	return control.Response{Confirmation: confirmation, Commands: []string{}, Targets: updated}
}

// list walks targets in input order and concatenates matches without de-duplication.
func (p *Pool) list(targets []string) control.Response {
	commands := make([]string, 0)
	codes := make([]string, 0, len(targets))
	for _, raw := range targets {
		code := catalog.NormalizeCode(raw)
		codes = append(codes, code)
		for _, cmd := range p.commands {
			if cmd.HasTarget(code) {
				commands = append(commands, cmd.Command)
			}
		}
	}
	return control.Response{
		Confirmation: fmt.Sprintf("%d command(s) across %d target(s)", len(commands), len(codes)),
		Commands:     commands,
		Targets:      p.describe(codes),
	}
}

func (p *Pool) quit(destroy bool) control.Response {
	p.shutdown = true
	p.destroy = p.destroy || destroy
	confirmation := ConfirmQuiet
	if destroy {
		confirmation = ConfirmDestroy
	}
	return control.Response{Confirmation: confirmation, Commands: []string{}, Targets: []catalog.Target{}}
}

// describe returns catalog descriptors for the known codes, skipping unknown ones.
func (p *Pool) describe(codes []string) []catalog.Target {
	out := make([]catalog.Target, 0, len(codes))
	for _, code := range codes {
		if t, ok := p.catalog.Lookup(code); ok {
			out = append(out, t)
		}
	}
	return out
}

// Deliverable returns the commands an agent for code may receive, in queue order.
// A locked target receives nothing; wildcard commands follow the wildcard's own lock.
func (p *Pool) Deliverable(code string) []Command {
	code = catalog.NormalizeCode(code)
	p.mu.RLock()
	defer p.mu.RUnlock()
	if code == "" || p.catalog.IsLocked(code) {
		return nil
	}
	wildcardOpen := !p.catalog.IsLocked(catalog.Wildcard)
	out := make([]Command, 0)
	for _, cmd := range p.commands {
		if cmd.HasTarget(code) || (wildcardOpen && cmd.HasTarget(catalog.Wildcard)) {
			out = append(out, cmd.clone())
		}
	}
	return out
}

// ShutdownRequested never returns to false once a QUIT has been handled.
func (p *Pool) ShutdownRequested() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.shutdown
}

// DestroyRequested reports whether any QUIT asked for destructive teardown.
func (p *Pool) DestroyRequested() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.destroy
}

// Snapshot copies the queue in insertion order.
func (p *Pool) Snapshot() []Command {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Command, 0, len(p.commands))
	for _, cmd := range p.commands {
		out = append(out, cmd.clone())
	}
	return out
}

func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.commands)
}

func (p *Pool) Targets() []catalog.Target {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.catalog.Targets()
}

// normalizeCodes upper-cases, trims and de-duplicates while keeping first-seen order.
func normalizeCodes(in []string) []string {
	out := make([]string, 0, len(in))
	for _, raw := range in {
		code := catalog.NormalizeCode(raw)
		if code == "" || slices.Contains(out, code) {
			continue
		}
		out = append(out, code)
	}
	return out
}
