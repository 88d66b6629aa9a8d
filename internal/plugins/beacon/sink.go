package beacon

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Delivery is a command the agent received. It is recorded, never executed.
type Delivery struct {
	ID         string    `json:"id"`
	Target     string    `json:"target"`
	Server     string    `json:"server"`
	Index      uint32    `json:"index"`
	Command    string    `json:"command"`
	ReceivedAt time.Time `json:"received_at"`
}

type Sink interface {
	Deliver(d Delivery) error
}

// SeenChecker is implemented by sinks that remember deliveries across restarts.
type SeenChecker interface {
	Seen(id string) (bool, error)
}

type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) Deliver(d Delivery) error {
	s.Logger.Info().
		Str("id", d.ID).
		Str("target", d.Target).
		Str("server", d.Server).
		Uint32("index", d.Index).
		Str("command", d.Command).
		Msg("beacon.LogSink.Deliver")
	return nil
}

// MultiSink delivers to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Deliver(d Delivery) error {
	var errs []error
	for _, s := range m {
		if err := s.Deliver(d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Seen(id string) (bool, error) {
	for _, s := range m {
		sc, ok := s.(SeenChecker)
		if !ok {
			continue
		}
		seen, err := sc.Seen(id)
		if err != nil || seen {
			return seen, err
		}
	}
	return false, nil
}

// seenSet is a bounded FIFO of delivered command IDs.
type seenSet struct {
	limit int
	order []string
	ids   map[string]struct{}
}

func newSeenSet(limit int) *seenSet {
	return &seenSet{limit: limit, ids: make(map[string]struct{}, limit)}
}

func (s *seenSet) has(id string) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *seenSet) add(id string) {
	if s.has(id) {
		return
	}
	if len(s.order) >= s.limit {
		delete(s.ids, s.order[0])
		s.order = s.order[1:]
	}
	s.order = append(s.order, id)
	s.ids[id] = struct{}{}
}
