package pool

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownPolicy = errors.New("pool: unknown dequeue policy")

// DequeuePolicy selects which queued commands a DEQUEUE request touches.
type DequeuePolicy string

const (
	// MatchCommand removes every command with equal text, whatever its targets.
	MatchCommand DequeuePolicy = "command"
	// MatchTargets retracts the named targets from every command.
	MatchTargets DequeuePolicy = "targets"
	// MatchBoth retracts the named targets from commands with equal text.
	MatchBoth DequeuePolicy = "both"
)

const DefaultDequeuePolicy = MatchBoth

func ParseDequeuePolicy(raw string) (DequeuePolicy, error) {
	switch DequeuePolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "":
		return DefaultDequeuePolicy, nil
	case MatchCommand:
		return MatchCommand, nil
	case MatchTargets:
		return MatchTargets, nil
	case MatchBoth:
		return MatchBoth, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, raw)
	}
}

func (p DequeuePolicy) matchesText() bool {
	return p == MatchCommand || p == MatchBoth
}

func (p DequeuePolicy) retractsTargets() bool {
	return p == MatchTargets || p == MatchBoth
}
