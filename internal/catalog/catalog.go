// Package catalog holds the target descriptors commands are addressed to.
package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// Wildcard addresses every target on the delivery path.
const Wildcard = "ALL"

var (
	ErrDuplicateCode = errors.New("catalog: duplicate target code")
	ErrEmptyCode     = errors.New("catalog: empty target code")
)

// Target is one addressable endpoint.
type Target struct {
	Code     string `json:"code" toml:"code" yaml:"code"`
	Location string `json:"location" toml:"location" yaml:"location"`
	Number   uint32 `json:"target_number" toml:"target_number" yaml:"target_number"`
	Name     string `json:"target_name" toml:"target_name" yaml:"target_name"`
	Locked   bool   `json:"locked" toml:"locked" yaml:"locked"`
}

// Catalog is an ordered set of targets keyed by code. It is not safe for concurrent use;
// the pool serializes access.
type Catalog struct {
	order []string
	byKey map[string]*Target
}

// New builds a catalog preserving the input order.
func New(targets []Target) (*Catalog, error) {
	c := &Catalog{
		order: make([]string, 0, len(targets)),
		byKey: make(map[string]*Target, len(targets)),
	}
	for _, t := range targets {
		code := NormalizeCode(t.Code)
		if code == "" {
			return nil, ErrEmptyCode
		}
		if _, ok := c.byKey[code]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCode, code)
		}
		t.Code = code
		entry := t
		c.byKey[code] = &entry
		c.order = append(c.order, code)
	}
	return c, nil
}

// NormalizeCode trims and upper-cases a target code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Lookup returns a copy of the target for code.
func (c *Catalog) Lookup(code string) (Target, bool) {
	t, ok := c.byKey[NormalizeCode(code)]
	if !ok {
		return Target{}, false
	}
	return *t, true
}

// ToggleLock flips the locked flag and returns the updated descriptor.
func (c *Catalog) ToggleLock(code string) (Target, bool) {
	t, ok := c.byKey[NormalizeCode(code)]
	if !ok {
		return Target{}, false
	}
	t.Locked = !t.Locked
	return *t, true
}

// IsLocked reports false for unknown codes.
func (c *Catalog) IsLocked(code string) bool {
	t, ok := c.byKey[NormalizeCode(code)]
	return ok && t.Locked
}

// Targets returns copies in catalog order.
func (c *Catalog) Targets() []Target {
	out := make([]Target, 0, len(c.order))
	for _, code := range c.order {
		out = append(out, *c.byKey[code])
	}
	return out
}

func (c *Catalog) Len() int {
	return len(c.order)
}
