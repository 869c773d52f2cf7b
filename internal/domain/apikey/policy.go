package apikey

import (
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// Decision is the outcome of Policy.Authorize.
type Decision int

const (
	// Allow means the key may perform the requested operation.
	Allow Decision = iota
	DenyExpired
	DenyRevoked
	DenyInsufficientLevel
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case DenyExpired:
		return "deny_expired"
	case DenyRevoked:
		return "deny_revoked"
	case DenyInsufficientLevel:
		return "deny_insufficient_level"
	default:
		return "unknown"
	}
}

// Grant states that a key holding From may act at level To.
type Grant struct {
	From AccessLevel
	To   AccessLevel
}

// Policy evaluates whether a record authorizes a requested access level.
// The granting relation is a partial order over a closed set of known levels:
// reflexive, transitive, and free of cycles between distinct levels.
type Policy struct {
	grants map[AccessLevel]map[AccessLevel]struct{}
}

// DefaultPolicy knows COMPLETION and ADMIN, with ADMIN granting COMPLETION.
func DefaultPolicy() *Policy {
	p, err := NewPolicy(
		[]AccessLevel{LevelCompletion, LevelAdmin},
		[]Grant{{From: LevelAdmin, To: LevelCompletion}},
	)
	if err != nil {
		panic(err)
	}
	return p
}

// NewPolicy builds a Policy from the known levels and direct grants.
func NewPolicy(levels []AccessLevel, grants []Grant) (*Policy, error) {
	if len(levels) == 0 {
		return nil, errors.New("at least one access level is required")
	}

	g := make(map[AccessLevel]map[AccessLevel]struct{}, len(levels))
	for _, l := range levels {
		if l == "" {
			return nil, errors.New("empty access level")
		}
		g[l] = map[AccessLevel]struct{}{l: {}}
	}

	for _, e := range grants {
		if _, ok := g[e.From]; !ok {
			return nil, errors.Errorf("grant %s>%s: unknown level %q", e.From, e.To, e.From)
		}
		if _, ok := g[e.To]; !ok {
			return nil, errors.Errorf("grant %s>%s: unknown level %q", e.From, e.To, e.To)
		}
		g[e.From][e.To] = struct{}{}
	}

	// Transitive closure; the level sets are small.
	for changed := true; changed; {
		changed = false
		for from, tos := range g {
			for to := range tos {
				for next := range g[to] {
					if _, ok := g[from][next]; !ok {
						g[from][next] = struct{}{}
						changed = true
					}
				}
			}
		}
	}

	for from, tos := range g {
		for to := range tos {
			if to == from {
				continue
			}
			if _, ok := g[to][from]; ok {
				return nil, errors.Errorf("grant cycle between %s and %s", from, to)
			}
		}
	}

	return &Policy{grants: g}, nil
}

// ParsePolicy builds a Policy from configuration strings. Each grant has the
// form "FROM>TO".
func ParsePolicy(levels, grants []string) (*Policy, error) {
	ls := make([]AccessLevel, 0, len(levels))
	for _, l := range levels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		ls = append(ls, AccessLevel(l))
	}

	gs := make([]Grant, 0, len(grants))
	for _, raw := range grants {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		from, to, ok := strings.Cut(raw, ">")
		if !ok {
			return nil, errors.Errorf("invalid grant %q: want FROM>TO", raw)
		}
		gs = append(gs, Grant{
			From: AccessLevel(strings.TrimSpace(from)),
			To:   AccessLevel(strings.TrimSpace(to)),
		})
	}

	return NewPolicy(ls, gs)
}

// Known reports whether l is one of the configured levels.
func (p *Policy) Known(l AccessLevel) bool {
	_, ok := p.grants[l]
	return ok
}

// Levels returns the configured levels in lexical order.
func (p *Policy) Levels() []AccessLevel {
	out := make([]AccessLevel, 0, len(p.grants))
	for l := range p.grants {
		out = append(out, l)
	}
	slices.Sort(out)
	return out
}

// Grants reports whether a key holding have may act at want. Unknown levels
// never grant and are never granted.
func (p *Policy) Grants(have, want AccessLevel) bool {
	tos, ok := p.grants[have]
	if !ok {
		return false
	}
	_, ok = tos[want]
	return ok
}

// Authorize decides whether r may act at requested at time now. The first
// matching rule wins: revoked, expired, insufficient level, allow. A status
// other than ACTIVE is treated as revoked.
func (p *Policy) Authorize(r *Record, requested AccessLevel, now time.Time) Decision {
	switch {
	case r.Status != StatusActive:
		return DenyRevoked
	case r.Expired(now):
		return DenyExpired
	case !p.Grants(r.AccessLevel, requested):
		return DenyInsufficientLevel
	default:
		return Allow
	}
}
