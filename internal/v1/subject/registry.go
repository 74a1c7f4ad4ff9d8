// Package subject implements the Subject Registry (C1): a fixed catalog of
// broker subject patterns, a builder that turns (kind, params) into a
// concrete subject string, and a validator checked against that catalog.
//
// There is no third-party pub/sub-subject library in the example pack (no
// NATS/AMQP topic-matcher dependency appears in any example go.mod); this
// package is therefore pure standard library by necessity, per DESIGN.md.
// The dot-hierarchical, `*`/`>` wildcard grammar mirrors the convention the
// broker client (internal/v1/broker) already speaks to Redis via glob
// translation.
package subject

import (
	"strings"

	"github.com/mythosmud/realtimecore/internal/v1/domain"
)

// Kind identifies a registered subject pattern.
type Kind string

const (
	KindChatRoom    Kind = "chat.say"
	KindChatLocal   Kind = "chat.local"
	KindChatGlobal  Kind = "chat.global"
	KindChatWhisper Kind = "chat.whisper.player"
	KindChatSystem  Kind = "chat.system"
	KindCombat      Kind = "combat"
	KindRoomEvents  Kind = "events.room"
)

// pattern describes one catalog entry: a template with {param} placeholders
// in registration order, joined by dots.
type pattern struct {
	segments []segment
}

type segment struct {
	literal string // non-empty when this segment is a fixed literal
	param   bool   // true when this segment is a {placeholder}
}

// Registry holds the fixed catalog, built once at startup. All operations
// are read-only after construction and require no locking.
type Registry struct {
	patterns map[Kind]pattern
	strict   bool
}

// NewRegistry builds the Registry with the bit-exact catalog from the
// broker subject pattern table. strict controls whether Validate rejects
// unregistered subjects or only flags them for the caller to log.
func NewRegistry(strict bool) *Registry {
	r := &Registry{patterns: make(map[Kind]pattern), strict: strict}
	r.register(KindChatRoom, "chat", "say", "{room_id}")
	r.register(KindChatLocal, "chat", "local", "{subzone_id}")
	r.register(KindChatGlobal, "chat", "global")
	r.register(KindChatWhisper, "chat", "whisper", "player", "{player_id}")
	r.register(KindChatSystem, "chat", "system")
	r.register(KindCombat, "combat", "{room_id}")
	r.register(KindRoomEvents, "events", "room", "{room_id}")
	return r
}

func (r *Registry) register(kind Kind, tokens ...string) {
	p := pattern{segments: make([]segment, 0, len(tokens))}
	for _, t := range tokens {
		if strings.HasPrefix(t, "{") && strings.HasSuffix(t, "}") {
			p.segments = append(p.segments, segment{param: true})
		} else {
			p.segments = append(p.segments, segment{literal: t})
		}
	}
	r.patterns[kind] = p
}

// Build turns a registered kind plus ordered params into a concrete subject
// string. Returns domain.ErrInvalidSubject for an unknown kind or a param
// count mismatch.
func (r *Registry) Build(kind Kind, params ...string) (string, error) {
	p, ok := r.patterns[kind]
	if !ok {
		return "", domain.ErrInvalidSubject
	}
	var b strings.Builder
	pi := 0
	for i, seg := range p.segments {
		if i > 0 {
			b.WriteByte('.')
		}
		if seg.param {
			if pi >= len(params) || params[pi] == "" {
				return "", domain.ErrInvalidSubject
			}
			b.WriteString(params[pi])
			pi++
		} else {
			b.WriteString(seg.literal)
		}
	}
	if pi != len(params) {
		return "", domain.ErrInvalidSubject
	}
	return b.String(), nil
}

// Parse recovers (kind, params) from a concrete subject previously produced
// by Build, for round-trip testing and for log enrichment.
func (r *Registry) Parse(subject string) (Kind, []string, bool) {
	tokens := strings.Split(subject, ".")
	for kind, p := range r.patterns {
		if len(p.segments) != len(tokens) {
			continue
		}
		params := make([]string, 0, len(tokens))
		matched := true
		for i, seg := range p.segments {
			if seg.param {
				params = append(params, tokens[i])
				continue
			}
			if seg.literal != tokens[i] {
				matched = false
				break
			}
		}
		if matched {
			return kind, params, true
		}
	}
	return "", nil, false
}

// Validate reports whether subject matches some entry in the catalog. In
// non-strict mode the caller is expected to log a failed validation and
// proceed anyway; in strict mode the caller must reject the publish.
func (r *Registry) Validate(subject string) bool {
	_, _, ok := r.Parse(subject)
	return ok
}

// Strict reports whether this registry was constructed in strict mode.
func (r *Registry) Strict() bool { return r.strict }

// ToRedisPattern translates a wildcard subscription subject (using `*` for
// one segment and `>` for a tail) into the glob syntax redis PSubscribe
// expects.
func ToRedisPattern(subjectPattern string) string {
	tokens := strings.Split(subjectPattern, ".")
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		switch t {
		case "*":
			out = append(out, "*")
		case ">":
			out = append(out, "*")
			// '>' matches a tail of one-or-more segments; redis glob '*'
			// already spans dots, so a trailing '>' collapses to a single
			// trailing '*' and any earlier tokens are kept as-is.
		default:
			out = append(out, t)
		}
	}
	return strings.Join(out, ".")
}
