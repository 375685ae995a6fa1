// Package channels holds the channel-configuration registry: one entry per
// messaging line describing its record table, agent identity and the legacy
// session-identifier exceptions recorded for it.
package channels

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// DefaultAgentPrefix marks session ids of agent-originated records.
const DefaultAgentPrefix = "agent_"

var (
	// ErrUnknownChannel is returned when neither an id nor an alias matches.
	ErrUnknownChannel = errors.New("channels: unknown channel")

	tableNameRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)
)

// IdentityRule enumerates the legacy session-identifier exceptions of one
// channel. These come from historical records and must not be generalised.
type IdentityRule struct {
	// SuffixMarker is a literal suffix; the phone is everything before it.
	SuffixMarker string `json:"suffix_marker,omitempty"`
	// BrandLiterals are brand names baked into old session ids.
	BrandLiterals []string `json:"brand_literals,omitempty"`
	BrandName     string   `json:"brand_name,omitempty"`
	FallbackPhone string   `json:"fallback_phone,omitempty"`
}

// Channel describes one logical messaging line.
type Channel struct {
	ID                 string        `json:"id"`
	Aliases            []string      `json:"aliases,omitempty"`
	Name               string        `json:"name"`
	TableName          string        `json:"table_name"`
	AgentPrefix        string        `json:"agent_prefix"`
	AgentName          string        `json:"agent_name"`
	DefaultContactName string        `json:"default_contact_name"`
	GatewayInstance    string        `json:"gateway_instance,omitempty"`
	Identity           *IdentityRule `json:"identity,omitempty"`
}

// Registry resolves channel ids and legacy aliases to channel configuration.
type Registry struct {
	channels      []Channel
	byKey         map[string]int
	byTable       map[string]int
	fallbackTable string
}

type registryFile struct {
	FallbackTable string    `json:"fallback_table"`
	Channels      []Channel `json:"channels"`
}

// NewRegistry validates the channel list and builds the lookup indexes.
// fallbackTable is used for unmapped channel keys; when empty the first
// channel's table is used.
func NewRegistry(channels []Channel, fallbackTable string) (*Registry, error) {
	if len(channels) == 0 {
		return nil, errors.New("channels: at least one channel required")
	}
	r := &Registry{
		channels: make([]Channel, 0, len(channels)),
		byKey:    make(map[string]int, len(channels)*2),
		byTable:  make(map[string]int, len(channels)),
	}
	for _, ch := range channels {
		ch.ID = strings.TrimSpace(ch.ID)
		ch.TableName = strings.TrimSpace(ch.TableName)
		if ch.ID == "" {
			return nil, errors.New("channels: channel id required")
		}
		if !tableNameRe.MatchString(ch.TableName) {
			return nil, fmt.Errorf("channels: invalid table name %q for channel %s", ch.TableName, ch.ID)
		}
		if ch.AgentPrefix == "" {
			ch.AgentPrefix = DefaultAgentPrefix
		}
		if ch.Name == "" {
			ch.Name = ch.ID
		}
		idx := len(r.channels)
		for _, key := range append([]string{ch.ID}, ch.Aliases...) {
			norm := normalizeKey(key)
			if norm == "" {
				continue
			}
			if _, dup := r.byKey[norm]; dup {
				return nil, fmt.Errorf("channels: duplicate channel key %q", key)
			}
			r.byKey[norm] = idx
		}
		if _, dup := r.byTable[ch.TableName]; dup {
			return nil, fmt.Errorf("channels: table %s mapped twice", ch.TableName)
		}
		r.byTable[ch.TableName] = idx
		r.channels = append(r.channels, ch)
	}

	fallbackTable = strings.TrimSpace(fallbackTable)
	if fallbackTable == "" {
		fallbackTable = r.channels[0].TableName
	}
	if !tableNameRe.MatchString(fallbackTable) {
		return nil, fmt.Errorf("channels: invalid fallback table %q", fallbackTable)
	}
	r.fallbackTable = fallbackTable
	return r, nil
}

// ParseJSON builds a registry from a JSON document of the form
// {"fallback_table": "...", "channels": [...]}.
func ParseJSON(data []byte, fallbackOverride string) (*Registry, error) {
	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("channels: decode registry: %w", err)
	}
	fallback := file.FallbackTable
	if strings.TrimSpace(fallbackOverride) != "" {
		fallback = fallbackOverride
	}
	return NewRegistry(file.Channels, fallback)
}

// Load picks the registry source: inline JSON first, then a file, then the
// built-in table.
func Load(inlineJSON, path, fallbackOverride string) (*Registry, error) {
	switch {
	case strings.TrimSpace(inlineJSON) != "":
		return ParseJSON([]byte(inlineJSON), fallbackOverride)
	case strings.TrimSpace(path) != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("channels: read registry file: %w", err)
		}
		return ParseJSON(data, fallbackOverride)
	default:
		return NewRegistry(builtin, fallbackOverride)
	}
}

// Lookup finds a channel by id or alias (case-insensitive).
func (r *Registry) Lookup(key string) (Channel, bool) {
	if r == nil {
		return Channel{}, false
	}
	idx, ok := r.byKey[normalizeKey(key)]
	if !ok {
		return Channel{}, false
	}
	return r.channels[idx], true
}

// Resolve is Lookup with an error for unknown keys.
func (r *Registry) Resolve(key string) (Channel, error) {
	ch, ok := r.Lookup(key)
	if !ok {
		return Channel{}, fmt.Errorf("%w: %q", ErrUnknownChannel, key)
	}
	return ch, nil
}

// TableFor maps a channel key to its physical table, or the fallback table
// when the key is unmapped.
func (r *Registry) TableFor(key string) string {
	if ch, ok := r.Lookup(key); ok {
		return ch.TableName
	}
	if r == nil {
		return ""
	}
	return r.fallbackTable
}

// ByTable returns the channel owning a table.
func (r *Registry) ByTable(table string) (Channel, bool) {
	if r == nil {
		return Channel{}, false
	}
	idx, ok := r.byTable[strings.TrimSpace(table)]
	if !ok {
		return Channel{}, false
	}
	return r.channels[idx], true
}

// FallbackTable returns the table used for unmapped channel keys.
func (r *Registry) FallbackTable() string {
	if r == nil {
		return ""
	}
	return r.fallbackTable
}

// All returns the channels in registration order.
func (r *Registry) All() []Channel {
	if r == nil {
		return nil
	}
	out := make([]Channel, len(r.channels))
	copy(out, r.channels)
	return out
}

// IdentityRules returns every legacy identity exception in registration order.
func (r *Registry) IdentityRules() []IdentityRule {
	if r == nil {
		return nil
	}
	var rules []IdentityRule
	for _, ch := range r.channels {
		if ch.Identity != nil {
			rules = append(rules, *ch.Identity)
		}
	}
	return rules
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
