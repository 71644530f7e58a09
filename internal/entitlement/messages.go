package entitlement

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"flui/internal/types"
)

//go:embed messages.yaml
var defaultMessagesYAML []byte

type tierOverride struct {
	Current string `yaml:"current"`
	Next    string `yaml:"next"`
}

type messageEntry struct {
	types.GateMessage `yaml:",inline"`
	Tiers             map[types.PlanTier]tierOverride `yaml:"tiers"`
}

type messageFile struct {
	DefaultLocale string                                         `yaml:"default_locale"`
	Locales       map[string]map[types.FeatureGroup]messageEntry `yaml:"locales"`
}

// MessageBundle is the GATE_MESSAGES table: upgrade copy keyed by locale and
// feature group.
type MessageBundle struct {
	defaultLocale string
	locales       map[string]map[types.FeatureGroup]messageEntry
}

// DefaultMessages parses the embedded bundle.
func DefaultMessages() (*MessageBundle, error) {
	return ParseMessages(defaultMessagesYAML)
}

// ParseMessages parses a YAML bundle. Every locale must define every group.
func ParseMessages(data []byte) (*MessageBundle, error) {
	var f messageFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse gate messages: %w", err)
	}
	if _, ok := f.Locales[f.DefaultLocale]; !ok {
		return nil, fmt.Errorf("gate messages: default locale %q is not defined", f.DefaultLocale)
	}

	groups := []types.FeatureGroup{
		types.GroupSessions, types.GroupCredits, types.GroupInsights,
		types.GroupFrameworks, types.GroupPulse,
	}
	for locale, entries := range f.Locales {
		for _, g := range groups {
			if _, ok := entries[g]; !ok {
				return nil, fmt.Errorf("gate messages: locale %q is missing group %s", locale, g)
			}
		}
	}

	return &MessageBundle{
		defaultLocale: f.DefaultLocale,
		locales:       f.Locales,
	}, nil
}

// Lookup returns the copy for group, specialised for the account's tier.
// Unknown locales fall back to the default locale.
func (b *MessageBundle) Lookup(locale string, group types.FeatureGroup, tier types.PlanTier) (types.GateMessage, bool) {
	entries, ok := b.locales[locale]
	if !ok {
		entries = b.locales[b.defaultLocale]
	}

	entry, ok := entries[group]
	if !ok {
		return types.GateMessage{}, false
	}

	msg := entry.GateMessage
	if o, ok := entry.Tiers[tier]; ok {
		if o.Current != "" {
			msg.Current = o.Current
		}
		if o.Next != "" {
			msg.Next = o.Next
		}
	}
	return msg, true
}

// DefaultLocale returns the fallback locale of the bundle.
func (b *MessageBundle) DefaultLocale() string {
	return b.defaultLocale
}
