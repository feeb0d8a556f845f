package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hylla/ideadispatch/internal/app"
	"gopkg.in/yaml.v3"
)

// PolicyFile is the YAML document of business/domain dispatch rules.
//
//	policies:
//	  - business: HEAD
//	    domain: MARKET
//	    action: deny
//	    reason: market copy frozen for launch
//	    until: 2026-04-01T00:00:00Z
type PolicyFile struct {
	Policies []PolicyRule `yaml:"policies"`
}

// PolicyRule is one allow or deny rule. Later rules override earlier ones.
type PolicyRule struct {
	Business string `yaml:"business"`
	Domain   string `yaml:"domain"`
	Action   string `yaml:"action"`
	Reason   string `yaml:"reason"`
	From     string `yaml:"from"`
	Until    string `yaml:"until"`
}

// LoadPolicies reads the policy file. A blank path or missing file yields no policies.
func LoadPolicies(path string) ([]app.DispatchPolicy, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	var doc PolicyFile
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("decode policy yaml %q: %w", path, err)
	}
	return doc.DispatchPolicies()
}

// DispatchPolicies validates rules and converts them for the suppression evaluator.
func (f PolicyFile) DispatchPolicies() ([]app.DispatchPolicy, error) {
	out := make([]app.DispatchPolicy, 0, len(f.Policies))
	for i, rule := range f.Policies {
		var allow bool
		switch strings.TrimSpace(strings.ToLower(rule.Action)) {
		case "allow":
			allow = true
		case "deny":
		default:
			return nil, fmt.Errorf("policies[%d].action must be allow or deny: %q", i, rule.Action)
		}
		from, err := parsePolicyTime(rule.From)
		if err != nil {
			return nil, fmt.Errorf("policies[%d].from: %w", i, err)
		}
		until, err := parsePolicyTime(rule.Until)
		if err != nil {
			return nil, fmt.Errorf("policies[%d].until: %w", i, err)
		}
		if !from.IsZero() && !until.IsZero() && !until.After(from) {
			return nil, fmt.Errorf("policies[%d] window is empty", i)
		}
		out = append(out, app.DispatchPolicy{
			Business: strings.TrimSpace(rule.Business),
			Domain:   strings.TrimSpace(rule.Domain),
			Allow:    allow,
			Reason:   strings.TrimSpace(rule.Reason),
			From:     from,
			Until:    until,
		})
	}
	return out, nil
}

func parsePolicyTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q as RFC3339: %w", raw, err)
	}
	return ts.UTC(), nil
}
