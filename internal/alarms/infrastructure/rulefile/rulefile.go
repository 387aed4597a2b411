// Package rulefile loads alarm rules from YAML documents.
package rulefile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	alarms "alarm-engine/internal/alarms/domain"
	"alarm-engine/internal/audit"
)

// Document is the file layout.
type Document struct {
	// TenantID applies to rules that do not name their own tenant.
	TenantID string             `yaml:"tenantId"`
	Rules    []alarms.AlarmRule `yaml:"rules"`
}

type revision struct {
	digest    string
	createdAt time.Time
	updatedAt time.Time
}

// Source reads rules from a file on every ListEnabled call, so edits take
// effect on the next rule reload. A rule whose definition did not change keeps
// its timestamps across reads.
type Source struct {
	path string
	now  func() time.Time

	mu        sync.Mutex
	revisions map[string]revision
}

// NewSource constructs a file-backed rule source.
func NewSource(path string) (*Source, error) {
	if path == "" {
		return nil, errors.New("rulefile: empty path")
	}
	return &Source{path: path, now: time.Now, revisions: make(map[string]revision)}, nil
}

// ListEnabled returns the enabled rules of the file ordered by id.
func (s *Source) ListEnabled(ctx context.Context) ([]alarms.AlarmRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	rules, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("rulefile: %s: %w", s.path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	out := rules[:0]
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		s.stamp(&rule, now)
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Source) stamp(rule *alarms.AlarmRule, now time.Time) {
	encoded, err := json.Marshal(rule)
	if err != nil {
		rule.CreatedAt, rule.UpdatedAt = now, now
		return
	}
	digest := audit.DigestJSON(encoded)
	rev, ok := s.revisions[rule.ID]
	switch {
	case !ok:
		rev = revision{digest: digest, createdAt: now, updatedAt: now}
	case rev.digest != digest:
		rev.digest = digest
		rev.updatedAt = now
	}
	s.revisions[rule.ID] = rev
	rule.CreatedAt = rev.createdAt
	rule.UpdatedAt = rev.updatedAt
}

// Decode parses one or more YAML documents. Unknown fields are rejected.
func Decode(r io.Reader) ([]alarms.AlarmRule, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var rules []alarms.AlarmRule
	for {
		var doc Document
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		for _, rule := range doc.Rules {
			if rule.TenantID == "" {
				rule.TenantID = doc.TenantID
			}
			rules = append(rules, rule)
		}
	}
	return rules, nil
}

// Validate decodes rules and checks every rule. Duplicate ids are reported.
func Validate(data []byte) ([]alarms.AlarmRule, error) {
	rules, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var errs []error
	seen := make(map[string]bool, len(rules))
	for _, rule := range rules {
		if seen[rule.ID] {
			errs = append(errs, fmt.Errorf("rulefile: duplicate rule id %q", rule.ID))
			continue
		}
		seen[rule.ID] = true
		if err := rule.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return rules, errors.Join(errs...)
}
