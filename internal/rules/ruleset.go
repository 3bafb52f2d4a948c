package rules

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/atvirokodosprendimai/registry/internal/domain"
)

// Document is the on-disk rule store. JSON documents parse as well since JSON is
// a subset of YAML.
type Document struct {
	Version string           `json:"version" yaml:"version"`
	Rules   []VisibilityRule `json:"rules" yaml:"rules"`
}

// RuleSet is a validated, immutable rule store. There is no mutation path; a
// reload produces a new RuleSet.
type RuleSet struct {
	version  string
	checksum string
	loadedAt time.Time
	compiled []CompiledRule
}

func Parse(data []byte) (Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("parse rule document: %w", err)
	}
	return doc, nil
}

// Freeze validates a document and returns the immutable set.
func Freeze(doc Document, checksum string, loadedAt time.Time) (*RuleSet, error) {
	compiled, err := Validate(doc.Rules)
	if err != nil {
		return nil, err
	}
	return &RuleSet{version: doc.Version, checksum: checksum, loadedAt: loadedAt, compiled: compiled}, nil
}

// LoadBytes runs parse, validate and freeze. Every failure is a startup
// validation error.
func LoadBytes(data []byte) (*RuleSet, error) {
	doc, err := Parse(data)
	if err != nil {
		return nil, domain.NewError(domain.ErrStartupValidation, "rule store").WithCause(err)
	}
	rs, err := Freeze(doc, Checksum(data), time.Now().UTC())
	if err != nil {
		return nil, domain.NewError(domain.ErrStartupValidation, "rule store").WithCause(err)
	}
	return rs, nil
}

func Load(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.NewError(domain.ErrStartupValidation, "read rule store").WithCause(err)
	}
	return LoadBytes(data)
}

// Empty returns a rule set with no rules: every target is visible.
func Empty() *RuleSet {
	return &RuleSet{version: "empty", checksum: Checksum(nil), loadedAt: time.Now().UTC()}
}

func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

func (rs *RuleSet) Version() string { return rs.version }
func (rs *RuleSet) Checksum() string { return rs.checksum }
func (rs *RuleSet) LoadedAt() time.Time { return rs.loadedAt }
func (rs *RuleSet) Len() int { return len(rs.compiled) }

func (rs *RuleSet) Compiled() []CompiledRule {
	out := make([]CompiledRule, len(rs.compiled))
	copy(out, rs.compiled)
	return out
}

func (rs *RuleSet) Rules() []VisibilityRule {
	out := make([]VisibilityRule, 0, len(rs.compiled))
	for _, c := range rs.compiled {
		out = append(out, c.Rule())
	}
	return out
}

// WithOverlay returns a new set made of these rules followed by the overlay. The
// receiver is left untouched.
func (rs *RuleSet) WithOverlay(overlay []VisibilityRule) (*RuleSet, error) {
	compiled, err := Validate(overlay)
	if err != nil {
		return nil, err
	}
	merged := make([]CompiledRule, 0, len(rs.compiled)+len(compiled))
	merged = append(merged, rs.compiled...)
	merged = append(merged, compiled...)
	return &RuleSet{
		version:  rs.version + "+overlay",
		checksum: rs.checksum,
		loadedAt: rs.loadedAt,
		compiled: merged,
	}, nil
}

// Holder publishes the active RuleSet to concurrent readers. Requests take one
// snapshot with Current and use it for their whole lifetime.
type Holder struct {
	current atomic.Pointer[RuleSet]
}

func NewHolder(rs *RuleSet) *Holder {
	if rs == nil {
		rs = Empty()
	}
	h := &Holder{}
	h.current.Store(rs)
	return h
}

func (h *Holder) Current() *RuleSet {
	return h.current.Load()
}

// Reload loads and validates path and swaps it in only when valid.
func (h *Holder) Reload(path string) (*RuleSet, error) {
	rs, err := Load(path)
	if err != nil {
		return nil, err
	}
	if rs == nil {
		return nil, errors.New("rule store loaded nothing")
	}
	h.current.Store(rs)
	return rs, nil
}
