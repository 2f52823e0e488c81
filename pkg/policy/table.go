// Package policy holds the static field policy table: per resource type and
// field, who may read and write, which fields are immutable, and the
// collection-level create/delete rules. The table is immutable after load.
package policy

import (
	"fmt"
	"sort"

	"github.com/veridata/fieldgate/pkg/actor"
)

// Consent provenance fields. These are immutable on every consent-bearing
// resource type without per-type configuration.
const (
	FieldConsentGiven     = "consent_given"
	FieldConsentTimestamp = "consent_timestamp"
	FieldOriginAddress    = "origin_address"
)

// FieldPolicy declares the read and write rules for a single field
type FieldPolicy struct {
	Name  string `yaml:"name"`
	Read  *Rule  `yaml:"read,omitempty"`
	Write *Rule  `yaml:"write,omitempty"`
}

// ResourceConfig is the static, per-resource-type configuration the engine
// consults for every operation.
type ResourceConfig struct {
	Type string `yaml:"type"`

	// Fields is the fixed field set of the resource type. Incoming data
	// carrying undeclared fields fails validation.
	Fields []FieldPolicy `yaml:"fields"`

	// OwnerField names the per-record ownership reference (created_by or
	// assigned_to). Stamped by the engine at creation; reassignment is
	// governed by the field's own write rule.
	OwnerField string `yaml:"owner_field,omitempty"`

	// Collection-level permissions.
	Create []actor.Role `yaml:"create,omitempty"`
	Delete []actor.Role `yaml:"delete,omitempty"`
	Read   Rule         `yaml:"read"`
	Update Rule         `yaml:"update"`

	// PublicReadCondition restricts an allow_all read rule to matching
	// records, e.g. status=published for blog posts.
	PublicReadCondition RowFilter `yaml:"public_read_condition,omitempty"`

	// DeletePrecondition must hold on the record before a delete is allowed,
	// e.g. archived=false.
	DeletePrecondition RowFilter `yaml:"delete_precondition,omitempty"`

	// Immutable lists fields that may be set only at creation.
	Immutable []string `yaml:"immutable,omitempty"`

	// ConsentBearing marks resource types representing a data subject.
	ConsentBearing bool `yaml:"consent_bearing,omitempty"`

	// Audited marks resource types whose mutations and denials are recorded.
	Audited bool `yaml:"audited,omitempty"`

	// ErasureCascade lists dependent records removed when a record of this
	// type is erased: every record of Type whose ForeignKey field references
	// the erased record's id.
	ErasureCascade []CascadeRule `yaml:"erasure_cascade,omitempty"`
}

// CascadeRule identifies dependent records for right-to-erasure cascades
type CascadeRule struct {
	Type       string `yaml:"type"`
	ForeignKey string `yaml:"foreign_key"`
}

// FieldNames returns the declared field names in declaration order
func (c *ResourceConfig) FieldNames() []string {
	names := make([]string, 0, len(c.Fields))
	for _, f := range c.Fields {
		names = append(names, f.Name)
	}
	return names
}

// HasField reports whether the field is declared on the resource type
func (c *ResourceConfig) HasField(name string) bool {
	for _, f := range c.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

type fieldKey struct {
	resource string
	field    string
	op       Operation
}

// Table is the process-wide, read-only field policy table. It is loaded once
// at startup and safe for unbounded concurrent lookups.
type Table struct {
	resources map[string]*ResourceConfig
	rules     map[fieldKey]Rule
	immutable map[string]map[string]bool
}

// NewTable builds and validates a policy table from resource configurations.
// Malformed or duplicate entries are an error; callers treat that as fatal.
func NewTable(configs []ResourceConfig) (*Table, error) {
	t := &Table{
		resources: make(map[string]*ResourceConfig, len(configs)),
		rules:     make(map[fieldKey]Rule),
		immutable: make(map[string]map[string]bool, len(configs)),
	}

	for i := range configs {
		cfg := configs[i]
		if cfg.Type == "" {
			return nil, fmt.Errorf("resource config %d: missing type", i)
		}
		if _, dup := t.resources[cfg.Type]; dup {
			return nil, fmt.Errorf("duplicate resource type %q", cfg.Type)
		}
		if err := validateResource(&cfg); err != nil {
			return nil, fmt.Errorf("resource %q: %w", cfg.Type, err)
		}

		immutable := make(map[string]bool, len(cfg.Immutable))
		for _, f := range cfg.Immutable {
			if !cfg.HasField(f) {
				return nil, fmt.Errorf("resource %q: immutable field %q is not declared", cfg.Type, f)
			}
			immutable[f] = true
		}
		if cfg.ConsentBearing {
			// The consent triple joins the immutable set automatically.
			immutable[FieldConsentGiven] = true
			immutable[FieldConsentTimestamp] = true
			immutable[FieldOriginAddress] = true
		}

		seen := make(map[string]bool, len(cfg.Fields))
		for _, f := range cfg.Fields {
			if f.Name == "" {
				return nil, fmt.Errorf("resource %q: field with empty name", cfg.Type)
			}
			if seen[f.Name] {
				return nil, fmt.Errorf("resource %q: duplicate field %q", cfg.Type, f.Name)
			}
			seen[f.Name] = true

			if f.Read != nil {
				if err := validateRule(*f.Read); err != nil {
					return nil, fmt.Errorf("resource %q field %q read: %w", cfg.Type, f.Name, err)
				}
				t.rules[fieldKey{cfg.Type, f.Name, OpRead}] = *f.Read
			}
			if f.Write != nil {
				if err := validateRule(*f.Write); err != nil {
					return nil, fmt.Errorf("resource %q field %q write: %w", cfg.Type, f.Name, err)
				}
				t.rules[fieldKey{cfg.Type, f.Name, OpWrite}] = *f.Write
			}
		}

		t.resources[cfg.Type] = &cfg
		t.immutable[cfg.Type] = immutable
	}

	return t, nil
}

// Resource returns the configuration for a resource type
func (t *Table) Resource(resourceType string) (*ResourceConfig, bool) {
	cfg, ok := t.resources[resourceType]
	return cfg, ok
}

// ResourceTypes returns the declared resource type names, sorted
func (t *Table) ResourceTypes() []string {
	names := make([]string, 0, len(t.resources))
	for name := range t.resources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FieldRule resolves the rule for a (resource, field, operation) triple.
// The lookup is total: undeclared pairs resolve to deny_all.
func (t *Table) FieldRule(resourceType, field string, op Operation) Rule {
	if rule, ok := t.rules[fieldKey{resourceType, field, op}]; ok {
		return rule
	}
	return DenyAll()
}

// ImmutableFields returns the effective immutable field set for a resource
// type, consent provenance fields included for consent-bearing types.
func (t *Table) ImmutableFields(resourceType string) map[string]bool {
	return t.immutable[resourceType]
}

func validateResource(cfg *ResourceConfig) error {
	if len(cfg.Fields) == 0 {
		return fmt.Errorf("no fields declared")
	}
	for _, r := range cfg.Create {
		if !r.Valid() {
			return fmt.Errorf("create: unknown role %q", r)
		}
	}
	for _, r := range cfg.Delete {
		if !r.Valid() {
			return fmt.Errorf("delete: unknown role %q", r)
		}
	}
	if err := validateRule(cfg.Read); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if err := validateRule(cfg.Update); err != nil {
		return fmt.Errorf("update: %w", err)
	}
	if cfg.Read.Kind == RuleAllowOwnerOrRoles && cfg.Read.OwnerField == "" && cfg.OwnerField == "" {
		return fmt.Errorf("read: allow_owner_or_roles requires an owner field")
	}
	if cfg.Update.Kind == RuleAllowOwnerOrRoles && cfg.Update.OwnerField == "" && cfg.OwnerField == "" {
		return fmt.Errorf("update: allow_owner_or_roles requires an owner field")
	}
	if cfg.ConsentBearing {
		for _, name := range []string{FieldConsentGiven, FieldConsentTimestamp, FieldOriginAddress} {
			if !cfg.HasField(name) {
				return fmt.Errorf("consent-bearing type must declare field %q", name)
			}
		}
	}
	for _, c := range cfg.ErasureCascade {
		if c.Type == "" || c.ForeignKey == "" {
			return fmt.Errorf("erasure cascade entries need type and foreign_key")
		}
	}
	return nil
}

func validateRule(r Rule) error {
	if !r.Kind.Valid() {
		return fmt.Errorf("unknown rule kind %q", r.Kind)
	}
	switch r.Kind {
	case RuleAllowRoles, RuleAllowOwnerOrRoles:
		if len(r.Roles) == 0 && r.Kind == RuleAllowRoles {
			return fmt.Errorf("allow_roles requires at least one role")
		}
		for _, role := range r.Roles {
			if !role.Valid() {
				return fmt.Errorf("unknown role %q", role)
			}
		}
	}
	return nil
}

// EffectiveRule resolves a rule, defaulting a missing owner field to the
// resource's own owner field.
func (t *Table) EffectiveRule(cfg *ResourceConfig, r Rule) Rule {
	if r.Kind == RuleAllowOwnerOrRoles && r.OwnerField == "" {
		r.OwnerField = cfg.OwnerField
	}
	return r
}
