package workflow

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// RegistrationType binds a kind of registration to its workflow and
// carries the per-type settings the engine enforces.
type RegistrationType struct {
	ID              string
	Label           string
	WorkflowID      string
	HeldExpire      time.Duration
	HeldExpireState string
	// Overridable lists host settings administrators may bypass for
	// registrations of this type.
	Overridable map[string]bool
	// Revision changes whenever the type configuration changes; cached
	// decisions derived from the type are keyed by it.
	Revision int
}

// IsOverridable reports whether setting may be bypassed for this type.
func (t RegistrationType) IsOverridable(setting string) bool {
	return t.Overridable[setting]
}

// Catalog is the immutable set of workflows and registration types
// loaded at startup.
type Catalog struct {
	workflows map[string]*Workflow
	types     map[string]RegistrationType
}

// NewCatalog checks that every type references a declared workflow and,
// when it expires held registrations, a declared target state.
func NewCatalog(workflows []*Workflow, types []RegistrationType) (*Catalog, error) {
	c := &Catalog{
		workflows: make(map[string]*Workflow, len(workflows)),
		types:     make(map[string]RegistrationType, len(types)),
	}
	for _, w := range workflows {
		if _, dup := c.workflows[w.ID()]; dup {
			return nil, configError(w.ID(), "", "duplicate workflow")
		}
		c.workflows[w.ID()] = w
	}
	for _, t := range types {
		if err := c.addType(t); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) addType(t RegistrationType) error {
	if t.ID == "" {
		return configError("", "", "registration type id is required")
	}
	if _, dup := c.types[t.ID]; dup {
		return configError("", t.ID, "duplicate registration type")
	}
	w, ok := c.workflows[t.WorkflowID]
	if !ok {
		return configError(t.WorkflowID, t.ID, "registration type references an undeclared workflow")
	}
	if t.HeldExpire < 0 {
		return configError(w.ID(), t.ID, "held expiration must not be negative")
	}
	if t.HeldExpireState != "" {
		if _, err := w.Lookup(t.HeldExpireState); err != nil {
			return err
		}
	}
	overridable := make(map[string]bool, len(t.Overridable))
	for k, v := range t.Overridable {
		overridable[k] = v
	}
	t.Overridable = overridable
	c.types[t.ID] = t
	return nil
}

// Workflow returns the workflow with the given ID.
func (c *Catalog) Workflow(id string) (*Workflow, error) {
	w, ok := c.workflows[id]
	if !ok {
		return nil, configError(id, "", "workflow is not declared")
	}
	return w, nil
}

// Type returns the registration type with the given ID.
func (c *Catalog) Type(id string) (RegistrationType, error) {
	t, ok := c.types[id]
	if !ok {
		return RegistrationType{}, configError("", id, "registration type is not declared")
	}
	return t, nil
}

// WorkflowForType resolves the single workflow of a registration type.
func (c *Catalog) WorkflowForType(typeID string) (*Workflow, RegistrationType, error) {
	t, err := c.Type(typeID)
	if err != nil {
		return nil, RegistrationType{}, err
	}
	w, err := c.Workflow(t.WorkflowID)
	if err != nil {
		return nil, RegistrationType{}, err
	}
	return w, t, nil
}

// Types returns every registration type ordered by ID.
func (c *Catalog) Types() []RegistrationType {
	out := make([]RegistrationType, 0, len(c.types))
	for _, t := range c.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Workflows returns every workflow ordered by ID.
func (c *Catalog) Workflows() []*Workflow {
	out := make([]*Workflow, 0, len(c.workflows))
	for _, w := range c.workflows {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// ReplaceType returns a copy of the catalog with t swapped in and its
// revision moved past the previous one.
func (c *Catalog) ReplaceType(t RegistrationType) (*Catalog, error) {
	prev, ok := c.types[t.ID]
	if !ok {
		return nil, configError("", t.ID, "registration type is not declared")
	}
	if t.Revision <= prev.Revision {
		t.Revision = prev.Revision + 1
	}
	next := &Catalog{
		workflows: c.workflows,
		types:     make(map[string]RegistrationType, len(c.types)),
	}
	for id, existing := range c.types {
		if id != t.ID {
			next.types[id] = existing
		}
	}
	if err := next.addType(t); err != nil {
		return nil, err
	}
	return next, nil
}

// DefaultTypeID is the registration type of DefaultCatalog.
const DefaultTypeID = "default"

// DefaultCatalog holds the wait-list enabled default workflow and one
// registration type whose held registrations are canceled after an hour.
func DefaultCatalog() *Catalog {
	w, err := New(DefaultWithWaitlist())
	if err != nil {
		panic(fmt.Sprintf("default workflow: %v", err))
	}
	c, err := NewCatalog([]*Workflow{w}, []RegistrationType{{
		ID:              DefaultTypeID,
		Label:           "Default",
		WorkflowID:      DefaultID,
		HeldExpire:      time.Hour,
		HeldExpireState: "canceled",
	}})
	if err != nil {
		panic(fmt.Sprintf("default catalog: %v", err))
	}
	return c
}

type catalogFile struct {
	Workflows []Definition `yaml:"workflows"`
	Types     []typeFile   `yaml:"types"`
}

type typeFile struct {
	ID              string   `yaml:"id"`
	Label           string   `yaml:"label"`
	Workflow        string   `yaml:"workflow"`
	HeldExpire      string   `yaml:"held_expire"`
	HeldExpireState string   `yaml:"held_expire_state"`
	Overridable     []string `yaml:"overridable"`
	Revision        int      `yaml:"revision"`
}

// LoadCatalog parses a YAML catalog document.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var doc catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	workflows := make([]*Workflow, 0, len(doc.Workflows))
	for _, def := range doc.Workflows {
		w, err := New(def)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, w)
	}

	types := make([]RegistrationType, 0, len(doc.Types))
	for _, tf := range doc.Types {
		t := RegistrationType{
			ID:              tf.ID,
			Label:           tf.Label,
			WorkflowID:      tf.Workflow,
			HeldExpireState: tf.HeldExpireState,
			Overridable:     make(map[string]bool, len(tf.Overridable)),
			Revision:        tf.Revision,
		}
		if tf.HeldExpire != "" {
			d, err := time.ParseDuration(tf.HeldExpire)
			if err != nil {
				return nil, configError(tf.Workflow, tf.ID, fmt.Sprintf("invalid held_expire %q", tf.HeldExpire))
			}
			t.HeldExpire = d
		}
		for _, s := range tf.Overridable {
			t.Overridable[s] = true
		}
		types = append(types, t)
	}
	return NewCatalog(workflows, types)
}

// WriteCatalog encodes c in the document format LoadCatalog reads.
func WriteCatalog(w io.Writer, c *Catalog) error {
	var doc catalogFile
	for _, wf := range c.Workflows() {
		doc.Workflows = append(doc.Workflows, wf.Definition())
	}
	for _, t := range c.Types() {
		tf := typeFile{
			ID:              t.ID,
			Label:           t.Label,
			Workflow:        t.WorkflowID,
			HeldExpireState: t.HeldExpireState,
			Revision:        t.Revision,
		}
		if t.HeldExpire > 0 {
			tf.HeldExpire = t.HeldExpire.String()
		}
		for s, ok := range t.Overridable {
			if ok {
				tf.Overridable = append(tf.Overridable, s)
			}
		}
		sort.Strings(tf.Overridable)
		doc.Types = append(doc.Types, tf)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	return enc.Close()
}

// LoadCatalogFile reads a catalog from path.
func LoadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return LoadCatalog(f)
}
