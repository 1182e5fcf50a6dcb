// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package skills

import (
	"regexp"

	"github.com/webrana/webrana/pkg/errors"
	"github.com/webrana/webrana/pkg/llm"
)

var skillNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{0,63}$`)

// Registry is the closed, read-only table of skills for a session. There
// are no aliases: a name resolves to exactly one descriptor.
type Registry struct {
	byName map[string]*Descriptor
	order  []string
}

// NewRegistry validates and indexes descs. A duplicate name is a fatal
// configuration error.
func NewRegistry(descs ...Descriptor) (*Registry, error) {
	r := &Registry{byName: make(map[string]*Descriptor, len(descs))}
	for i := range descs {
		d := descs[i]
		if err := validate(&d); err != nil {
			return nil, err
		}
		if existing, ok := r.byName[d.Name]; ok {
			return nil, errors.New(errors.CodeConfig, "skill name collision", nil).
				WithContext("skill", d.Name).
				WithContext("existing_source", sourceLabel(existing)).
				WithContext("new_source", sourceLabel(&d))
		}
		r.byName[d.Name] = &d
		r.order = append(r.order, d.Name)
	}
	return r, nil
}

func validate(d *Descriptor) error {
	if !skillNamePattern.MatchString(d.Name) {
		return errors.New(errors.CodeConfig, "invalid skill name", nil).WithContext("skill", d.Name)
	}
	if d.Handler == nil {
		return errors.New(errors.CodeConfig, "skill has no handler", nil).WithContext("skill", d.Name)
	}
	if d.Class == "" {
		return errors.New(errors.CodeConfig, "skill has no operation class", nil).WithContext("skill", d.Name)
	}
	if d.Source == "" {
		d.Source = SourceBuiltin
	}
	if d.Requires.caps == nil {
		d.Requires = NewPermissionSet()
	}
	if d.Available.caps == nil {
		d.Available = NewPermissionSet()
	}
	return nil
}

func sourceLabel(d *Descriptor) string {
	if d.Source == SourcePlugin {
		return "plugin:" + d.PluginID
	}
	return string(d.Source)
}

// Get returns the descriptor for name.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// List returns descriptors in registration order.
func (r *Registry) List() []*Descriptor {
	out := make([]*Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Len returns the number of skills.
func (r *Registry) Len() int {
	return len(r.order)
}

// Tools returns model-facing schemas in registration order.
func (r *Registry) Tools() []llm.Tool {
	out := make([]llm.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name].Tool())
	}
	return out
}
