// Package schema holds the structural contract of each extraction stage. A
// Registry compiles one JSON Schema per stage in either strict mode (unknown
// fields rejected) or lenient mode (unknown fields ignored), validates raw
// inference responses and user edits against it, and exposes the schema as a
// response-format directive for the inference backends.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/sells-group/menu-extractor/internal/apperr"
	"github.com/sells-group/menu-extractor/internal/model"
)

// Mode selects how unknown fields are treated.
type Mode string

const (
	ModeStrict  Mode = "strict"
	ModeLenient Mode = "lenient"
)

// ParseMode validates a configured mode string.
func ParseMode(v string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(v))) {
	case ModeStrict:
		return ModeStrict, nil
	case ModeLenient:
		return ModeLenient, nil
	}
	return "", eris.Errorf("schema: unknown mode %q (want strict or lenient)", v)
}

// Descriptor is the response-format directive for one stage. Schema must be
// treated as read-only.
type Descriptor struct {
	Name   string
	Schema map[string]any
	Strict bool
}

type entry struct {
	desc     Descriptor
	unit     *jsonschema.Schema
	artifact *jsonschema.Schema
}

// Registry validates stage output. It is immutable after construction and
// safe for concurrent use.
type Registry struct {
	mode    Mode
	entries map[model.Stage]entry
}

// NewRegistry compiles the four stage schemas for mode.
func NewRegistry(mode Mode) (*Registry, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, apperr.Configuration("%v", err)
	}
	b := builder{strict: mode == ModeStrict}

	type def struct {
		name     string
		unit     map[string]any
		artifact map[string]any
	}
	defs := map[model.Stage]def{
		model.StageCategories: {
			name: "Categories",
			unit: b.categories(),
			artifact: b.envelope(props{
				"page_number": integer(),
				"data":        b.categories(),
			}, "page_number", "data"),
		},
		model.StageItems: {
			name: "CategoryWithItems",
			unit: b.categoryWithItems(),
			artifact: b.envelope(props{
				"page_number": integer(),
				"categories":  array(b.categoryWithItems()),
			}, "page_number", "categories"),
		},
		model.StageBases: {
			name: "CategoryBase",
			unit: b.categoryBase(),
			artifact: b.envelope(props{
				"page_number": integer(),
				"categories":  array(b.categoryBase()),
			}, "page_number", "categories"),
		},
		model.StageAddons: {
			name: "CategoryItemAddons",
			unit: b.categoryItemAddons(),
			artifact: b.envelope(props{
				"page_number": integer(),
				"categories":  array(b.categoryItemAddons()),
			}, "page_number", "categories"),
		},
	}

	r := &Registry{mode: mode, entries: make(map[model.Stage]entry, len(defs))}
	for stage, d := range defs {
		unit, err := compile(fmt.Sprintf("mem://%s/%s.json", mode, d.name), d.unit)
		if err != nil {
			return nil, eris.Wrapf(err, "schema: compile %s", d.name)
		}
		artifact, err := compile(fmt.Sprintf("mem://%s/%sArtifact.json", mode, d.name), d.artifact)
		if err != nil {
			return nil, eris.Wrapf(err, "schema: compile %s artifact", d.name)
		}
		r.entries[stage] = entry{
			desc:     Descriptor{Name: d.name, Schema: d.unit, Strict: mode == ModeStrict},
			unit:     unit,
			artifact: artifact,
		}
	}
	return r, nil
}

func compile(url string, doc map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, eris.Wrap(err, "marshal schema")
	}
	parsed, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, eris.Wrap(err, "parse schema")
	}
	c := jsonschema.NewCompiler()
	c.DefaultDraft(jsonschema.Draft2020)
	if err := c.AddResource(url, parsed); err != nil {
		return nil, eris.Wrap(err, "add schema resource")
	}
	return c.Compile(url)
}

// Mode returns the registry's strictness mode.
func (r *Registry) Mode() Mode {
	return r.mode
}

// Descriptor returns the response-format directive for stage.
func (r *Registry) Descriptor(stage model.Stage) Descriptor {
	return r.entries[stage].desc
}

// Validate checks one raw unit response against the stage schema.
func (r *Registry) Validate(stage model.Stage, raw []byte) error {
	e, ok := r.entries[stage]
	if !ok {
		return eris.Errorf("schema: no schema for %s", stage)
	}
	return validate(e.unit, e.desc.Name, stage, raw)
}

// ValidateArtifact checks a full stage envelope, as submitted by a user edit.
func (r *Registry) ValidateArtifact(stage model.Stage, raw []byte) error {
	e, ok := r.entries[stage]
	if !ok {
		return eris.Errorf("schema: no schema for %s", stage)
	}
	return validate(e.artifact, e.desc.Name+" artifact", stage, raw)
}

func validate(sch *jsonschema.Schema, name string, stage model.Stage, raw []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return apperr.At(apperr.Decode(err, "%s payload is not valid JSON", name), int(stage), 0, "")
	}
	if err := sch.Validate(inst); err != nil {
		return apperr.At(apperr.SchemaValidation(err, "%s payload violates schema", name), int(stage), 0, "")
	}
	return nil
}

// Decode validates raw against the stage schema and decodes it into T.
func Decode[T any](r *Registry, stage model.Stage, raw []byte) (T, error) {
	var out T
	if err := r.Validate(stage, raw); err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, apperr.At(apperr.Decode(err, "decode %s", r.Descriptor(stage).Name), int(stage), 0, "")
	}
	return out, nil
}

// DecodeArtifact validates a full stage envelope and decodes it into T.
func DecodeArtifact[T any](r *Registry, stage model.Stage, raw []byte) (T, error) {
	var out T
	if err := r.ValidateArtifact(stage, raw); err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, apperr.At(apperr.Decode(err, "decode %s artifact", stage), int(stage), 0, "")
	}
	return out, nil
}
