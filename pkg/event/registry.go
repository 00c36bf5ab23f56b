package event

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// TypeSpec describes one registered event type.
type TypeSpec struct {
	Name string
	// ActionClass is the default impact classification. ClassifyPayload may
	// escalate it based on payload scope.
	ActionClass ActionClass
	// HealthData marks types that require explicit health-data consent.
	HealthData bool
	// Schema validates the payload shape. Nil means any payload is accepted.
	Schema *jsonschema.Schema
}

// Registry holds the set of event types kura will accept.
// Membership is checked in preflight; unknown types never reach the store.
type Registry struct {
	types map[string]TypeSpec
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]TypeSpec)}
}

// Register adds an event type. schemaJSON may be empty for opaque payloads.
func (r *Registry) Register(name string, class ActionClass, healthData bool, schemaJSON string) error {
	spec := TypeSpec{Name: name, ActionClass: class, HealthData: healthData}
	if schemaJSON != "" {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		url := fmt.Sprintf("https://kura.schemas.local/events/%s.schema.json", name)
		if err := c.AddResource(url, strings.NewReader(schemaJSON)); err != nil {
			return fmt.Errorf("registry: schema load for %q failed: %w", name, err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return fmt.Errorf("registry: schema compile for %q failed: %w", name, err)
		}
		spec.Schema = compiled
	}
	r.types[name] = spec
	return nil
}

// Lookup returns the spec for an event type. Provisional drafts resolve to
// the spec of their underlying type.
func (r *Registry) Lookup(name string) (TypeSpec, bool) {
	base := strings.TrimPrefix(name, ProvisionalPrefix)
	spec, ok := r.types[base]
	return spec, ok
}

// Classify returns the action class for a candidate, escalating the
// registered default when the payload declares a bulk or destructive scope.
func (r *Registry) Classify(c Candidate) ActionClass {
	spec, ok := r.Lookup(c.Type)
	if !ok {
		// Unknown types are rejected in preflight; classify conservatively.
		return ActionHighImpact
	}
	if scope, _ := c.Payload["scope"].(string); scope == "bulk" || scope == "retroactive" {
		return ActionHighImpact
	}
	return spec.ActionClass
}

// ClassifyBatch returns the strictest action class across all candidates.
func (r *Registry) ClassifyBatch(cands []Candidate) ActionClass {
	for _, c := range cands {
		if r.Classify(c) == ActionHighImpact {
			return ActionHighImpact
		}
	}
	return ActionLowImpact
}

// DefaultRegistry returns the registry for the kura training domain.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	mustRegister := func(name string, class ActionClass, health bool, schema string) {
		if err := r.Register(name, class, health, schema); err != nil {
			panic(fmt.Sprintf("event: default registry: %v", err))
		}
	}

	mustRegister("set.logged", ActionLowImpact, false, `{
		"type": "object",
		"properties": {
			"exercise":     {"type": "string", "minLength": 1},
			"reps":         {"type": "integer", "minimum": 0},
			"weight_kg":    {"type": "number", "minimum": 0},
			"rest_seconds": {"type": "integer", "minimum": 0},
			"rir":          {"type": "integer", "minimum": 0, "maximum": 10},
			"tempo":        {"type": "string"},
			"set_type":     {"type": "string"},
			"exertion":     {"type": "integer"},
			"scope":        {"type": "string"}
		},
		"required": ["exercise"]
	}`)
	mustRegister("session.completed", ActionLowImpact, false, `{
		"type": "object",
		"properties": {
			"session_id": {"type": "string"},
			"rating":     {"type": "integer"},
			"scope":      {"type": "string"}
		}
	}`)
	mustRegister("bodyweight.logged", ActionLowImpact, true, `{
		"type": "object",
		"properties": {
			"weight_kg": {"type": "number", "minimum": 0}
		},
		"required": ["weight_kg"]
	}`)
	mustRegister("injury.reported", ActionHighImpact, true, `{
		"type": "object",
		"properties": {
			"site":     {"type": "string", "minLength": 1},
			"severity": {"type": "string"}
		},
		"required": ["site"]
	}`)
	mustRegister("plan.updated", ActionHighImpact, false, "")
	mustRegister("history.imported", ActionHighImpact, false, "")
	mustRegister("correction.applied", ActionLowImpact, false, `{
		"type": "object",
		"properties": {
			"target_event_id": {"type": "string", "minLength": 1},
			"field":           {"type": "string", "minLength": 1}
		},
		"required": ["target_event_id", "field"]
	}`)
	mustRegister("draft.retracted", ActionLowImpact, false, `{
		"type": "object",
		"properties": {
			"draft_event_id": {"type": "string", "minLength": 1},
			"resolution":     {"type": "string"}
		},
		"required": ["draft_event_id"]
	}`)

	return r
}
