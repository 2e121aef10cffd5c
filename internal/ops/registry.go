// Package ops defines the operation catalog: every action the dispatcher can
// run, its minimum access level, its argument schema, and its handler.
package ops

import (
	"context"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/perimeterd/perimeterd/internal/access"
	"github.com/perimeterd/perimeterd/internal/gateway"
	perrs "github.com/perimeterd/perimeterd/internal/platform/errors"
)

// Deps carries what handlers need at call time.
type Deps struct {
	Gateway  *gateway.Gateway
	Registry *Registry
}

// HandlerFunc executes one operation.
type HandlerFunc func(ctx context.Context, deps Deps, args map[string]any) (map[string]any, error)

// Operation is one callable entry in the catalog.
type Operation struct {
	Name        string
	Description string
	MinLevel    access.Level
	// InputSchema is the raw JSON schema for the operation's arguments,
	// empty when the operation takes none.
	InputSchema string
	Handler     HandlerFunc

	schema *jsonschema.Schema
}

// ValidateArgs checks args against the operation's schema, if it has one.
func (op *Operation) ValidateArgs(args map[string]any) error {
	if op.schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := op.schema.Validate(map[string]any(args)); err != nil {
		return perrs.Wrap(perrs.CodeInvalidParams, fmt.Sprintf("invalid arguments for %s", op.Name), err)
	}
	return nil
}

// Registry holds the operation catalog.
type Registry struct {
	ops map[string]*Operation
}

// NewRegistry returns an empty catalog.
func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]*Operation)}
}

// Default returns the catalog with every built-in operation registered.
func Default() *Registry {
	r := NewRegistry()
	registerMonitoring(r)
	registerCompliance(r)
	registerFirewall(r)
	registerEmergency(r)
	registerHelp(r)
	return r
}

// Register adds an operation. Schemas are compiled at registration, so a bad
// schema or a duplicate name fails at startup, not at call time.
func (r *Registry) Register(name, description string, min access.Level, schemaJSON string, h HandlerFunc) {
	if _, exists := r.ops[name]; exists {
		panic(fmt.Sprintf("ops: operation %q registered twice", name))
	}
	op := &Operation{
		Name:        name,
		Description: description,
		MinLevel:    min,
		InputSchema: schemaJSON,
		Handler:     h,
	}
	if schemaJSON != "" {
		op.schema = jsonschema.MustCompileString(name+".json", schemaJSON)
	}
	r.ops[name] = op
}

// Get looks up an operation by name.
func (r *Registry) Get(name string) (*Operation, bool) {
	op, ok := r.ops[name]
	return op, ok
}

// List returns every operation sorted by name.
func (r *Registry) List() []*Operation {
	out := make([]*Operation, 0, len(r.ops))
	for _, op := range r.ops {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AllowedOperations returns the sorted names of every operation the given
// level may call. The set is derived from the catalog, so registering an
// operation automatically places it in the right tiers.
func (r *Registry) AllowedOperations(level access.Level) []string {
	var out []string
	for name, op := range r.ops {
		if access.Check(level, op.MinLevel) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
