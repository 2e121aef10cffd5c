package ops

import (
	"context"

	"github.com/perimeterd/perimeterd/internal/access"
)

func registerHelp(r *Registry) {
	r.Register("help", "List every operation and its required access level", access.ReadOnly, "", help)
}

func help(_ context.Context, deps Deps, _ map[string]any) (map[string]any, error) {
	catalog := make([]map[string]any, 0)
	for _, op := range deps.Registry.List() {
		catalog = append(catalog, map[string]any{
			"name":        op.Name,
			"description": op.Description,
			"min_level":   op.MinLevel.String(),
		})
	}
	return map[string]any{"operations": catalog}, nil
}
