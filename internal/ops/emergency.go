package ops

import (
	"context"
	"time"

	"github.com/perimeterd/perimeterd/internal/access"
)

func registerEmergency(r *Registry) {
	r.Register("emergency_block_all", "Insert a top-priority rule blocking all external traffic", access.EmergencyWrite, "", emergencyBlockAll)
	r.Register("activate_incident_mode", "Lock down external traffic and log everything", access.EmergencyWrite, "", activateIncidentMode)
}

func emergencyBlockAll(ctx context.Context, deps Deps, _ map[string]any) (map[string]any, error) {
	rule := map[string]any{
		"action":      "block",
		"interface":   "wan",
		"source":      "any",
		"destination": "any",
		"top":         true,
		"log":         true,
		"description": "EMERGENCY: block all external traffic",
	}
	created, err := deps.Gateway.Execute(ctx, "firewall.rule.create", rule)
	if err != nil {
		return nil, err
	}
	return applyAndReport(ctx, deps, map[string]any{
		"emergency_block": "active",
		"rule":            map[string]any(created),
	})
}

func activateIncidentMode(ctx context.Context, deps Deps, _ map[string]any) (map[string]any, error) {
	rule := map[string]any{
		"action":      "block",
		"interface":   "wan",
		"source":      "any",
		"destination": "any",
		"top":         true,
		"log":         true,
		"description": "INCIDENT MODE: external traffic blocked pending investigation",
	}
	created, err := deps.Gateway.Execute(ctx, "firewall.rule.create", rule)
	if err != nil {
		return nil, err
	}
	out, err := applyAndReport(ctx, deps, map[string]any{
		"incident_mode": "active",
		"activated_at":  time.Now().UTC().Format(time.RFC3339),
		"rule":          map[string]any(created),
	})
	if err != nil {
		return nil, err
	}
	// Snapshot the appliance state for the incident record.
	if status, serr := deps.Gateway.Execute(ctx, "system.status", nil); serr == nil {
		out["system"] = map[string]any(status)
	}
	return out, nil
}
