package ops

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/perimeterd/perimeterd/internal/access"
	perrs "github.com/perimeterd/perimeterd/internal/platform/errors"
)

const ipArgSchema = `{
	"type": "object",
	"properties": {
		"ip_address": {"type": "string"}
	},
	"required": ["ip_address"],
	"additionalProperties": false
}`

const createRuleSchema = `{
	"type": "object",
	"properties": {
		"source": {"type": "string"},
		"destination": {"type": "string"},
		"action": {"type": "string", "enum": ["pass", "allow", "block", "reject"]},
		"interface": {"type": "string"},
		"protocol": {"type": "string"},
		"port": {"type": ["string", "integer"]},
		"description": {"type": "string"},
		"log": {"type": "boolean"}
	},
	"required": ["source", "destination"],
	"additionalProperties": false
}`

func registerFirewall(r *Registry) {
	r.Register("block_ip", "Block all traffic from an address", access.SecurityWrite, ipArgSchema, blockIP)
	r.Register("unblock_ip", "Remove the block rules for an address", access.SecurityWrite, ipArgSchema, unblockIP)
	r.Register("create_firewall_rule", "Add a firewall rule", access.SecurityWrite, createRuleSchema, createFirewallRule)
}

func blockIP(ctx context.Context, deps Deps, args map[string]any) (map[string]any, error) {
	ip, err := ipArg(args)
	if err != nil {
		return nil, err
	}
	rule := map[string]any{
		"action":      "block",
		"interface":   "wan",
		"source":      ip,
		"destination": "any",
		"log":         true,
		"description": fmt.Sprintf("perimeterd: block %s", ip),
	}
	created, err := deps.Gateway.Execute(ctx, "firewall.rule.create", rule)
	if err != nil {
		return nil, err
	}
	return applyAndReport(ctx, deps, map[string]any{
		"ip_address": ip,
		"rule":       map[string]any(created),
	})
}

func unblockIP(ctx context.Context, deps Deps, args map[string]any) (map[string]any, error) {
	ip, err := ipArg(args)
	if err != nil {
		return nil, err
	}
	res, err := deps.Gateway.Execute(ctx, "firewall.rules.get", nil)
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, rule := range ruleList(res) {
		if entryString(rule, "source") != ip {
			continue
		}
		if action := entryString(rule, "action", "type"); action != "block" && action != "reject" {
			continue
		}
		id := entryString(rule, "id", "tracker")
		if id == "" {
			continue
		}
		if _, err := deps.Gateway.Execute(ctx, "firewall.rule.delete", map[string]any{"id": id}); err != nil {
			return nil, err
		}
		removed = append(removed, id)
	}
	if len(removed) == 0 {
		return map[string]any{"ip_address": ip, "found": false}, nil
	}
	return applyAndReport(ctx, deps, map[string]any{
		"ip_address": ip,
		"found":      true,
		"removed":    len(removed),
	})
}

func createFirewallRule(ctx context.Context, deps Deps, args map[string]any) (map[string]any, error) {
	action, _ := args["action"].(string)
	switch action {
	case "", "allow":
		action = "pass"
	}
	iface, _ := args["interface"].(string)
	if iface == "" {
		iface = "wan"
	}
	logHits := true
	if v, ok := args["log"].(bool); ok {
		logHits = v
	}
	rule := map[string]any{
		"action":      action,
		"interface":   iface,
		"source":      args["source"],
		"destination": args["destination"],
		"log":         logHits,
	}
	for _, key := range []string{"protocol", "port", "description"} {
		if v, ok := args[key]; ok {
			rule[key] = v
		}
	}
	created, err := deps.Gateway.Execute(ctx, "firewall.rule.create", rule)
	if err != nil {
		return nil, err
	}
	return applyAndReport(ctx, deps, map[string]any{
		"rule": map[string]any(created),
	})
}

// applyAndReport reloads the ruleset. A failed reload after a successful
// change is reported as a partial result rather than an error, since the
// change itself landed.
func applyAndReport(ctx context.Context, deps Deps, out map[string]any) (map[string]any, error) {
	if _, err := deps.Gateway.Execute(ctx, "firewall.apply", map[string]any{"apply": true}); err != nil {
		out["applied"] = false
		out["apply_error"] = err.Error()
		return out, nil
	}
	out["applied"] = true
	return out, nil
}

func ipArg(args map[string]any) (string, error) {
	raw, _ := args["ip_address"].(string)
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return "", perrs.New(perrs.CodeInvalidParams, fmt.Sprintf("%q is not a valid IP address", raw))
	}
	return addr.String(), nil
}
