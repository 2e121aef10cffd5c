package ops

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/perimeterd/perimeterd/internal/access"
	"github.com/perimeterd/perimeterd/internal/gateway"
)

func registerCompliance(r *Registry) {
	r.Register("run_compliance_check", "Check firewall rules against PCI-DSS requirements", access.ComplianceRead, "", runComplianceCheck)
	r.Register("generate_audit_report", "Full configuration and compliance snapshot", access.ComplianceRead, "", generateAuditReport)
}

func runComplianceCheck(ctx context.Context, deps Deps, _ map[string]any) (map[string]any, error) {
	res, err := deps.Gateway.Execute(ctx, "firewall.rules.get", nil)
	if err != nil {
		return nil, err
	}
	rules := ruleList(res)

	violations := make([]map[string]any, 0)
	for _, rule := range rules {
		src := entryString(rule, "source")
		dst := entryString(rule, "destination")
		action := entryString(rule, "action", "type")
		port := entryString(rule, "destination_port", "port")

		if isAny(src) && isAny(dst) && action != "block" && action != "reject" {
			violations = append(violations, violation(rule, "1.2.1", "critical",
				"rule permits traffic from any source to any destination"))
		}
		if logged, ok := rule["log"].(bool); !ok || !logged {
			violations = append(violations, violation(rule, "10.2", "warning",
				"rule does not log matched traffic"))
		}
		if port == "23" || port == "21" {
			violations = append(violations, violation(rule, "2.3", "high",
				"rule permits an insecure cleartext protocol"))
		}
	}

	checks := 3 * len(rules)
	score := 100.0
	if checks > 0 {
		score = 100.0 * float64(checks-len(violations)) / float64(checks)
	}
	return map[string]any{
		"framework":     "PCI-DSS",
		"rules_checked": len(rules),
		"violations":    violations,
		"score":         score,
	}, nil
}

func generateAuditReport(ctx context.Context, deps Deps, args map[string]any) (map[string]any, error) {
	status, err := deps.Gateway.Execute(ctx, "system.status", nil)
	if err != nil {
		return nil, err
	}
	rules, err := deps.Gateway.Execute(ctx, "firewall.rules.get", nil)
	if err != nil {
		return nil, err
	}
	compliance, err := runComplianceCheck(ctx, deps, args)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"report_id":      uuid.NewString(),
		"generated_at":   time.Now().UTC().Format(time.RFC3339),
		"system":         map[string]any(status),
		"firewall_rules": map[string]any(rules),
		"compliance":     compliance,
	}, nil
}

func ruleList(res gateway.Result) []map[string]any {
	for _, key := range []string{"data", "rules"} {
		list, ok := res[key].([]any)
		if !ok {
			continue
		}
		out := make([]map[string]any, 0, len(list))
		for _, e := range list {
			if m, ok := e.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func isAny(addr string) bool {
	return addr == "any" || addr == "*" || addr == "0.0.0.0/0"
}

func violation(rule map[string]any, requirement, severity, detail string) map[string]any {
	v := map[string]any{
		"requirement": requirement,
		"severity":    severity,
		"detail":      detail,
	}
	if id := entryString(rule, "id", "tracker"); id != "" {
		v["rule_id"] = id
	}
	if desc := entryString(rule, "description", "descr"); desc != "" {
		v["rule"] = desc
	}
	return v
}
