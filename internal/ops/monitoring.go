package ops

import (
	"context"
	"sort"

	"github.com/perimeterd/perimeterd/internal/access"
	"github.com/perimeterd/perimeterd/internal/gateway"
)

// Thresholds for classifying traffic patterns in the firewall log.
const (
	portScanPorts     = 20
	bruteForceHits    = 100
	suspiciousBlocks  = 20
	blockedIPsListCap = 20
)

func registerMonitoring(r *Registry) {
	r.Register("system_status", "Appliance health, version and resource usage", access.ReadOnly, "", systemStatus)
	r.Register("list_interfaces", "Network interfaces and their state", access.ReadOnly, "", listInterfaces)
	r.Register("get_firewall_rules", "Configured firewall rules", access.ReadOnly, rulesFilterSchema, getFirewallRules)
	r.Register("get_logs", "Recent firewall log entries", access.ReadOnly, "", getLogs)
	r.Register("show_blocked_ips", "Most frequently blocked source addresses", access.ReadOnly, "", showBlockedIPs)
	r.Register("analyze_threats", "Scan the firewall log for attack patterns", access.ReadOnly, "", analyzeThreats)
}

func systemStatus(ctx context.Context, deps Deps, _ map[string]any) (map[string]any, error) {
	res, err := deps.Gateway.Execute(ctx, "system.status", nil)
	return res, err
}

func listInterfaces(ctx context.Context, deps Deps, _ map[string]any) (map[string]any, error) {
	res, err := deps.Gateway.Execute(ctx, "interface.list", nil)
	return res, err
}

const rulesFilterSchema = `{
	"type": "object",
	"properties": {
		"interface": {"type": "string"}
	},
	"additionalProperties": false
}`

func getFirewallRules(ctx context.Context, deps Deps, args map[string]any) (map[string]any, error) {
	res, err := deps.Gateway.Execute(ctx, "firewall.rules.get", nil)
	if err != nil {
		return nil, err
	}
	iface, _ := args["interface"].(string)
	if iface == "" {
		return res, nil
	}
	// Filter locally so the unfiltered fetch stays cacheable.
	matched := make([]any, 0)
	for _, rule := range ruleList(res) {
		if entryString(rule, "interface") == iface {
			matched = append(matched, rule)
		}
	}
	return map[string]any{"rules": matched, "interface": iface}, nil
}

func getLogs(ctx context.Context, deps Deps, _ map[string]any) (map[string]any, error) {
	res, err := deps.Gateway.Execute(ctx, "logs.get", nil)
	return res, err
}

func showBlockedIPs(ctx context.Context, deps Deps, _ map[string]any) (map[string]any, error) {
	res, err := deps.Gateway.Execute(ctx, "logs.get", nil)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, entry := range logEntries(res) {
		if action, _ := entry["action"].(string); action != "block" {
			continue
		}
		src := entrySource(entry)
		if src == "" {
			continue
		}
		counts[src]++
	}

	type hit struct {
		ip    string
		count int
	}
	hits := make([]hit, 0, len(counts))
	for ip, n := range counts {
		hits = append(hits, hit{ip: ip, count: n})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].count != hits[j].count {
			return hits[i].count > hits[j].count
		}
		return hits[i].ip < hits[j].ip
	})
	if len(hits) > blockedIPsListCap {
		hits = hits[:blockedIPsListCap]
	}

	blocked := make([]map[string]any, 0, len(hits))
	for _, h := range hits {
		blocked = append(blocked, map[string]any{"ip_address": h.ip, "hits": h.count})
	}
	return map[string]any{
		"blocked_ips":   blocked,
		"total_sources": len(counts),
	}, nil
}

func analyzeThreats(ctx context.Context, deps Deps, _ map[string]any) (map[string]any, error) {
	res, err := deps.Gateway.Execute(ctx, "logs.get", nil)
	if err != nil {
		return nil, err
	}

	ports := make(map[string]map[string]struct{})
	attempts := make(map[string]int)
	blocks := make(map[string]int)
	for _, entry := range logEntries(res) {
		src := entrySource(entry)
		if src == "" {
			continue
		}
		attempts[src]++
		if action, _ := entry["action"].(string); action == "block" {
			blocks[src]++
		}
		if port := entryString(entry, "destination_port", "dstport", "port"); port != "" {
			if ports[src] == nil {
				ports[src] = make(map[string]struct{})
			}
			ports[src][port] = struct{}{}
		}
	}

	sources := make([]string, 0, len(attempts))
	for src := range attempts {
		sources = append(sources, src)
	}
	sort.Strings(sources)

	threats := make([]map[string]any, 0)
	for _, src := range sources {
		if len(ports[src]) > portScanPorts {
			threats = append(threats, map[string]any{
				"type":     "port_scan",
				"source":   src,
				"severity": "high",
				"ports":    len(ports[src]),
			})
		}
		switch {
		case attempts[src] > bruteForceHits:
			threats = append(threats, map[string]any{
				"type":     "brute_force",
				"source":   src,
				"severity": "critical",
				"attempts": attempts[src],
			})
		case blocks[src] > suspiciousBlocks:
			threats = append(threats, map[string]any{
				"type":     "suspicious_activity",
				"source":   src,
				"severity": "medium",
				"blocked":  blocks[src],
			})
		}
	}
	return map[string]any{
		"threats":          threats,
		"sources_analyzed": len(attempts),
	}, nil
}

// logEntries pulls the entry list out of a log response, whichever key the
// transport put it under.
func logEntries(res gateway.Result) []map[string]any {
	for _, key := range []string{"data", "logs", "entries"} {
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

func entrySource(entry map[string]any) string {
	return entryString(entry, "source", "src", "source_ip")
}

func entryString(entry map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := entry[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
