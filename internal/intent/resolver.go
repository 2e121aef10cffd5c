// Package intent maps free-form operator text to a gateway operation and its
// arguments, using ordered regular-expression categories with a keyword
// fallback.
package intent

import "regexp"

// Resolution is the outcome of resolving one line of operator text.
type Resolution struct {
	Operation string
	Arguments map[string]any
	Category  string
}

type pattern struct {
	re        *regexp.Regexp
	operation string
	extract   func(groups []string) map[string]any
}

type category struct {
	name     string
	patterns []pattern
}

// Resolver matches text against its categories in a fixed order, so a phrase
// that fits both a monitoring and a security pattern always resolves the
// same way.
type Resolver struct {
	categories []category
}

// NewResolver builds the stock resolver.
func NewResolver() *Resolver {
	return &Resolver{categories: []category{
		{name: "monitoring", patterns: []pattern{
			{re: regexp.MustCompile(`(?i)(?:show|get|display)\s+(?:system\s+)?status`), operation: "system_status"},
			{re: regexp.MustCompile(`(?i)(?:show|list|get)\s+interfaces?`), operation: "list_interfaces"},
			{re: regexp.MustCompile(`(?i)(?:show|get|list)\s+(?:firewall\s+)?rules`), operation: "get_firewall_rules"},
			{re: regexp.MustCompile(`(?i)(?:show|list)\s+blocked\s+(?:ips?|addresses)`), operation: "show_blocked_ips"},
			{re: regexp.MustCompile(`(?i)(?:analyze|check|scan)(?:\s+for)?\s+threats?`), operation: "analyze_threats"},
			{re: regexp.MustCompile(`(?i)(?:show|get|view)\s+(?:firewall\s+)?logs?`), operation: "get_logs"},
		}},
		{name: "security_write", patterns: []pattern{
			{re: regexp.MustCompile(`(?i)\bunblock\s+(?:ip\s+)?(\d{1,3}(?:\.\d{1,3}){3})`), operation: "unblock_ip", extract: extractIP},
			{re: regexp.MustCompile(`(?i)\bblock\s+(?:ip\s+)?(\d{1,3}(?:\.\d{1,3}){3})`), operation: "block_ip", extract: extractIP},
			{re: regexp.MustCompile(`(?i)(?:create|add)\s+(?:firewall\s+)?rule\s+(?:from\s+)?(\S+)\s+to\s+(\S+)`), operation: "create_firewall_rule", extract: extractRule},
			{re: regexp.MustCompile(`(?i)\bblock\s+(?:traffic\s+)?from\s+(\S+)`), operation: "block_ip", extract: extractSource},
		}},
		{name: "compliance", patterns: []pattern{
			{re: regexp.MustCompile(`(?i)(?:run|start|perform)\s+compliance\s+(?:check|scan|audit)`), operation: "run_compliance_check"},
			{re: regexp.MustCompile(`(?i)(?:generate|create)\s+(?:an?\s+)?audit\s+report`), operation: "generate_audit_report"},
		}},
		{name: "emergency", patterns: []pattern{
			{re: regexp.MustCompile(`(?i)emergency\s+block\s+(?:all|everything)`), operation: "emergency_block_all"},
			{re: regexp.MustCompile(`(?i)(?:\bblock\s+all|lock\s*down)\s+(?:external\s+)?(?:traffic|access)?`), operation: "emergency_block_all"},
			{re: regexp.MustCompile(`(?i)(?:activate|enable|start)\s+incident\s+(?:mode|response)`), operation: "activate_incident_mode"},
			{re: regexp.MustCompile(`(?i)isolate\s+(?:network\s+)?(\S+)`), operation: "emergency_block_all", extract: extractNetwork},
		}},
	}}
}

// Resolve maps text to an operation. Unmatched text falls back to keyword
// heuristics and finally to the help operation, so resolution never fails.
func (r *Resolver) Resolve(text string) Resolution {
	for _, cat := range r.categories {
		for _, p := range cat.patterns {
			groups := p.re.FindStringSubmatch(text)
			if groups == nil {
				continue
			}
			args := map[string]any{}
			if p.extract != nil {
				args = p.extract(groups)
			}
			return Resolution{Operation: p.operation, Arguments: args, Category: cat.name}
		}
	}
	if keywordFallback.MatchString(text) {
		return Resolution{Operation: "system_status", Arguments: map[string]any{}, Category: "monitoring"}
	}
	return Resolution{Operation: "help", Arguments: map[string]any{}, Category: "fallback"}
}

var keywordFallback = regexp.MustCompile(`(?i)\b(?:status|health|info)\b`)

func extractIP(groups []string) map[string]any {
	return map[string]any{"ip_address": groups[1]}
}

func extractSource(groups []string) map[string]any {
	return map[string]any{"ip_address": groups[1]}
}

func extractRule(groups []string) map[string]any {
	return map[string]any{
		"source":      groups[1],
		"destination": groups[2],
		"action":      "allow",
	}
}

func extractNetwork(groups []string) map[string]any {
	return map[string]any{"network": groups[1]}
}
