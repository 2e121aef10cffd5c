// Package access defines the ordered clearance tiers that govern which
// operations a caller may invoke, and the permission math derived from them.
package access

import (
	"fmt"
	"strings"
	"time"
)

// Level is an ordered clearance tier. Higher ranks inherit every operation
// permitted to lower ranks.
type Level int

const (
	// ReadOnly permits status queries and diagnostics.
	ReadOnly Level = iota
	// ComplianceRead adds compliance scanning and audit reporting.
	ComplianceRead
	// SecurityWrite adds firewall rule changes and IP blocking.
	SecurityWrite
	// AdminWrite adds interface, VPN, and system configuration.
	AdminWrite
	// EmergencyWrite adds incident-response actions.
	EmergencyWrite
)

// Levels lists every level in rank order.
var Levels = []Level{ReadOnly, ComplianceRead, SecurityWrite, AdminWrite, EmergencyWrite}

var levelNames = map[Level]string{
	ReadOnly:       "READ_ONLY",
	ComplianceRead: "COMPLIANCE_READ",
	SecurityWrite:  "SECURITY_WRITE",
	AdminWrite:     "ADMIN_WRITE",
	EmergencyWrite: "EMERGENCY_WRITE",
}

// String returns the canonical upper-snake name of the level.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL_%d", int(l))
}

// Rank returns the level's position in the total order.
func (l Level) Rank() int {
	return int(l)
}

// ParseLevel resolves a level from its canonical name, case-insensitively.
func ParseLevel(name string) (Level, error) {
	needle := strings.ToUpper(strings.TrimSpace(name))
	for level, canonical := range levelNames {
		if canonical == needle {
			return level, nil
		}
	}
	return ReadOnly, fmt.Errorf("unknown access level %q", name)
}

// Check reports whether a caller at level caller may invoke an operation
// requiring level required.
func Check(caller, required Level) bool {
	return caller.Rank() >= required.Rank()
}

// Context identifies an authenticated caller for the duration of one request.
// It is immutable once constructed and never persisted.
type Context struct {
	CallerID string
	Level    Level
	IssuedAt time.Time
	Origin   string
}

// NewContext builds a security context for a caller.
func NewContext(callerID string, level Level, origin string) Context {
	return Context{
		CallerID: callerID,
		Level:    level,
		IssuedAt: time.Now().UTC(),
		Origin:   origin,
	}
}
