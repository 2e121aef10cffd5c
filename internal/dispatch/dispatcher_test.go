package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/perimeterd/perimeterd/internal/access"
	"github.com/perimeterd/perimeterd/internal/audit"
	"github.com/perimeterd/perimeterd/internal/gateway"
	"github.com/perimeterd/perimeterd/internal/ops"
)

// recordingStrategy answers every command from a canned table and counts
// what reached the transport.
type recordingStrategy struct {
	responses map[string]gateway.Result
	commands  []string
}

func (s *recordingStrategy) Name() string { return "rest" }

func (s *recordingStrategy) Execute(_ context.Context, command string, _ map[string]any) (gateway.Result, error) {
	s.commands = append(s.commands, command)
	if res, ok := s.responses[command]; ok {
		return res, nil
	}
	return gateway.Result{}, nil
}

type fixture struct {
	dispatcher *Dispatcher
	strategy   *recordingStrategy
	audits     *audit.Store
}

func newFixture(t *testing.T, level access.Level) *fixture {
	t.Helper()
	strategy := &recordingStrategy{responses: map[string]gateway.Result{
		"system.status": {"status": "ok"},
	}}
	logger := log.New(io.Discard, "", 0)
	store, err := audit.Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("open audit store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	gw := gateway.New(strategy, gateway.NewCache(time.Minute), nil, logger)
	d := New(ops.Default(), gw, store, StaticResolver{CallerID: "tester", Level: level}, logger)
	return &fixture{dispatcher: d, strategy: strategy, audits: store}
}

func request(t *testing.T, method string, params any, id string) []byte {
	t.Helper()
	req := map[string]any{"jsonrpc": "2.0", "method": method}
	if params != nil {
		req["params"] = params
	}
	if id != "" {
		req["id"] = json.RawMessage(id)
	}
	raw, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return raw
}

func TestHandleParseError(t *testing.T) {
	f := newFixture(t, access.ReadOnly)
	resp := f.dispatcher.Handle(context.Background(), []byte("{not json"), "")
	if resp.Error == nil || resp.Error.Code != codeParseError {
		t.Fatalf("error = %+v, want parse error", resp.Error)
	}
	if resp.ID != nil {
		t.Errorf("id = %s, want null", resp.ID)
	}
}

func TestHandleInvalidRequest(t *testing.T) {
	f := newFixture(t, access.ReadOnly)
	tests := []struct {
		name string
		raw  string
	}{
		{name: "wrong version", raw: `{"jsonrpc":"1.0","method":"initialize","id":7}`},
		{name: "missing method", raw: `{"jsonrpc":"2.0","id":7}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.dispatcher.Handle(context.Background(), []byte(tt.raw), "")
			if resp.Error == nil || resp.Error.Code != codeInvalidRequest {
				t.Fatalf("error = %+v, want invalid request", resp.Error)
			}
			if string(resp.ID) != "7" {
				t.Errorf("id = %s, want 7 echoed", resp.ID)
			}
		})
	}
}

func TestHandleMethodNotFound(t *testing.T) {
	f := newFixture(t, access.ReadOnly)
	resp := f.dispatcher.Handle(context.Background(), request(t, "no-such-method", nil, `"abc"`), "")
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("error = %+v, want method not found", resp.Error)
	}
	if string(resp.ID) != `"abc"` {
		t.Errorf("id = %s, want string id echoed", resp.ID)
	}
}

func TestInitialize(t *testing.T) {
	f := newFixture(t, access.ComplianceRead)
	resp := f.dispatcher.Handle(context.Background(), request(t, "initialize", nil, "1"), "")
	if resp.Error != nil {
		t.Fatalf("error = %+v", resp.Error)
	}
	result := resp.Result.(map[string]any)
	if result["transport"] != "rest" {
		t.Errorf("transport = %v, want rest", result["transport"])
	}
	if result["appliance_reachable"] != true {
		t.Errorf("appliance_reachable = %v, want true", result["appliance_reachable"])
	}
	caller := result["caller"].(map[string]any)
	if caller["id"] != "tester" || caller["level"] != "COMPLIANCE_READ" {
		t.Errorf("caller = %v", caller)
	}
	allowed := result["allowed_operations"].([]string)
	if len(allowed) == 0 {
		t.Error("allowed_operations empty")
	}
}

func TestListOperationsFiltersByLevel(t *testing.T) {
	f := newFixture(t, access.ReadOnly)
	resp := f.dispatcher.Handle(context.Background(), request(t, "list-operations", nil, "2"), "")
	if resp.Error != nil {
		t.Fatalf("error = %+v", resp.Error)
	}
	result := resp.Result.(map[string]any)
	operations := result["operations"].([]map[string]any)
	for _, op := range operations {
		switch op["name"] {
		case "block_ip", "emergency_block_all", "run_compliance_check":
			t.Errorf("READ_ONLY listing includes %v", op["name"])
		}
	}
	if result["level"] != "READ_ONLY" {
		t.Errorf("level = %v", result["level"])
	}
}

func TestCallOperationSuccess(t *testing.T) {
	f := newFixture(t, access.ReadOnly)
	params := map[string]any{"name": "system_status"}
	resp := f.dispatcher.Handle(context.Background(), request(t, "call-operation", params, "3"), "")
	if resp.Error != nil {
		t.Fatalf("error = %+v", resp.Error)
	}
	result := resp.Result.(map[string]any)
	if result["status"] != "ok" {
		t.Errorf("result = %v", result)
	}
	if string(resp.ID) != "3" {
		t.Errorf("id = %s, want 3", resp.ID)
	}

	entries, err := f.audits.List(context.Background(), audit.Filter{})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 1 || entries[0].Outcome != audit.OutcomeOK || entries[0].Operation != "system_status" {
		t.Errorf("audit entries = %+v, want one ok record", entries)
	}
}

func TestCallOperationPermissionDenied(t *testing.T) {
	f := newFixture(t, access.ReadOnly)
	params := map[string]any{"name": "block_ip", "arguments": map[string]any{"ip_address": "203.0.113.9"}}
	resp := f.dispatcher.Handle(context.Background(), request(t, "call-operation", params, "4"), "")

	if resp.Error == nil || resp.Error.Code != codeServerError {
		t.Fatalf("error = %+v, want permission denied", resp.Error)
	}
	if string(resp.ID) != "4" {
		t.Errorf("id = %s, want 4 echoed on denial", resp.ID)
	}
	if len(f.strategy.commands) != 0 {
		t.Errorf("transport commands = %v, want none on denial", f.strategy.commands)
	}

	entries, err := f.audits.List(context.Background(), audit.Filter{Outcome: audit.OutcomeDenied})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 1 || entries[0].Operation != "block_ip" || entries[0].Caller != "tester" {
		t.Errorf("audit entries = %+v, want one denied record", entries)
	}
}

func TestCallOperationInvalidParams(t *testing.T) {
	f := newFixture(t, access.SecurityWrite)
	params := map[string]any{"name": "block_ip", "arguments": map[string]any{}}
	resp := f.dispatcher.Handle(context.Background(), request(t, "call-operation", params, "5"), "")
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("error = %+v, want invalid params", resp.Error)
	}
	if len(f.strategy.commands) != 0 {
		t.Errorf("transport commands = %v, want none on invalid args", f.strategy.commands)
	}
}

func TestCallOperationUnknownName(t *testing.T) {
	f := newFixture(t, access.EmergencyWrite)
	params := map[string]any{"name": "reboot_everything"}
	resp := f.dispatcher.Handle(context.Background(), request(t, "call-operation", params, "6"), "")
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("error = %+v, want unknown operation", resp.Error)
	}
}

func TestCallOperationMissingName(t *testing.T) {
	f := newFixture(t, access.ReadOnly)
	resp := f.dispatcher.Handle(context.Background(), request(t, "call-operation", map[string]any{}, "7"), "")
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("error = %+v, want invalid params", resp.Error)
	}
}

func TestResolveIntentExecutes(t *testing.T) {
	f := newFixture(t, access.ReadOnly)
	params := map[string]any{"text": "show system status"}
	resp := f.dispatcher.Handle(context.Background(), request(t, "resolve-intent", params, "8"), "")
	if resp.Error != nil {
		t.Fatalf("error = %+v", resp.Error)
	}
	result := resp.Result.(map[string]any)
	if result["operation"] != "system_status" || result["category"] != "monitoring" {
		t.Errorf("resolution = %v", result)
	}
	inner := result["result"].(map[string]any)
	if inner["status"] != "ok" {
		t.Errorf("inner result = %v", inner)
	}
}

func TestResolveIntentHonorsPermissions(t *testing.T) {
	f := newFixture(t, access.ReadOnly)
	params := map[string]any{"text": "block ip 203.0.113.9"}
	resp := f.dispatcher.Handle(context.Background(), request(t, "resolve-intent", params, "9"), "")
	if resp.Error == nil || resp.Error.Code != codeServerError {
		t.Fatalf("error = %+v, want permission denied", resp.Error)
	}
	if len(f.strategy.commands) != 0 {
		t.Errorf("transport commands = %v, want none", f.strategy.commands)
	}
}

func TestResolveIntentFallsBackToHelp(t *testing.T) {
	f := newFixture(t, access.ReadOnly)
	params := map[string]any{"text": "xyz"}
	resp := f.dispatcher.Handle(context.Background(), request(t, "resolve-intent", params, "10"), "")
	if resp.Error != nil {
		t.Fatalf("error = %+v", resp.Error)
	}
	result := resp.Result.(map[string]any)
	if result["operation"] != "help" {
		t.Errorf("operation = %v, want help", result["operation"])
	}
}

func TestAliasesRouteToSameMethods(t *testing.T) {
	aliases := map[string]string{
		"tools/list":      "list-operations",
		"prompts/process": "resolve-intent",
	}
	for alias, canonical := range aliases {
		t.Run(alias, func(t *testing.T) {
			f := newFixture(t, access.ReadOnly)
			params := map[string]any{"text": "show system status"}
			got := f.dispatcher.Handle(context.Background(), request(t, alias, params, "11"), "")
			want := f.dispatcher.Handle(context.Background(), request(t, canonical, params, "11"), "")
			if (got.Error == nil) != (want.Error == nil) {
				t.Fatalf("alias %s diverged: got %+v, want %+v", alias, got.Error, want.Error)
			}
		})
	}
}

func TestToolsCallAlias(t *testing.T) {
	f := newFixture(t, access.ReadOnly)
	params := map[string]any{"name": "system_status"}
	resp := f.dispatcher.Handle(context.Background(), request(t, "tools/call", params, "12"), "")
	if resp.Error != nil {
		t.Fatalf("error = %+v", resp.Error)
	}
	if resp.Result.(map[string]any)["status"] != "ok" {
		t.Errorf("result = %v", resp.Result)
	}
}

func TestDispatchRejectsBadToken(t *testing.T) {
	strategy := &recordingStrategy{}
	logger := log.New(io.Discard, "", 0)
	gw := gateway.New(strategy, nil, nil, logger)
	d := New(ops.Default(), gw, nil, TokenResolver{Secret: testSecret}, logger)

	resp := d.Handle(context.Background(), request(t, "initialize", nil, "13"), "bogus")
	if resp.Error == nil || resp.Error.Code != codeServerError {
		t.Fatalf("error = %+v, want context rejection", resp.Error)
	}
	if string(resp.ID) != "13" {
		t.Errorf("id = %s, want 13 echoed", resp.ID)
	}
	if len(strategy.commands) != 0 {
		t.Errorf("transport commands = %v, want none", strategy.commands)
	}
}

func TestDispatchAcceptsSignedToken(t *testing.T) {
	strategy := &recordingStrategy{responses: map[string]gateway.Result{
		"system.status": {"status": "ok"},
	}}
	logger := log.New(io.Discard, "", 0)
	gw := gateway.New(strategy, nil, nil, logger)
	d := New(ops.Default(), gw, nil, TokenResolver{Secret: testSecret}, logger)

	token := signToken(t, testSecret, validClaims())
	resp := d.Handle(context.Background(), request(t, "initialize", nil, "14"), token)
	if resp.Error != nil {
		t.Fatalf("error = %+v", resp.Error)
	}
	caller := resp.Result.(map[string]any)["caller"].(map[string]any)
	if caller["id"] != "analyst" || caller["level"] != "SECURITY_WRITE" {
		t.Errorf("caller = %v", caller)
	}
}
