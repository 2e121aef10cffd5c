package dispatch

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/perimeterd/perimeterd/internal/access"
)

func newHTTPFixture(t *testing.T, apiToken string) (*httptest.Server, *fixture) {
	t.Helper()
	f := newFixture(t, access.ReadOnly)
	server := NewHTTPServer("127.0.0.1:0", apiToken, f.dispatcher, log.New(io.Discard, "", 0))
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return srv, f
}

func postRPC(t *testing.T, url, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/rpc", strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHTTPHealthz(t *testing.T) {
	srv, _ := newHTTPFixture(t, "")
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"ok"`) {
		t.Errorf("body = %q", body)
	}
}

func TestHTTPRPCRoundTrip(t *testing.T) {
	srv, _ := newHTTPFixture(t, "")
	resp := postRPC(t, srv.URL, "", `{"jsonrpc":"2.0","method":"call-operation","params":{"name":"system_status"},"id":1}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var envelope Response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Error != nil {
		t.Fatalf("error = %+v", envelope.Error)
	}
	if string(envelope.ID) != "1" {
		t.Errorf("id = %s, want 1", envelope.ID)
	}
}

func TestHTTPRPCRequiresPost(t *testing.T) {
	srv, _ := newHTTPFixture(t, "")
	resp, err := http.Get(srv.URL + "/rpc")
	if err != nil {
		t.Fatalf("get rpc: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestHTTPRPCBearerToken(t *testing.T) {
	srv, f := newHTTPFixture(t, "sekrit")

	denied := postRPC(t, srv.URL, "", `{"jsonrpc":"2.0","method":"initialize","id":1}`)
	if denied.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 without token", denied.StatusCode)
	}
	if got := denied.Header.Get("WWW-Authenticate"); !strings.HasPrefix(got, "Bearer") {
		t.Errorf("WWW-Authenticate = %q", got)
	}

	wrong := postRPC(t, srv.URL, "other", `{"jsonrpc":"2.0","method":"initialize","id":1}`)
	if wrong.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 with wrong token", wrong.StatusCode)
	}
	if len(f.strategy.commands) != 0 {
		t.Errorf("transport commands = %v, want none before auth", f.strategy.commands)
	}

	ok := postRPC(t, srv.URL, "sekrit", `{"jsonrpc":"2.0","method":"initialize","id":1}`)
	if ok.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 with token", ok.StatusCode)
	}
}

func TestHTTPRPCParseError(t *testing.T) {
	srv, _ := newHTTPFixture(t, "")
	resp := postRPC(t, srv.URL, "", `{oops`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 with JSON-RPC error body", resp.StatusCode)
	}
	var envelope Response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Error == nil || envelope.Error.Code != codeParseError {
		t.Errorf("error = %+v, want parse error", envelope.Error)
	}
}
