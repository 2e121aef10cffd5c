package gateway

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/perimeterd/perimeterd/internal/platform/timeouts"
)

// restEndpoints maps logical commands to stable API paths. Commands outside
// the table fall back to a dot-to-slash path derivation.
var restEndpoints = map[string]string{
	"system.status":        "/api/v1/status/system",
	"firewall.rules.get":   "/api/v1/firewall/rules",
	"firewall.rule.create": "/api/v1/firewall/rules",
	"firewall.apply":       "/api/v1/firewall/apply",
	"interface.list":       "/api/v1/interfaces",
	"logs.get":             "/api/v1/diagnostics/logs/firewall",
}

// RESTConfig carries the settings for the REST transport.
type RESTConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
	// SkipVerify disables TLS certificate verification for appliances
	// running self-signed certificates.
	SkipVerify bool
}

// RESTStrategy talks to the appliance's HTTP API.
type RESTStrategy struct {
	cfg    RESTConfig
	client *http.Client
}

// NewRESTStrategy builds a REST transport from cfg.
func NewRESTStrategy(cfg RESTConfig) *RESTStrategy {
	transport := http.DefaultTransport
	if cfg.SkipVerify {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return &RESTStrategy{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   timeouts.ApplianceRequest,
		},
	}
}

// Name implements Strategy.
func (s *RESTStrategy) Name() string { return "rest" }

// Execute implements Strategy. Reads issue GET, writes issue POST with a JSON
// body.
func (s *RESTStrategy) Execute(ctx context.Context, command string, params map[string]any) (Result, error) {
	url := strings.TrimRight(s.cfg.BaseURL, "/") + endpointFor(command)

	var (
		req *http.Request
		err error
	)
	if len(params) == 0 {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	} else {
		var body []byte
		body, err = json.Marshal(params)
		if err != nil {
			return nil, &TransportError{Kind: KindMalformed, Detail: "encode request body", Cause: err}
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if req != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, &TransportError{Kind: KindUnreachable, Detail: "build request", Cause: err}
	}
	req.Header.Set("Authorization", s.cfg.APIKey+" "+s.cfg.APISecret)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &TransportError{Kind: KindUnreachable, Detail: "appliance request failed", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &TransportError{Kind: KindUnauthorized, Detail: "credentials rejected", Status: resp.StatusCode}
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, &TransportError{Kind: KindNotFound, Detail: fmt.Sprintf("no endpoint for command %q", command), Status: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{Kind: KindUnreachable, Detail: "appliance returned failure status", Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Kind: KindUnreachable, Detail: "read response body", Cause: err}
	}
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, &TransportError{Kind: KindMalformed, Detail: "undecodable response body", Cause: err}
	}
	if m, ok := decoded.(map[string]any); ok {
		return Result(m), nil
	}
	return Result{"data": decoded}, nil
}

func endpointFor(command string) string {
	if path, ok := restEndpoints[command]; ok {
		return path
	}
	return "/api/v1/" + strings.ReplaceAll(command, ".", "/")
}
