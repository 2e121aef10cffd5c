package gateway

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/xml"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/perimeterd/perimeterd/internal/platform/timeouts"
)

// XMLRPCConfig carries the settings for the XML-RPC transport.
type XMLRPCConfig struct {
	BaseURL    string
	Username   string
	Password   string
	SkipVerify bool
}

// XMLRPCStrategy talks to the appliance's legacy XML-RPC endpoint. Every call
// carries the credentials as the leading two parameters, followed by an
// optional struct of command parameters.
type XMLRPCStrategy struct {
	cfg    XMLRPCConfig
	client *http.Client
}

// NewXMLRPCStrategy builds an XML-RPC transport from cfg.
func NewXMLRPCStrategy(cfg XMLRPCConfig) *XMLRPCStrategy {
	transport := http.DefaultTransport
	if cfg.SkipVerify {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return &XMLRPCStrategy{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   timeouts.ApplianceRequest,
		},
	}
}

// Name implements Strategy.
func (s *XMLRPCStrategy) Name() string { return "xmlrpc" }

// Execute implements Strategy.
func (s *XMLRPCStrategy) Execute(ctx context.Context, command string, params map[string]any) (Result, error) {
	call := methodCall{MethodName: command}
	call.Params = []xmlParam{
		{Value: stringValue(s.cfg.Username)},
		{Value: stringValue(s.cfg.Password)},
	}
	if len(params) > 0 {
		v, err := encodeValue(params)
		if err != nil {
			return nil, &TransportError{Kind: KindMalformed, Detail: "encode call parameters", Cause: err}
		}
		call.Params = append(call.Params, xmlParam{Value: v})
	}

	payload, err := xml.Marshal(call)
	if err != nil {
		return nil, &TransportError{Kind: KindMalformed, Detail: "encode method call", Cause: err}
	}
	payload = append([]byte(xml.Header), payload...)

	url := strings.TrimRight(s.cfg.BaseURL, "/") + "/xmlrpc.php"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &TransportError{Kind: KindUnreachable, Detail: "build request", Cause: err}
	}
	req.Header.Set("Content-Type", "text/xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &TransportError{Kind: KindUnreachable, Detail: "appliance request failed", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &TransportError{Kind: KindUnauthorized, Detail: "credentials rejected", Status: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{Kind: KindUnreachable, Detail: "appliance returned failure status", Status: resp.StatusCode}
	}

	var reply methodResponse
	if err := xml.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, &TransportError{Kind: KindMalformed, Detail: "undecodable method response", Cause: err}
	}
	if reply.Fault != nil {
		detail := "appliance fault"
		if m, ok := decodeValue(reply.Fault.Value).(map[string]any); ok {
			if s, ok := m["faultString"].(string); ok {
				detail = s
			}
		}
		return nil, &TransportError{Kind: KindMalformed, Detail: detail}
	}
	if len(reply.Params) == 0 {
		return Result{}, nil
	}
	decoded := decodeValue(reply.Params[0].Value)
	if m, ok := decoded.(map[string]any); ok {
		return Result(m), nil
	}
	return Result{"data": decoded}, nil
}

type methodCall struct {
	XMLName    xml.Name   `xml:"methodCall"`
	MethodName string     `xml:"methodName"`
	Params     []xmlParam `xml:"params>param"`
}

type methodResponse struct {
	XMLName xml.Name   `xml:"methodResponse"`
	Params  []xmlParam `xml:"params>param"`
	Fault   *xmlFault  `xml:"fault"`
}

type xmlFault struct {
	Value xmlValue `xml:"value"`
}

type xmlParam struct {
	Value xmlValue `xml:"value"`
}

type xmlValue struct {
	Raw     string     `xml:",chardata"`
	String  *string    `xml:"string"`
	Int     *int64     `xml:"int"`
	I4      *int64     `xml:"i4"`
	Boolean *string    `xml:"boolean"`
	Double  *float64   `xml:"double"`
	Struct  *xmlStruct `xml:"struct"`
	Array   *xmlArray  `xml:"array"`
}

type xmlStruct struct {
	Members []xmlMember `xml:"member"`
}

type xmlMember struct {
	Name  string   `xml:"name"`
	Value xmlValue `xml:"value"`
}

type xmlArray struct {
	Values []xmlValue `xml:"data>value"`
}

func stringValue(s string) xmlValue {
	return xmlValue{String: &s}
}

func encodeValue(v any) (xmlValue, error) {
	switch t := v.(type) {
	case string:
		return stringValue(t), nil
	case bool:
		b := "0"
		if t {
			b = "1"
		}
		return xmlValue{Boolean: &b}, nil
	case int:
		n := int64(t)
		return xmlValue{Int: &n}, nil
	case int64:
		return xmlValue{Int: &t}, nil
	case float64:
		if t == float64(int64(t)) {
			n := int64(t)
			return xmlValue{Int: &n}, nil
		}
		return xmlValue{Double: &t}, nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		st := &xmlStruct{}
		for _, k := range keys {
			mv, err := encodeValue(t[k])
			if err != nil {
				return xmlValue{}, err
			}
			st.Members = append(st.Members, xmlMember{Name: k, Value: mv})
		}
		return xmlValue{Struct: st}, nil
	case []any:
		arr := &xmlArray{}
		for _, e := range t {
			ev, err := encodeValue(e)
			if err != nil {
				return xmlValue{}, err
			}
			arr.Values = append(arr.Values, ev)
		}
		return xmlValue{Array: arr}, nil
	case nil:
		empty := ""
		return xmlValue{String: &empty}, nil
	default:
		return xmlValue{}, fmt.Errorf("unsupported parameter type %T", v)
	}
}

func decodeValue(v xmlValue) any {
	switch {
	case v.Struct != nil:
		m := make(map[string]any, len(v.Struct.Members))
		for _, member := range v.Struct.Members {
			m[member.Name] = decodeValue(member.Value)
		}
		return m
	case v.Array != nil:
		out := make([]any, 0, len(v.Array.Values))
		for _, e := range v.Array.Values {
			out = append(out, decodeValue(e))
		}
		return out
	case v.String != nil:
		return *v.String
	case v.Int != nil:
		return *v.Int
	case v.I4 != nil:
		return *v.I4
	case v.Boolean != nil:
		return strings.TrimSpace(*v.Boolean) == "1"
	case v.Double != nil:
		return *v.Double
	default:
		// Untyped values are strings per the XML-RPC spec.
		return strings.TrimSpace(v.Raw)
	}
}
