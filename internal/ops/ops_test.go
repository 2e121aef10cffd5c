package ops

import (
	"context"
	"io"
	"log"
	"testing"

	"github.com/perimeterd/perimeterd/internal/gateway"
)

// scriptedStrategy answers commands from a canned table and records every
// call that reaches the transport.
type scriptedStrategy struct {
	responses map[string]gateway.Result
	errs      map[string]error
	commands  []string
	params    []map[string]any
}

func (s *scriptedStrategy) Name() string { return "rest" }

func (s *scriptedStrategy) Execute(_ context.Context, command string, params map[string]any) (gateway.Result, error) {
	s.commands = append(s.commands, command)
	s.params = append(s.params, params)
	if err, ok := s.errs[command]; ok {
		return nil, err
	}
	if res, ok := s.responses[command]; ok {
		return res, nil
	}
	return gateway.Result{}, nil
}

func testDeps(t *testing.T, strategy *scriptedStrategy) Deps {
	t.Helper()
	return Deps{
		Gateway:  gateway.New(strategy, nil, nil, log.New(io.Discard, "", 0)),
		Registry: Default(),
	}
}

func entries(items ...map[string]any) []any {
	out := make([]any, 0, len(items))
	for _, e := range items {
		out = append(out, e)
	}
	return out
}
