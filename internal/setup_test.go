package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"

	otcs "github.com/pneumacap/otcs-mcp-sub000"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zap.DebugLevel),
		Development:      true,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	zap.ReplaceGlobals(logger)

	exitCode := m.Run()

	os.Exit(exitCode)
}

// stubTransport serves canned responses keyed by "METHOD path?query" and
// records every request it receives.
type stubTransport struct {
	mu        sync.Mutex
	responses map[string]string
	errors    map[string]error
	requests  []*otcs.Request
}

func newStubTransport() *stubTransport {
	return &stubTransport{
		responses: make(map[string]string),
		errors:    make(map[string]error),
	}
}

func stubKey(method, path string, query string) string {
	if query == "" {
		return method + " " + path
	}
	return method + " " + path + "?" + query
}

func (s *stubTransport) on(method, path, query, body string) *stubTransport {
	s.responses[stubKey(method, path, query)] = body
	return s
}

func (s *stubTransport) fail(method, path, query string, err error) *stubTransport {
	s.errors[stubKey(method, path, query)] = err
	return s
}

func (s *stubTransport) Do(_ context.Context, req *otcs.Request) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)

	key := stubKey(req.Method, req.Path, req.Query.Encode())
	if err, ok := s.errors[key]; ok {
		return nil, err
	}
	if body, ok := s.responses[key]; ok {
		return json.RawMessage(body), nil
	}
	return nil, otcs.NewRequestError(req.Method, req.Path, 404, fmt.Sprintf("no stub for %s", key))
}

// writes returns the recorded requests that carry a form body.
func (s *stubTransport) writes() []*otcs.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*otcs.Request
	for _, req := range s.requests {
		if req.Form != nil {
			out = append(out, req)
		}
	}
	return out
}

func pairMap(pairs otcs.FlatPairs) map[string]string {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		out[p.Key] = p.Value
	}
	return out
}
