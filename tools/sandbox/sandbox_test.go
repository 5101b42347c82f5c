package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	superagent "github.com/superagent-core/superagent"
)

// fakeRunner records the request and returns a canned result.
type fakeRunner struct {
	req superagent.CodeRequest
	res superagent.CodeResult
	err error
}

func (f *fakeRunner) Run(ctx context.Context, req superagent.CodeRequest, dispatch superagent.DispatchFunc) (superagent.CodeResult, error) {
	f.req = req
	return f.res, f.err
}

func TestExecutePassesRequest(t *testing.T) {
	runner := &fakeRunner{res: superagent.CodeResult{Output: "42"}}
	tool := New(runner)

	res, err := tool.Execute(context.Background(), "execute_code",
		json.RawMessage(`{"code":"print(6*7)","runtime":"python","session_id":"s1"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Content != "42" || res.Error != "" {
		t.Errorf("result = %+v", res)
	}
	if runner.req.Code != "print(6*7)" || runner.req.Runtime != "python" || runner.req.SessionID != "s1" {
		t.Errorf("request = %+v", runner.req)
	}
}

func TestExecuteFallsBackToLogs(t *testing.T) {
	runner := &fakeRunner{res: superagent.CodeResult{Logs: "hello\n"}}
	tool := New(runner)

	res, err := tool.Execute(context.Background(), "execute_code", json.RawMessage(`{"code":"print('hello')"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Content != "hello\n" {
		t.Errorf("content = %q", res.Content)
	}
}

func TestExecuteSurfacesRunFailure(t *testing.T) {
	runner := &fakeRunner{res: superagent.CodeResult{
		Error:    "execution timed out after 30s",
		Logs:     "partial output",
		ExitCode: -1,
	}}
	tool := New(runner)

	res, err := tool.Execute(context.Background(), "execute_code", json.RawMessage(`{"code":"while True: pass"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(res.Error, "timed out") || !strings.Contains(res.Error, "partial output") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestExecuteUnknownName(t *testing.T) {
	tool := New(&fakeRunner{})
	_, err := tool.Execute(context.Background(), "other_tool", nil)
	var notFound *superagent.ToolNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want ToolNotFoundError", err)
	}
}
