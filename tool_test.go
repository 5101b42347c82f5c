package superagent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

var echoSchema = json.RawMessage(`{
	"type": "object",
	"properties": {"text": {"type": "string"}},
	"required": ["text"]
}`)

func echoFuncTool() *FuncTool {
	return NewFuncTool("echo", "Echoes text back", echoSchema,
		func(_ context.Context, args json.RawMessage) (ToolResult, error) {
			params, err := DecodeArgs[struct {
				Text string `json:"text"`
			}]("echo", args)
			if err != nil {
				return ToolResult{}, err
			}
			return ToolResult{Content: params.Text}, nil
		})
}

func TestRegistryAddAndDefinitions(t *testing.T) {
	reg := NewToolRegistry()
	if err := reg.Add(echoFuncTool()); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := reg.Add(NewFuncTool("noop", "Does nothing", nil, func(_ context.Context, _ json.RawMessage) (ToolResult, error) {
		return ToolResult{Content: "ok"}, nil
	})); err != nil {
		t.Fatalf("Add: %v", err)
	}

	defs := reg.AllDefinitions()
	if len(defs) != 2 || defs[0].Name != "echo" || defs[1].Name != "noop" {
		t.Errorf("definitions out of registration order: %+v", defs)
	}
	if _, ok := reg.Definition("echo"); !ok {
		t.Error("echo definition missing")
	}
	if _, ok := reg.Definition("absent"); ok {
		t.Error("absent definition should not exist")
	}
}

func TestRegistryAddRejectsEmptyName(t *testing.T) {
	reg := NewToolRegistry()
	err := reg.Add(NewFuncTool("", "nameless", nil, nil))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestRegistryAddRejectsBadSchema(t *testing.T) {
	reg := NewToolRegistry()
	err := reg.Add(NewFuncTool("broken", "bad schema", json.RawMessage(`{"type": 42}`), nil))
	var terr *ToolValidationError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v, want ToolValidationError", err)
	}
}

func TestRegistryValidate(t *testing.T) {
	reg := NewToolRegistry()
	if err := reg.Add(echoFuncTool()); err != nil {
		t.Fatalf("Add: %v", err)
	}

	tests := []struct {
		name    string
		tool    string
		args    string
		wantErr any
	}{
		{"valid", "echo", `{"text":"hi"}`, nil},
		{"unknown tool", "nope", `{}`, &ToolNotFoundError{}},
		{"missing required", "echo", `{}`, &ToolValidationError{}},
		{"wrong type", "echo", `{"text": 7}`, &ToolValidationError{}},
		{"not json", "echo", `{broken`, &ToolValidationError{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.Validate(tt.tool, json.RawMessage(tt.args))
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			switch tt.wantErr.(type) {
			case *ToolNotFoundError:
				var e *ToolNotFoundError
				if !errors.As(err, &e) {
					t.Errorf("err = %v, want ToolNotFoundError", err)
				}
			case *ToolValidationError:
				var e *ToolValidationError
				if !errors.As(err, &e) {
					t.Errorf("err = %v, want ToolValidationError", err)
				}
			}
		})
	}
}

func TestRegistryExecute(t *testing.T) {
	reg := NewToolRegistry()
	if err := reg.Add(echoFuncTool()); err != nil {
		t.Fatalf("Add: %v", err)
	}

	res, err := reg.Execute(context.Background(), "echo", json.RawMessage(`{"text":"hello"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Content != "hello" {
		t.Errorf("content = %q", res.Content)
	}
}

func TestRegistryExecuteToolFailure(t *testing.T) {
	reg := NewToolRegistry()
	reg.Add(NewFuncTool("failing", "Always fails", nil,
		func(_ context.Context, _ json.RawMessage) (ToolResult, error) {
			return ToolResult{Error: "disk on fire"}, nil
		}))

	// Tool-reported failures come back in the result, not as a Go error.
	res, err := reg.Execute(context.Background(), "failing", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Error != "disk on fire" {
		t.Errorf("result error = %q", res.Error)
	}
}

func TestRegistryReregisterReplaces(t *testing.T) {
	reg := NewToolRegistry()
	reg.Add(NewFuncTool("greet", "v1", nil, func(_ context.Context, _ json.RawMessage) (ToolResult, error) {
		return ToolResult{Content: "v1"}, nil
	}))
	reg.Add(NewFuncTool("greet", "v2", nil, func(_ context.Context, _ json.RawMessage) (ToolResult, error) {
		return ToolResult{Content: "v2"}, nil
	}))

	if defs := reg.AllDefinitions(); len(defs) != 1 || defs[0].Description != "v2" {
		t.Errorf("definitions = %+v, want single v2 entry", defs)
	}
	res, err := reg.Execute(context.Background(), "greet", nil)
	if err != nil || res.Content != "v2" {
		t.Errorf("Execute = %+v, %v", res, err)
	}
}

func TestFuncToolRejectsForeignName(t *testing.T) {
	tool := echoFuncTool()
	_, err := tool.Execute(context.Background(), "other", nil)
	var e *ToolNotFoundError
	if !errors.As(err, &e) {
		t.Errorf("err = %v, want ToolNotFoundError", err)
	}
}

func TestDecodeArgs(t *testing.T) {
	type params struct {
		Path string `json:"path"`
	}
	got, err := DecodeArgs[params]("t", json.RawMessage(`{"path":"/tmp/x"}`))
	if err != nil || got.Path != "/tmp/x" {
		t.Errorf("DecodeArgs = %+v, %v", got, err)
	}
	if _, err := DecodeArgs[params]("t", json.RawMessage(`nope`)); err == nil {
		t.Error("expected decode error")
	}
	empty, err := DecodeArgs[params]("t", nil)
	if err != nil || empty.Path != "" {
		t.Errorf("empty args should decode to zero value, got %+v, %v", empty, err)
	}
}
