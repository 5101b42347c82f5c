package sandbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	superagent "github.com/superagent-core/superagent"
)

// Service is the sandbox side of the HTTP protocol: it accepts execution
// requests, runs them through an inner CodeRunner, and bridges tool calls
// back to the caller's callback URL. cmd/sandboxd serves one as a sidecar.
type Service struct {
	runner superagent.CodeRunner
	client *http.Client
	logger *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// ServiceLogger sets the structured logger.
func ServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// ServiceHTTPClient replaces the client used for callback dispatch.
func ServiceHTTPClient(c *http.Client) ServiceOption {
	return func(s *Service) { s.client = c }
}

// NewService creates a service executing requests on runner.
func NewService(runner superagent.CodeRunner, opts ...ServiceOption) *Service {
	s := &Service{
		runner: runner,
		client: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

// Handler returns the service mux: POST /execute and GET /healthz.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(ExecutePath, s.handleExecute)
	mux.HandleFunc(HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "ok")
	})
	return mux
}

func (s *Service) handleExecute(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var wire ExecRequest
	if err := json.NewDecoder(io.LimitReader(req.Body, 50<<20)).Decode(&wire); err != nil {
		http.Error(w, "malformed execution request", http.StatusBadRequest)
		return
	}
	if wire.Code == "" {
		http.Error(w, "code is required", http.StatusBadRequest)
		return
	}

	codeReq := superagent.CodeRequest{
		Code:      wire.Code,
		Runtime:   wire.Runtime,
		SessionID: wire.SessionID,
	}
	if wire.TimeoutSecs > 0 {
		codeReq.Timeout = time.Duration(wire.TimeoutSecs) * time.Second
	}
	for _, f := range wire.Files {
		cf := superagent.CodeFile{Name: f.Name, MIME: f.MIME, URL: f.URL}
		if f.Data != "" {
			decoded, err := base64.StdEncoding.DecodeString(f.Data)
			if err != nil {
				continue
			}
			cf.Data = decoded
		}
		codeReq.Files = append(codeReq.Files, cf)
	}

	s.logger.Info("execution started",
		"execution_id", wire.ExecutionID,
		"runtime", wire.Runtime,
		"code_bytes", len(wire.Code))

	result, err := s.runner.Run(req.Context(), codeReq, s.callbackDispatch(wire))
	if err != nil {
		s.logger.Error("execution failed", "execution_id", wire.ExecutionID, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := ExecResponse{
		Output:   result.Output,
		Logs:     result.Logs,
		ExitCode: result.ExitCode,
		Error:    result.Error,
	}
	for _, f := range result.Files {
		wf := WireFile{Name: f.Name, MIME: f.MIME, URL: f.URL}
		if len(f.Data) > 0 {
			wf.Data = base64.StdEncoding.EncodeToString(f.Data)
		}
		resp.Files = append(resp.Files, wf)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// callbackDispatch bridges tool calls to the requester's callback URL.
// Without a callback URL every tool call reports an error.
func (s *Service) callbackDispatch(wire ExecRequest) superagent.DispatchFunc {
	return func(ctx context.Context, call superagent.ToolCall) superagent.DispatchResult {
		if wire.CallbackURL == "" {
			return superagent.DispatchResult{Content: "no tool bridge configured", IsError: true}
		}
		body, err := json.Marshal(DispatchRequest{
			ExecutionID: wire.ExecutionID,
			CallID:      call.ID,
			Name:        call.Name,
			Args:        call.Args,
		})
		if err != nil {
			return superagent.DispatchResult{Content: err.Error(), IsError: true}
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, wire.CallbackURL, bytes.NewReader(body))
		if err != nil {
			return superagent.DispatchResult{Content: err.Error(), IsError: true}
		}
		httpReq.Header.Set("Content-Type", "application/json")

		httpResp, err := s.client.Do(httpReq)
		if err != nil {
			return superagent.DispatchResult{Content: "callback unreachable: " + err.Error(), IsError: true}
		}
		defer httpResp.Body.Close()

		var dresp DispatchResponse
		if err := json.NewDecoder(io.LimitReader(httpResp.Body, 1<<20)).Decode(&dresp); err != nil {
			return superagent.DispatchResult{Content: "malformed callback response", IsError: true}
		}
		return superagent.DispatchResult{Content: dresp.Content, IsError: dresp.IsError}
	}
}
