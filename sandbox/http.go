package sandbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	superagent "github.com/superagent-core/superagent"
)

// Wire paths of the sandbox service protocol.
const (
	ExecutePath  = "/execute"
	DispatchPath = "/dispatch"
	HealthPath   = "/healthz"
)

// ExecRequest is the wire format POSTed to the sandbox service.
type ExecRequest struct {
	ExecutionID string     `json:"execution_id"`
	CallbackURL string     `json:"callback_url,omitempty"`
	Code        string     `json:"code"`
	Runtime     string     `json:"runtime"`
	SessionID   string     `json:"session_id,omitempty"`
	TimeoutSecs int        `json:"timeout"`
	Files       []WireFile `json:"files,omitempty"`
}

// ExecResponse is the wire format of one finished execution.
type ExecResponse struct {
	Output   string     `json:"output"`
	Logs     string     `json:"logs"`
	ExitCode int        `json:"exit_code"`
	Error    string     `json:"error,omitempty"`
	Files    []WireFile `json:"files,omitempty"`
}

// WireFile carries a file across the wire, data base64-encoded.
type WireFile struct {
	Name string `json:"name"`
	MIME string `json:"mime,omitempty"`
	Data string `json:"data,omitempty"`
	URL  string `json:"url,omitempty"`
}

// DispatchRequest is a tool call bridged from the sandbox back to the
// runner's callback endpoint.
type DispatchRequest struct {
	ExecutionID string          `json:"execution_id"`
	CallID      string          `json:"call_id"`
	Name        string          `json:"name"`
	Args        json.RawMessage `json:"args,omitempty"`
}

// DispatchResponse is the tool result returned to the sandbox.
type DispatchResponse struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// HTTPRunner executes code by POSTing to a remote sandbox service. Tool
// calls made by the running code come back over HTTP to a callback server
// the runner hosts; each in-flight execution is bound to its dispatch
// function by execution ID.
type HTTPRunner struct {
	baseURL string
	cfg     runnerConfig
	client  *http.Client

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	inflight map[string]inflightExec
}

type inflightExec struct {
	ctx      context.Context
	dispatch superagent.DispatchFunc
}

// compile-time check
var _ superagent.CodeRunner = (*HTTPRunner)(nil)

// NewHTTPRunner creates a runner delegating to the sandbox service at
// baseURL, e.g. "http://sandbox:9000".
func NewHTTPRunner(baseURL string, opts ...Option) *HTTPRunner {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &HTTPRunner{
		baseURL:  strings.TrimRight(baseURL, "/"),
		cfg:      cfg,
		client:   &http.Client{},
		inflight: make(map[string]inflightExec),
	}
}

// Run executes code on the remote service. The callback server starts
// lazily on the first call.
func (r *HTTPRunner) Run(ctx context.Context, req superagent.CodeRequest, dispatch superagent.DispatchFunc) (superagent.CodeResult, error) {
	if err := r.ensureCallback(); err != nil {
		return superagent.CodeResult{}, err
	}

	timeout := r.cfg.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	executionID := superagent.NewID()
	r.bind(executionID, ctx, dispatch)
	defer r.unbind(executionID)

	wire := ExecRequest{
		ExecutionID: executionID,
		CallbackURL: "http://" + r.listener.Addr().String() + DispatchPath,
		Code:        req.Code,
		Runtime:     req.Runtime,
		SessionID:   req.SessionID,
		TimeoutSecs: int(timeout.Seconds()),
	}
	for _, f := range req.Files {
		wf := WireFile{Name: f.Name, MIME: f.MIME, URL: f.URL}
		if len(f.Data) > 0 {
			wf.Data = base64.StdEncoding.EncodeToString(f.Data)
		}
		wire.Files = append(wire.Files, wf)
	}

	resp, err := r.postExecute(ctx, wire)
	if err != nil {
		return superagent.CodeResult{}, fmt.Errorf("sandbox service: %w", err)
	}

	result := superagent.CodeResult{
		Output:   resp.Output,
		Logs:     resp.Logs,
		ExitCode: resp.ExitCode,
		Error:    resp.Error,
	}
	for _, f := range resp.Files {
		cf := superagent.CodeFile{Name: f.Name, MIME: f.MIME, URL: f.URL}
		if f.Data != "" {
			decoded, err := base64.StdEncoding.DecodeString(f.Data)
			if err != nil {
				continue
			}
			cf.Data = decoded
		}
		result.Files = append(result.Files, cf)
	}
	return result, nil
}

// Close shuts down the callback server.
func (r *HTTPRunner) Close() error {
	r.mu.Lock()
	srv := r.server
	r.server = nil
	r.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Close()
}

func (r *HTTPRunner) postExecute(ctx context.Context, wire ExecRequest) (ExecResponse, error) {
	body, err := json.Marshal(wire)
	if err != nil {
		return ExecResponse{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+ExecutePath, bytes.NewReader(body))
	if err != nil {
		return ExecResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return ExecResponse{}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 50<<20))
	if err != nil {
		return ExecResponse{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return ExecResponse{}, fmt.Errorf("status %d: %s", resp.StatusCode, respBody)
	}
	var out ExecResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return ExecResponse{}, fmt.Errorf("parse response: %w", err)
	}
	return out, nil
}

// ensureCallback starts the callback server once.
func (r *HTTPRunner) ensureCallback() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", r.cfg.callbackAddr)
	if err != nil {
		return fmt.Errorf("callback listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc(DispatchPath, r.handleDispatch)
	srv := &http.Server{Handler: mux}
	go srv.Serve(ln)
	r.listener = ln
	r.server = srv
	return nil
}

func (r *HTTPRunner) bind(id string, ctx context.Context, dispatch superagent.DispatchFunc) {
	r.mu.Lock()
	r.inflight[id] = inflightExec{ctx: ctx, dispatch: dispatch}
	r.mu.Unlock()
}

func (r *HTTPRunner) unbind(id string) {
	r.mu.Lock()
	delete(r.inflight, id)
	r.mu.Unlock()
}

// handleDispatch bridges one tool call from the sandbox to the dispatch
// function of its execution. Unknown execution IDs get 404; a finished or
// cancelled execution reports a tool error rather than blocking.
func (r *HTTPRunner) handleDispatch(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var dreq DispatchRequest
	if err := json.NewDecoder(io.LimitReader(req.Body, 1<<20)).Decode(&dreq); err != nil {
		http.Error(w, "malformed dispatch request", http.StatusBadRequest)
		return
	}

	r.mu.Lock()
	exec, ok := r.inflight[dreq.ExecutionID]
	r.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(DispatchResponse{Content: "unknown execution", IsError: true})
		return
	}
	if exec.ctx.Err() != nil {
		json.NewEncoder(w).Encode(DispatchResponse{Content: "execution cancelled", IsError: true})
		return
	}

	dr := exec.dispatch(exec.ctx, superagent.ToolCall{ID: dreq.CallID, Name: dreq.Name, Args: dreq.Args})
	json.NewEncoder(w).Encode(DispatchResponse{Content: dr.Content, IsError: dr.IsError})
}
