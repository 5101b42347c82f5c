package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	superagent "github.com/superagent-core/superagent"
)

// dockerPidsLimit caps processes inside one execution container.
const dockerPidsLimit int64 = 100

// DockerRunner executes code in a fresh container per run: the workspace is
// bind-mounted, CPU and memory are capped, and networking is disabled unless
// enabled explicitly. Tool-call bridging is not available inside the
// container; the dispatch function is ignored.
type DockerRunner struct {
	cli *client.Client
	cfg runnerConfig
}

// compile-time check
var _ superagent.CodeRunner = (*DockerRunner)(nil)

// NewDockerRunner creates a runner over the local Docker daemon.
func NewDockerRunner(opts ...Option) (*DockerRunner, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker runner: connect: %w", err)
	}
	return &DockerRunner{cli: cli, cfg: cfg}, nil
}

// Close releases the Docker client.
func (r *DockerRunner) Close() error { return r.cli.Close() }

// Run executes code in a new container and captures its output.
func (r *DockerRunner) Run(ctx context.Context, req superagent.CodeRequest, _ superagent.DispatchFunc) (superagent.CodeResult, error) {
	runtime := req.Runtime
	if runtime == "" {
		runtime = "python"
	}
	img, ok := r.cfg.images[runtime]
	if !ok {
		return superagent.CodeResult{
			Error:    fmt.Sprintf("unsupported runtime: %s", runtime),
			ExitCode: 1,
		}, nil
	}

	timeout := r.cfg.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	workspace, err := resolveWorkspace(r.cfg.workspace, req.SessionID)
	if err != nil {
		return superagent.CodeResult{}, err
	}
	if workspace == os.TempDir() {
		// Bind-mounting the shared temp dir leaks unrelated files into the
		// container; give the run its own directory instead.
		workspace, err = os.MkdirTemp("", "superagent-run-")
		if err != nil {
			return superagent.CodeResult{}, fmt.Errorf("docker runner: workspace: %w", err)
		}
		defer os.RemoveAll(workspace)
	}
	if err := placeFiles(workspace, req.Files); err != nil {
		return superagent.CodeResult{}, err
	}

	mainFile := mainFilename(runtime)
	if err := os.WriteFile(filepath.Join(workspace, mainFile), []byte(req.Code), 0o644); err != nil {
		return superagent.CodeResult{}, fmt.Errorf("docker runner: write code: %w", err)
	}

	// Best effort. A locally cached image works without a registry.
	if rc, err := r.cli.ImagePull(ctx, img, image.PullOptions{}); err == nil {
		_, _ = io.Copy(io.Discard, rc)
		rc.Close()
	}

	networkMode := container.NetworkMode("none")
	if r.cfg.networkEnabled {
		networkMode = container.NetworkMode("bridge")
	}
	pids := dockerPidsLimit
	created, err := r.cli.ContainerCreate(ctx,
		&container.Config{
			Image:      img,
			Cmd:        runCommand(runtime, mainFile),
			WorkingDir: "/workspace",
		},
		&container.HostConfig{
			Binds:       []string{workspace + ":/workspace:rw"},
			NetworkMode: networkMode,
			Resources: container.Resources{
				NanoCPUs:   r.cfg.cpuMillicores * 1_000_000,
				Memory:     r.cfg.memoryLimitMB << 20,
				MemorySwap: r.cfg.memoryLimitMB << 20, // no swap
				PidsLimit:  &pids,
			},
		},
		nil, nil, "")
	if err != nil {
		return superagent.CodeResult{}, fmt.Errorf("docker runner: create container: %w", err)
	}
	containerID := created.ID
	defer func() {
		removeCtx, removeCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer removeCancel()
		_ = r.cli.ContainerRemove(removeCtx, containerID, container.RemoveOptions{Force: true})
	}()

	if err := r.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return superagent.CodeResult{}, fmt.Errorf("docker runner: start container: %w", err)
	}

	result := superagent.CodeResult{}
	statusCh, errCh := r.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if ctx.Err() == context.DeadlineExceeded {
			result.Error = fmt.Sprintf("execution timed out after %s", timeout)
			result.ExitCode = -1
		} else if err != nil {
			return superagent.CodeResult{}, fmt.Errorf("docker runner: wait: %w", err)
		}
	case status := <-statusCh:
		result.ExitCode = int(status.StatusCode)
		if status.StatusCode != 0 {
			result.Error = fmt.Sprintf("exit code %d", status.StatusCode)
		}
	}

	stdout, stderr, err := r.collectLogs(ctx, containerID)
	if err == nil {
		result.Output = stdout
		result.Logs = stderr
	}
	return result, nil
}

// collectLogs demultiplexes the container's stdout and stderr streams.
func (r *DockerRunner) collectLogs(ctx context.Context, containerID string) (string, string, error) {
	logsCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	rc, err := r.cli.ContainerLogs(logsCtx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", err
	}
	defer rc.Close()

	var outBuf, errBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&outBuf, &errBuf, rc); err != nil {
		return "", "", err
	}
	return capString(outBuf.String(), r.cfg.maxOutput), capString(errBuf.String(), r.cfg.maxOutput), nil
}

func capString(s string, max int) string {
	if len(s) > max {
		return s[:max] + "\n... (truncated)"
	}
	return s
}

func mainFilename(runtime string) string {
	switch runtime {
	case "node":
		return "main.js"
	case "bash":
		return "main.sh"
	default:
		return "main.py"
	}
}

func runCommand(runtime, mainFile string) []string {
	switch runtime {
	case "node":
		return []string{"node", mainFile}
	case "bash":
		return []string{"bash", mainFile}
	default:
		return []string{"python", mainFile}
	}
}
