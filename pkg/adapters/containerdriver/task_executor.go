package containerdriver

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
)

// TaskExecutor adapts a Runtime to ports.TaskExecutor: the Coordinator's
// RunTask plan node execs cfg.AgentPath inside a per-task container,
// passing args as a JSON object on stdin and decoding the agent's
// stdout as the result map, the same one-shot-exec protocol Driver uses
// for property reads and action invocations.
type TaskExecutor struct {
	rt  *Runtime
	cfg Config
}

// NewTaskExecutor builds a TaskExecutor backed by rt, starting one
// container per task id.
func NewTaskExecutor(rt *Runtime, cfg Config) *TaskExecutor {
	return &TaskExecutor{rt: rt, cfg: cfg}
}

// Run execs cfg.AgentPath "task" <taskID> inside taskID's container,
// starting it first if needed.
func (e *TaskExecutor) Run(ctx context.Context, taskID string, args map[string]any) (map[string]any, error) {
	var dataDir string
	if e.cfg.DataDir != "" {
		dataDir = filepath.Join(e.cfg.DataDir, taskID)
	}
	if err := e.rt.EnsureStarted(ctx, taskID, e.cfg.Image, e.cfg.Env, dataDir); err != nil {
		return nil, err
	}
	stdin, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("containerdriver: encode task args: %w", err)
	}
	out, err := e.rt.Exec(ctx, taskID, []string{e.cfg.AgentPath, "task", taskID}, stdin)
	if err != nil {
		return nil, err
	}
	var result map[string]any
	if err := json.Unmarshal(out, &result); err != nil {
		return nil, fmt.Errorf("containerdriver: decode task result for %s: %w", taskID, err)
	}
	return result, nil
}
