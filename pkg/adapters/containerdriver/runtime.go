// Package containerdriver implements blueprint.Driver by backing a
// device's properties and actions with a long-lived containerd
// container: each Read/Write/Action handle execs a short-lived process
// inside it and captures stdout as the Meta JSON wire form, grounded on
// pkg/runtime.ContainerdRuntime's container/task lifecycle. On macOS,
// where containerd has no native daemon, a Lima Linux VM hosts the
// containerd socket this package dials; EnsureLimaSocket (darwin only)
// starts an existing "devicehub" Lima instance and returns that socket
// path.
package containerdriver

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

const (
	// DefaultNamespace is the containerd namespace devicehub containers
	// run in.
	DefaultNamespace = "devicehub"

	// DefaultSocketPath is containerd's default control socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

// Runtime wraps a containerd client, one container-per-device.
type Runtime struct {
	client    *containerd.Client
	namespace string

	mu         sync.Mutex
	containers map[string]containerd.Container
	tasks      map[string]containerd.Task
}

// NewRuntime dials containerd at socketPath (DefaultSocketPath if
// empty).
func NewRuntime(socketPath string) (*Runtime, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("containerdriver: connect to containerd: %w", err)
	}
	return &Runtime{
		client:     client,
		namespace:  DefaultNamespace,
		containers: make(map[string]containerd.Container),
		tasks:      make(map[string]containerd.Task),
	}, nil
}

// Close closes the containerd client connection.
func (r *Runtime) Close() error { return r.client.Close() }

// EnsureStarted pulls image if needed, creates containerID from it if
// it does not already exist, and starts its task, returning once the
// task is running. Safe to call repeatedly; a second call on an
// already-running device is a no-op. dataDir, if non-empty, is bind
// mounted at /data so a PERSISTENT property survives a container
// restart.
func (r *Runtime) EnsureStarted(ctx context.Context, containerID, image string, env []string, dataDir string) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[containerID]; ok {
		return nil
	}

	img, err := r.client.GetImage(ctx, image)
	if err != nil {
		img, err = r.client.Pull(ctx, image, containerd.WithPullUnpack)
		if err != nil {
			return fmt.Errorf("containerdriver: pull %s: %w", image, err)
		}
	}

	specOpts := []oci.SpecOpts{oci.WithImageConfig(img), oci.WithEnv(env)}
	if dataDir != "" {
		specOpts = append(specOpts, oci.WithMounts([]specs.Mount{
			{
				Destination: "/data",
				Type:        "bind",
				Source:      dataDir,
				Options:     []string{"rbind", "rw"},
			},
		}))
	}

	container, err := r.client.NewContainer(
		ctx,
		containerID,
		containerd.WithImage(img),
		containerd.WithNewSnapshot(containerID+"-snapshot", img),
		containerd.WithNewSpec(specOpts...),
	)
	if err != nil {
		return fmt.Errorf("containerdriver: create container %s: %w", containerID, err)
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return fmt.Errorf("containerdriver: create task %s: %w", containerID, err)
	}
	if err := task.Start(ctx); err != nil {
		return fmt.Errorf("containerdriver: start task %s: %w", containerID, err)
	}

	r.containers[containerID] = container
	r.tasks[containerID] = task
	return nil
}

// Exec runs args as a one-shot process inside containerID's running
// task, feeding it stdin and returning its captured stdout. Used by
// the Driver's Read/Write/Action handles to speak a small line
// protocol with the backing image's agent process.
func (r *Runtime) Exec(ctx context.Context, containerID string, args []string, stdin []byte) ([]byte, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	r.mu.Lock()
	task, ok := r.tasks[containerID]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("containerdriver: %s has no running task", containerID)
	}

	spec, err := task.Spec(ctx)
	if err != nil {
		return nil, fmt.Errorf("containerdriver: load spec for exec: %w", err)
	}
	procSpec := *spec.Process
	procSpec.Args = args

	var stdout, stderr bytes.Buffer
	execID := fmt.Sprintf("exec-%d", time.Now().UnixNano())
	process, err := task.Exec(ctx, execID, &procSpec, cio.NewCreator(
		cio.WithStreams(bytes.NewReader(stdin), &stdout, &stderr),
	))
	if err != nil {
		return nil, fmt.Errorf("containerdriver: exec %v: %w", args, err)
	}
	defer process.Delete(ctx)

	statusC, err := process.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("containerdriver: wait for exec: %w", err)
	}
	if err := process.Start(ctx); err != nil {
		return nil, fmt.Errorf("containerdriver: start exec: %w", err)
	}

	status := <-statusC
	if code, _, err := status.Result(); err != nil {
		return nil, fmt.Errorf("containerdriver: exec %v result: %w", args, err)
	} else if code != 0 {
		return nil, fmt.Errorf("containerdriver: exec %v exited %d: %s", args, code, stderr.String())
	}
	return stdout.Bytes(), nil
}

// Stop signals SIGTERM to containerID's task, waits for exit up to
// timeout, then SIGKILLs, deletes the task and container, and forgets
// them (a later EnsureStarted call recreates from scratch).
func (r *Runtime) Stop(ctx context.Context, containerID string, timeout time.Duration) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	r.mu.Lock()
	task, ok := r.tasks[containerID]
	container := r.containers[containerID]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	statusC, err := task.Wait(ctx)
	if err != nil {
		return fmt.Errorf("containerdriver: wait for task %s: %w", containerID, err)
	}
	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		return fmt.Errorf("containerdriver: kill task %s: %w", containerID, err)
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return fmt.Errorf("containerdriver: force kill task %s: %w", containerID, err)
		}
	}

	if _, err := task.Delete(ctx); err != nil {
		return fmt.Errorf("containerdriver: delete task %s: %w", containerID, err)
	}
	if container != nil {
		if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
			return fmt.Errorf("containerdriver: delete container %s: %w", containerID, err)
		}
	}

	r.mu.Lock()
	delete(r.tasks, containerID)
	delete(r.containers, containerID)
	r.mu.Unlock()
	return nil
}
