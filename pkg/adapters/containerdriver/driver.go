package containerdriver

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/cuemby/devicehub/pkg/blueprint"
	"github.com/cuemby/devicehub/pkg/meta"
)

// Config fixes the backing image and exec protocol for one Driver
// name: the backing image's entrypoint must stay alive as PID 1 (the
// Driver never calls it directly, only execs a one-shot agent binary
// alongside it) and expose an executable at AgentPath implementing
// three subcommands: "read <property>", "write <property>" (JSON on
// stdin), and "invoke <action>" (JSON on stdin, JSON on stdout) — each
// a single meta.Meta JSON document.
type Config struct {
	Image     string
	AgentPath string
	Env       []string

	// DataDir, if non-empty, is the parent directory under which each
	// device gets a per-container subdirectory bind mounted at /data so
	// a PERSISTENT property survives a container restart.
	DataDir string
}

// New returns a blueprint.Driver that backs bp's PHYSICAL property
// reads/writes and action invocations with execs into a per-device
// containerd container, one container per (blueprint id, device
// address) pair named containerID.
//
// The container is started lazily on first use rather than at Wire
// time, since Wire runs before the device has an address to name the
// container after.
func New(rt *Runtime, cfg Config, containerIDFor func(ctx blueprint.ExecContext) string) blueprint.Driver {
	return func(bp blueprint.Blueprint) (blueprint.Blueprint, error) {
		ensure := func(ctx context.Context, containerID string) error {
			var dataDir string
			if cfg.DataDir != "" {
				dataDir = filepath.Join(cfg.DataDir, containerID)
			}
			return rt.EnsureStarted(ctx, containerID, cfg.Image, cfg.Env, dataDir)
		}

		for name, prop := range bp.Properties {
			prop := prop
			if prop.Kind != blueprint.KindPhysical {
				continue
			}
			if prop.Readable && prop.Read == nil {
				prop.Read = func(ec blueprint.ExecContext) (meta.Meta, error) {
					containerID := containerIDFor(ec)
					if err := ensure(context.Background(), containerID); err != nil {
						return meta.Empty, err
					}
					out, err := rt.Exec(context.Background(), containerID, []string{cfg.AgentPath, "read", prop.Name}, nil)
					if err != nil {
						return meta.Empty, err
					}
					var m meta.Meta
					if err := m.UnmarshalJSON(out); err != nil {
						return meta.Empty, fmt.Errorf("containerdriver: decode read result for %s: %w", prop.Name, err)
					}
					return m, nil
				}
			}
			if prop.Mutable && prop.Write == nil {
				prop.Write = func(ec blueprint.ExecContext, value meta.Meta) error {
					containerID := containerIDFor(ec)
					if err := ensure(context.Background(), containerID); err != nil {
						return err
					}
					stdin, err := value.MarshalJSON()
					if err != nil {
						return err
					}
					_, err = rt.Exec(context.Background(), containerID, []string{cfg.AgentPath, "write", prop.Name}, stdin)
					return err
				}
			}
			bp.Properties[name] = prop
		}

		for name, action := range bp.Actions {
			action := action
			if action.Handle != nil {
				continue
			}
			action.Handle = func(ec blueprint.ExecContext, input meta.Meta) (meta.Meta, error) {
				containerID := containerIDFor(ec)
				if err := ensure(context.Background(), containerID); err != nil {
					return meta.Empty, err
				}
				stdin, err := input.MarshalJSON()
				if err != nil {
					return meta.Empty, err
				}
				out, err := rt.Exec(context.Background(), containerID, []string{cfg.AgentPath, "invoke", action.Name}, stdin)
				if err != nil {
					return meta.Empty, err
				}
				var m meta.Meta
				if err := m.UnmarshalJSON(out); err != nil {
					return meta.Empty, fmt.Errorf("containerdriver: decode invoke result for %s: %w", action.Name, err)
				}
				return m, nil
			}
			bp.Actions[name] = action
		}

		return bp, nil
	}
}
