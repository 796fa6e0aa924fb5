//go:build darwin

package containerdriver

import (
	"context"
	"fmt"

	"github.com/lima-vm/lima/pkg/instance"
	"github.com/lima-vm/lima/pkg/store"
)

// LimaInstanceName is the Lima VM instance devicehub starts on macOS to
// host the containerd daemon this package's Runtime dials, since
// containerd has no native macOS daemon.
const LimaInstanceName = "devicehub"

// EnsureLimaSocket starts (or reuses) the devicehub Lima instance and
// returns the containerd socket path inside it, grounded on
// pkg/embedded.LimaManager.Start's inspect-then-start-or-create flow.
func EnsureLimaSocket(ctx context.Context) (string, error) {
	inst, err := store.Inspect(LimaInstanceName)
	if err != nil {
		return "", fmt.Errorf("containerdriver: lima instance %q not found, create it first: %w", LimaInstanceName, err)
	}

	if inst.Status != store.StatusRunning {
		if err := instance.Start(ctx, inst, "", false); err != nil {
			return "", fmt.Errorf("containerdriver: start lima instance %q: %w", LimaInstanceName, err)
		}
	}

	return DefaultSocketPath, nil
}
