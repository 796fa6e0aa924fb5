package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/cuemby/devicehub/pkg/adapters/boltstore"
	"github.com/cuemby/devicehub/pkg/adapters/cache"
	"github.com/cuemby/devicehub/pkg/adapters/clusterlog"
	"github.com/cuemby/devicehub/pkg/adapters/containerdriver"
	"github.com/cuemby/devicehub/pkg/adapters/grpcpeer"
	"github.com/cuemby/devicehub/pkg/adapters/jwtauthz"
	"github.com/cuemby/devicehub/pkg/adapters/memory"
	"github.com/cuemby/devicehub/pkg/adapters/promcollector"
	"github.com/cuemby/devicehub/pkg/adapters/scripting"
	"github.com/cuemby/devicehub/pkg/blueprint"
	"github.com/cuemby/devicehub/pkg/coordinator"
	"github.com/cuemby/devicehub/pkg/hub"
	"github.com/cuemby/devicehub/pkg/log"
	"github.com/cuemby/devicehub/pkg/ports"
)

// defaultRoleCapabilities maps a JWT "roles" claim to the set of
// capabilities that role is allowed, the allow-list shape
// pkg/api.ReadOnlyInterceptor's method-prefix check generalizes into a
// per-capability table (spec.md §6).
var defaultRoleCapabilities = map[string][]ports.Capability{
	"admin": {
		ports.CapReadProperty, ports.CapWriteProperty, ports.CapInvokeAction,
		ports.CapAttachDevice, ports.CapDetachDevice,
	},
	"operator": {ports.CapReadProperty, ports.CapWriteProperty, ports.CapInvokeAction},
	"viewer":   {ports.CapReadProperty},
	"peer":     {ports.CapReadProperty, ports.CapWriteProperty, ports.CapInvokeAction},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a devicehub Hub node",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("hub-id", "hub-0", "This hub's id")
	serveCmd.Flags().String("data-dir", "./data", "Directory for the bbolt snapshot/blueprint store")
	serveCmd.Flags().String("peer-addr", ":7070", "Listen address for the peer gRPC API")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Listen address for the Prometheus /metrics endpoint")
	serveCmd.Flags().String("redis-addr", "", "Optional Redis address for the distributed cache tier")
	serveCmd.Flags().String("containerd-socket", "", "containerd socket path; enables the \"container\" blueprint driver when set")
	serveCmd.Flags().String("agent-image", "", "Default backing image for container-driven blueprints")
	serveCmd.Flags().String("agent-path", "/usr/local/bin/devicehub-agent", "Path to the in-container agent binary container-driven blueprints exec")
	serveCmd.Flags().String("cluster-bind-addr", "", "Raft bind address; enables HA command-log replication when set")
	serveCmd.Flags().Bool("cluster-bootstrap", false, "Bootstrap a brand-new single-node cluster at startup")
}

func runServe(cmd *cobra.Command, _ []string) error {
	hubID, _ := cmd.Flags().GetString("hub-id")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	peerAddr, _ := cmd.Flags().GetString("peer-addr")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	redisAddr, _ := cmd.Flags().GetString("redis-addr")
	containerdSocket, _ := cmd.Flags().GetString("containerd-socket")
	agentImage, _ := cmd.Flags().GetString("agent-image")
	agentPath, _ := cmd.Flags().GetString("agent-path")
	clusterBindAddr, _ := cmd.Flags().GetString("cluster-bind-addr")
	clusterBootstrap, _ := cmd.Flags().GetBool("cluster-bootstrap")

	logger := log.WithHubID(hubID)

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("devicehubd: create data dir: %w", err)
	}

	store, err := boltstore.Open(dataDir)
	if err != nil {
		return fmt.Errorf("devicehubd: open store: %w", err)
	}
	defer store.Close()

	broker := memory.NewBroker()
	collector := promcollector.New()

	resultCache, err := buildCache(redisAddr)
	if err != nil {
		return fmt.Errorf("devicehubd: build cache: %w", err)
	}

	authz := jwtauthz.New(jwtSecret(), defaultRoleCapabilities)

	drivers := blueprint.NewRegistry()
	transformers := blueprint.NewTransformerRegistry()
	scripting.NewEngine().RegisterWith(transformers)

	var taskExecutor ports.TaskExecutor
	if containerdSocket != "" {
		rt, err := containerdriver.NewRuntime(containerdSocket)
		if err != nil {
			return fmt.Errorf("devicehubd: containerd runtime: %w", err)
		}
		defer rt.Close()

		driverCfg := containerdriver.Config{
			Image:     agentImage,
			AgentPath: agentPath,
			DataDir:   filepath.Join(dataDir, "containers"),
		}
		drivers.Register("container", containerdriver.New(rt, driverCfg, containerIDFor))
		taskExecutor = containerdriver.NewTaskExecutor(rt, driverCfg)
		logger.Info().Str("socket", containerdSocket).Msg("container driver enabled")
	}

	h := hub.New(hub.Config{
		ID:           hubID,
		Registry:     store,
		Drivers:      drivers,
		Transformers: transformers,
		Authz:        authz,
		Broker:       broker,
		Metrics:      collector,
		Clock:        ports.SystemClock{},
	})
	h.Start()
	defer h.Stop()

	var clusterMgr *clusterlog.Manager
	if clusterBindAddr != "" {
		clusterMgr = clusterlog.New(hubID, clusterBindAddr, dataDir, h)
		if clusterBootstrap {
			if err := clusterMgr.Bootstrap(); err != nil {
				return fmt.Errorf("devicehubd: bootstrap cluster: %w", err)
			}
			logger.Info().Str("bind_addr", clusterBindAddr).Msg("cluster bootstrapped")
		} else {
			if err := clusterMgr.Join(); err != nil {
				return fmt.Errorf("devicehubd: start raft: %w", err)
			}
			logger.Info().Str("bind_addr", clusterBindAddr).Msg("raft started, awaiting voter admission by a leader")
		}
		defer clusterMgr.Shutdown()
	}

	coord := coordinator.New(coordinator.Config{
		Hub:     h,
		Clock:   ports.SystemClock{},
		Broker:  broker,
		Cache:   resultCache,
		Tasks:   taskExecutor,
		Metrics: collector,
	})

	// A blueprint's action handle publishes to this well-known topic
	// when its backing data changes in a way no property binding
	// observes, so any action result cached under this hub invalidates
	// rather than serving stale data (spec.md §4.H "Caching").
	invalidateTopic := "devicehub." + hubID + ".cache-invalidate"
	if err := coord.WatchInvalidations(context.Background(), invalidateTopic, "*"); err != nil {
		logger.Warn().Err(err).Msg("cache invalidation watch failed to start")
	}

	grpcServer := grpc.NewServer()
	grpcpeer.Register(grpcServer, &peerBackend{hub: h, hubID: hubID, broker: broker})

	lis, err := net.Listen("tcp", peerAddr)
	if err != nil {
		return fmt.Errorf("devicehubd: listen on %s: %w", peerAddr, err)
	}
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("peer gRPC server stopped")
		}
	}()
	logger.Info().Str("addr", peerAddr).Msg("peer gRPC API listening")

	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	if clusterMgr != nil {
		registerClusterAdmin(mux, clusterMgr)
	}
	metricsServer := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	logger.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	grpcServer.GracefulStop()
	_ = metricsServer.Shutdown(ctx)
	return nil
}

func buildCache(redisAddr string) (ports.ResultCache, error) {
	cfg := cache.Config{LocalSize: 4096}
	if redisAddr != "" {
		cfg.Redis = redis.NewClient(&redis.Options{Addr: redisAddr})
	}
	return cache.New(cfg)
}

func jwtSecret() []byte {
	if s := os.Getenv("DEVICEHUB_JWT_SECRET"); s != "" {
		return []byte(s)
	}
	return []byte("devicehubd-dev-secret")
}

// containerIDFor names a device's backing container after the property
// or action call's target device address, so every call against the
// same device reuses one container regardless of which property or
// action triggered it.
func containerIDFor(ec blueprint.ExecContext) string {
	if !ec.Device.IsRoot() {
		return "devicehub-" + ec.Device.String()
	}
	return "devicehub-" + string(ec.Correlation)
}
