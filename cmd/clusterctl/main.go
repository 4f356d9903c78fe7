package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/clusterctl/internal/config"
	"github.com/dropDatabas3/clusterctl/internal/metrics"
	"github.com/dropDatabas3/clusterctl/internal/observability/logger"
)

var version = "dev"

// globals son los flags persistentes y el estado armado en PersistentPreRunE.
type globals struct {
	configPath string
	envFile    string
	cluster    string
	solution   string
	nodes      []string
	auth       string
	user       string
	out        string

	cfg *config.Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(&globals{})
	err := root.ExecuteContext(ctx)
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func newRootCmd(g *globals) *cobra.Command {
	root := &cobra.Command{
		Use:           "clusterctl",
		Short:         "Rolling restart y configuración de clusters vía agentes",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.setup(cmd.Context())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", envOr("CLUSTERCTL_CONFIG", ""), "ruta a config.yaml (env CLUSTERCTL_CONFIG)")
	pf.StringVar(&g.envFile, "env-file", ".env", "ruta a .env (se ignora si no existe)")
	pf.StringVar(&g.cluster, "cluster", "", "cluster con nombre definido en config (o nombre para auditoría)")
	pf.StringVar(&g.solution, "solution", "", "elasticsearch|redis (si no viene de --cluster)")
	pf.StringSliceVar(&g.nodes, "nodes", nil, "endpoints de los nodos, en orden de restart")
	pf.StringVar(&g.auth, "auth", envOr("CLUSTER_AUTH", ""), "credenciales principal:secret (env CLUSTER_AUTH)")
	pf.StringVar(&g.user, "user", envOr("USER", ""), "usuario registrado en auditoría")
	pf.StringVar(&g.out, "out", "text", "formato de salida: json|text")

	root.AddCommand(
		newHealthCmd(g),
		newRestartCmd(g),
		newConfigCmd(g),
		newAgentsCmd(g),
		newSolutionsCmd(g),
		newAgentStubCmd(g),
	)
	return root
}

func (g *globals) setup(ctx context.Context) error {
	if g.envFile != "" {
		_ = godotenv.Load(g.envFile)
	}

	var err error
	if g.configPath != "" {
		g.cfg, err = config.Load(g.configPath)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
	} else {
		g.cfg = config.Default()
	}

	env := g.cfg.App.Env
	if g.cfg.Log.Format == "json" {
		env = "prod"
	}
	logger.Init(logger.Config{Env: env, Level: g.cfg.Log.Level, ServiceName: "clusterctl", Version: version})

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}
	if g.cfg.Metrics.Addr != "" {
		serveMetrics(ctx, g.cfg.Metrics.Addr)
	}
	return nil
}

// serveMetrics expone /metrics mientras dure ctx.
func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L().Warn("metrics server stopped", logger.Err(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.L().Info("metrics listening", logger.String("addr", addr))
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
