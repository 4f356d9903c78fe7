package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/clusterctl/internal/agent/agenttest"
	"github.com/dropDatabas3/clusterctl/internal/cluster"
	"github.com/dropDatabas3/clusterctl/internal/config"
	"github.com/dropDatabas3/clusterctl/internal/driver"
	"github.com/dropDatabas3/clusterctl/internal/observability/logger"
	"github.com/dropDatabas3/clusterctl/internal/ops"
	"github.com/dropDatabas3/clusterctl/internal/token"
)

var errOperationFailed = errors.New("operation failed")

// execute corre op y devuelve el Result; un Result no OK se traduce a error de salida.
func (g *globals) execute(ctx context.Context, op ops.Op, doc cluster.ConfigDocument) (ops.Result, error) {
	req, err := g.request(op)
	if err != nil {
		return ops.Result{}, err
	}
	req.Config = doc
	svc, err := buildService(g.cfg, op != ops.OpHealth && op != ops.OpAgentsScan)
	if err != nil {
		return ops.Result{}, err
	}
	return svc.Execute(ctx, req)
}

func (g *globals) finish(res ops.Result, text func()) error {
	if g.out == "json" {
		printJSON(resultView(res))
	} else {
		text()
	}
	if !res.OK() {
		if res.Err != nil {
			return fmt.Errorf("%w: %v", errOperationFailed, res.Err)
		}
		return errOperationFailed
	}
	return nil
}

func newHealthCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Estado del cluster (GREEN|YELLOW|RED|UNKNOWN)",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := g.execute(cmd.Context(), ops.OpHealth, nil)
			if err != nil {
				return err
			}
			return g.finish(res, func() { fmt.Println(res.Health) })
		},
	}
}

func newRestartCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Rolling restart: un nodo por vez, esperando GREEN antes y después de cada uno",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := g.execute(cmd.Context(), ops.OpRestart, nil)
			if err != nil {
				return err
			}
			return g.finish(res, func() {
				r := res.Restart
				if r == nil {
					return
				}
				fmt.Printf("state=%s restarted=%d duration=%s\n", r.State, len(r.Restarted), r.Duration.Round(time.Second))
				for _, n := range r.Restarted {
					fmt.Println("  restarted", n)
				}
				if r.FailedNode != "" {
					fmt.Println("  failed at", r.FailedNode)
				}
			})
		},
	}
}

func newConfigCmd(g *globals) *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Configuración del data-store"}

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Configuración aplanada (clave.con.puntos=valor)",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := g.execute(cmd.Context(), ops.OpGetConfig, nil)
			if err != nil {
				return err
			}
			return g.finish(res, func() {
				for _, k := range res.Config.Keys() {
					fmt.Printf("%s=%v\n", k, res.Config[k])
				}
			})
		},
	}

	var fromFile string
	setCmd := &cobra.Command{
		Use:   "set key=value [key=value...]",
		Short: "Envía la configuración a todos los agentes",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := parseAssignments(args)
			if err != nil {
				return err
			}
			if fromFile != "" {
				fileDoc, err := readDocument(fromFile)
				if err != nil {
					return err
				}
				doc = fileDoc.Merge(doc)
			}
			res, err := g.execute(cmd.Context(), ops.OpSetConfig, doc)
			if err != nil {
				return err
			}
			return g.finish(res, func() { printOutcome(res.Outcome) })
		},
	}
	setCmd.Flags().StringVar(&fromFile, "file", "", "JSON con el documento (anidado o plano)")

	cfgCmd.AddCommand(getCmd, setCmd)
	return cfgCmd
}

func newAgentsCmd(g *globals) *cobra.Command {
	agentsCmd := &cobra.Command{Use: "agents", Short: "Versión y sincronización de los agentes"}

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Clasifica cada agente: SYNCED|UNSYNCED|UNREACHABLE",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := g.execute(cmd.Context(), ops.OpAgentsScan, nil)
			if err != nil {
				return err
			}
			return g.finish(res, func() { printStates(res.Agents) })
		},
	}

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Sube el payload a los agentes desincronizados y los reinicia",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := g.execute(cmd.Context(), ops.OpAgentsSync, nil)
			if err != nil {
				return err
			}
			return g.finish(res, func() {
				printStates(res.Agents)
				if res.Fleet != nil {
					for _, ep := range res.Fleet.Converged {
						fmt.Println("converged", ep)
					}
					for _, ep := range res.Fleet.Failed {
						fmt.Println("failed", ep)
					}
				}
			})
		},
	}

	agentsCmd.AddCommand(scanCmd, syncCmd)
	return agentsCmd
}

func newSolutionsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "solutions",
		Short: "Soluciones soportadas y sus operaciones",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat := driver.Catalog()
			if g.out == "json" {
				printJSON(cat)
				return nil
			}
			for _, e := range cat {
				names := make([]string, len(e.Executables))
				for i, x := range e.Executables {
					names[i] = string(x)
				}
				fmt.Printf("%s (port %d): %s\n", e.Solution, e.DefaultPort, strings.Join(names, ", "))
			}
			return nil
		},
	}
}

// newAgentStubCmd levanta un agente local en proceso para pruebas en seco.
func newAgentStubCmd(g *globals) *cobra.Command {
	var listen, stubVersion string
	cmd := &cobra.Command{
		Use:   "agent-stub",
		Short: "Agente local en proceso (valida tokens y registra comandos)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if g.cfg.Agent.Secret == "" {
				return errNoAgentKey
			}
			auth, err := token.New(g.cfg.Agent.Secret, token.WithTTL(config.Duration(g.cfg.Agent.TokenTTL, token.DefaultTTL)))
			if err != nil {
				return err
			}
			if stubVersion == "" {
				stubVersion = g.cfg.Agent.Version
			}
			if listen == "" {
				listen = fmt.Sprintf("127.0.0.1:%d", g.cfg.Agent.Port)
			}
			stub := agenttest.New(auth, stubVersion)
			stub.OnCommand(func(path string, payload map[string]any) {
				logger.L().Info("agent command", logger.String("path", path), logger.Any("port", payload["port"]))
			})
			srv := &http.Server{Addr: listen, Handler: stub.Handler(), ReadHeaderTimeout: 5 * time.Second}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			logger.L().Info("agent stub listening", logger.String("addr", listen), logger.AgentVersion(stubVersion))

			select {
			case <-cmd.Context().Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "dirección de escucha (default 127.0.0.1:<agent.port>)")
	cmd.Flags().StringVar(&stubVersion, "version", "", "versión reportada (default agent.version)")
	return cmd
}

// parseAssignments parsea argumentos key=value a un documento plano.
func parseAssignments(args []string) (cluster.ConfigDocument, error) {
	doc := cluster.ConfigDocument{}
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("asignación inválida %q (se espera key=value)", a)
		}
		doc[k] = v
	}
	return doc, nil
}

func readDocument(path string) (cluster.ConfigDocument, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var nested map[string]any
	if err := json.Unmarshal(b, &nested); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cluster.Flatten(nested), nil
}

func printOutcome(o cluster.Outcome) {
	if o.Success {
		fmt.Println("ok")
		return
	}
	for _, f := range o.Failures {
		fmt.Printf("%s: %s\n", f.Node, f.Message)
	}
}

func printStates(states map[cluster.AgentEndpoint]cluster.SyncState) {
	keys := make([]cluster.AgentEndpoint, 0, len(states))
	for ep := range states {
		keys = append(keys, ep)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Addr() < keys[j].Addr() })
	for _, ep := range keys {
		fmt.Printf("%s\t%s\n", ep, states[ep])
	}
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

// resultView es la forma JSON de un ops.Result.
func resultView(res ops.Result) map[string]any {
	out := map[string]any{"run_id": res.RunID, "op": res.Op, "ok": res.OK()}
	if res.Err != nil {
		out["error"] = res.Err.Error()
	}
	switch res.Op {
	case ops.OpHealth:
		out["health"] = res.Health
	case ops.OpRestart:
		if r := res.Restart; r != nil {
			out["state"] = r.State
			out["restarted"] = r.Restarted
			out["failed_node"] = r.FailedNode
			out["duration"] = r.Duration.String()
		}
	case ops.OpGetConfig:
		out["config"] = res.Config
	case ops.OpSetConfig:
		out["success"] = res.Outcome.Success
		out["failures"] = res.Outcome.Failures
	case ops.OpAgentsScan, ops.OpAgentsSync:
		agents := make(map[string]cluster.SyncState, len(res.Agents))
		for ep, st := range res.Agents {
			agents[ep.Addr()] = st
		}
		out["agents"] = agents
	}
	return out
}
