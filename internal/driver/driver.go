// Package driver define el conjunto de capacidades común a las soluciones
// (connect, health, restart, get/set config) y la infraestructura que comparten
// las variantes: fan-out de configuración y adaptación al orquestador.
package driver

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/clusterctl/internal/agent"
	"github.com/dropDatabas3/clusterctl/internal/cluster"
	"github.com/dropDatabas3/clusterctl/internal/metrics"
	"github.com/dropDatabas3/clusterctl/internal/observability/logger"
	"github.com/dropDatabas3/clusterctl/internal/orchestrator"
	"github.com/dropDatabas3/clusterctl/internal/token"
)

// Driver es el conjunto de capacidades de una solución.
type Driver interface {
	// Connect verifica que el data-store responde.
	Connect(ctx context.Context) error
	// Health nunca retorna error: un cluster caído es RED o UNKNOWN.
	Health(ctx context.Context) cluster.HealthStatus
	// Restart ejecuta el rolling restart.
	Restart(ctx context.Context) orchestrator.Result
	// GetConfig devuelve la configuración aplanada.
	GetConfig(ctx context.Context) (cluster.ConfigDocument, error)
	// SetConfig envía doc a todos los agentes; éxito sólo si todos aceptan.
	SetConfig(ctx context.Context, doc cluster.ConfigDocument) cluster.Outcome
}

// Deps son las dependencias compartidas por las variantes.
type Deps struct {
	Agents      *agent.Client
	Tokens      *token.Authenticator
	Policy      orchestrator.Policy
	Parallelism int
	Logger      *zap.Logger
	// Orchestrator opcional; si es nil cada variante crea uno.
	Orchestrator *orchestrator.Orchestrator
}

// Log devuelve el logger de Deps o uno nombrado por defecto.
func (d Deps) Log(name string) *zap.Logger {
	if d.Logger != nil {
		return d.Logger.Named(name)
	}
	return logger.Named(name)
}

func (d Deps) parallelism() int {
	if d.Parallelism <= 0 {
		return 8
	}
	return d.Parallelism
}

// SetConfig coerciona doc y lo envía en paralelo al agente de cada nodo con cmd.
// Todos los nodos comparten un token recién emitido.
func SetConfig(ctx context.Context, d Deps, cl *cluster.Cluster, cmd agent.Command, doc cluster.ConfigDocument) cluster.Outcome {
	log := d.Log("driver").With(logger.Cluster(cl.Name), logger.Op("set_config"))
	data := cluster.CoerceValues(doc)

	tok, err := d.Tokens.Issue()
	if err != nil {
		return cluster.Failed("cluster", "issue token: %v", err)
	}

	agents := cl.Agents()
	col := cluster.NewCollector(len(agents))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.parallelism())
	for i := range agents {
		i, ep, node := i, agents[i], cl.Nodes[i]
		g.Go(func() error {
			resp, err := d.Agents.Dispatch(gctx, ep, cmd, node.Port, map[string]any{"data": data}, tok)
			switch {
			case err != nil:
				col.Fail(i, node.Addr(), "post to agent %s failed: %v", ep, err)
			case !resp.OK():
				col.Fail(i, node.Addr(), "agent %s failed to set config: status %d", ep, resp.StatusCode)
			default:
				log.Info("config set", logger.Node(node.Addr()), logger.Agent(ep.Addr()))
			}
			// los fallos por nodo no cancelan a los demás
			return nil
		})
	}
	_ = g.Wait()

	out := col.Outcome()
	if !out.Success {
		metrics.FanoutFailures.WithLabelValues("set_config").Add(float64(len(out.Failures)))
		log.Warn("config not applied on every node", logger.Count(len(out.Failures)))
	}
	return out
}

// HealthFunc consulta la salud del cluster.
type HealthFunc func(ctx context.Context) cluster.HealthStatus

// RestartTarget adapta un cluster al orquestador: salud vía health, restart vía
// Dispatch de cmd al agente de cada nodo con un token nuevo por comando.
type RestartTarget struct {
	Cluster *cluster.Cluster
	Deps    Deps
	Command agent.Command
	Check   HealthFunc
}

func (t *RestartTarget) Nodes() []string {
	out := make([]string, len(t.Cluster.Nodes))
	for i, n := range t.Cluster.Nodes {
		out[i] = n.Addr()
	}
	return out
}

func (t *RestartTarget) Health(ctx context.Context) cluster.HealthStatus { return t.Check(ctx) }

func (t *RestartTarget) RestartNode(ctx context.Context, i int) error {
	node := t.Cluster.Nodes[i]
	ep := cluster.AgentFor(node, t.Cluster.AgentPort)
	tok, err := t.Deps.Tokens.Issue()
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	resp, err := t.Deps.Agents.Dispatch(ctx, ep, t.Command, node.Port, nil, tok)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("agent %s: restart returned status %d", ep, resp.StatusCode)
	}
	return nil
}

// RunRestart corre el orquestador sobre t.
func RunRestart(ctx context.Context, solution string, t *RestartTarget) orchestrator.Result {
	o := t.Deps.Orchestrator
	if o == nil {
		o = orchestrator.New(solution)
	}
	l := logger.From(ctx)
	if t.Deps.Logger != nil {
		l = t.Deps.Logger.Named(solution)
	}
	ctx = logger.ToContext(ctx, l.With(logger.Cluster(t.Cluster.Name)))
	return o.Run(ctx, t, t.Deps.Policy)
}
