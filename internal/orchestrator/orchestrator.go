// Package orchestrator implementa el rolling restart: recorre los nodos en orden,
// reinicia uno por vez y sólo avanza cuando el cluster está GREEN antes y después
// de cada restart.
//
// Máquina de estados por nodo:
//
//	WAIT_HEALTHY -> RESTARTING(i) -> WAIT_RECOVERED -> (i+1 | FAILED) ... -> DONE
//
// Toda espera está acotada por un número máximo de intentos y respeta ctx.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/clusterctl/internal/cluster"
	"github.com/dropDatabas3/clusterctl/internal/metrics"
	"github.com/dropDatabas3/clusterctl/internal/observability/logger"
)

// State es el estado de la máquina.
type State string

const (
	WaitHealthy   State = "WAIT_HEALTHY"
	Restarting    State = "RESTARTING"
	WaitRecovered State = "WAIT_RECOVERED"
	Done          State = "DONE"
	Failed        State = "FAILED"
)

var (
	// ErrNotHealthy: el cluster no llegó a GREEN antes de reiniciar el próximo nodo.
	ErrNotHealthy = errors.New("orchestrator: cluster never became green before restart")
	// ErrNotRecovered: el cluster no volvió a GREEN después de reiniciar un nodo.
	ErrNotRecovered = errors.New("orchestrator: cluster did not recover after restart")
	ErrBadPolicy    = errors.New("orchestrator: every wait must be bounded")
)

// Target es lo que el orquestador necesita de un driver.
type Target interface {
	// Nodes devuelve etiquetas de los nodos en orden de restart.
	Nodes() []string
	// Health nunca falla: un cluster inalcanzable es RED o UNKNOWN.
	Health(ctx context.Context) cluster.HealthStatus
	// RestartNode envía el restart autenticado al agente del nodo i.
	// Un error se registra pero no detiene la máquina.
	RestartNode(ctx context.Context, i int) error
}

// Policy define los intervalos y límites de las esperas.
type Policy struct {
	// HealthInterval/HealthAttempts acotan WAIT_HEALTHY.
	HealthInterval time.Duration
	HealthAttempts int
	// SettleDelay se espera después de enviar el restart, antes de consultar salud.
	SettleDelay time.Duration
	// RecoverInterval/RecoverAttempts acotan WAIT_RECOVERED.
	RecoverInterval time.Duration
	RecoverAttempts int
}

// Validate rechaza esperas sin límite.
func (p Policy) Validate() error {
	if p.HealthAttempts <= 0 || p.RecoverAttempts <= 0 {
		return ErrBadPolicy
	}
	if p.HealthInterval < 0 || p.RecoverInterval < 0 || p.SettleDelay < 0 {
		return fmt.Errorf("%w: negative interval", ErrBadPolicy)
	}
	return nil
}

// DocumentStorePolicy: poll cada 10s. El límite de recuperación (60 intentos = 10m)
// reemplaza la espera sin cota.
func DocumentStorePolicy() Policy {
	return Policy{
		HealthInterval:  10 * time.Second,
		HealthAttempts:  60,
		SettleDelay:     10 * time.Second,
		RecoverInterval: 10 * time.Second,
		RecoverAttempts: 60,
	}
}

// KeyValuePolicy: 5 intentos cada 5s antes y después de cada restart.
func KeyValuePolicy() Policy {
	return Policy{
		HealthInterval:  5 * time.Second,
		HealthAttempts:  5,
		SettleDelay:     10 * time.Second,
		RecoverInterval: 5 * time.Second,
		RecoverAttempts: 5,
	}
}

// Result es el resultado de un rolling restart, incluyendo el avance parcial.
type Result struct {
	State      State
	Restarted  []string
	FailedNode string
	Err        error
	Duration   time.Duration
}

// OK reporta si todos los nodos fueron procesados.
func (r Result) OK() bool { return r.State == Done }

// Outcome traduce el resultado al formato de operación fan-out.
func (r Result) Outcome() cluster.Outcome {
	if r.OK() {
		return cluster.Succeeded()
	}
	node := r.FailedNode
	if node == "" {
		node = "cluster"
	}
	return cluster.Failed(node, "%v (restarted before failure: %d)", r.Err, len(r.Restarted))
}

// Sleeper espera d o hasta que ctx termine.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext es el Sleeper real.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Orchestrator ejecuta rolling restarts. Un valor puede usarse para varias corridas
// independientes; no guarda estado entre ellas.
type Orchestrator struct {
	solution string
	sleep    Sleeper
	log      *zap.Logger
}

// Option configura el Orchestrator.
type Option func(*Orchestrator)

// WithSleeper reemplaza la espera real (tests).
func WithSleeper(s Sleeper) Option { return func(o *Orchestrator) { o.sleep = s } }

// WithLogger fija el logger base. Sin él se usa el logger de ctx en cada Run.
func WithLogger(l *zap.Logger) Option { return func(o *Orchestrator) { o.log = l } }

// New crea un Orchestrator para la solución dada (etiqueta de métricas/logs).
func New(solution string, opts ...Option) *Orchestrator {
	o := &Orchestrator{solution: solution, sleep: SleepContext}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run reinicia los nodos de t en orden. Nunca reinicia el nodo i+1 sin haber
// observado GREEN después del restart del nodo i.
func (o *Orchestrator) Run(ctx context.Context, t Target, p Policy) (res Result) {
	start := time.Now()
	base := o.log
	if base == nil {
		base = logger.FromWithFields(ctx, logger.Component("orchestrator"))
	}
	log := base.With(logger.Solution(o.solution))
	defer func() {
		res.Duration = time.Since(start)
		metrics.RollingRestartDuration.WithLabelValues(o.solution, string(res.State)).Observe(res.Duration.Seconds())
	}()

	if err := p.Validate(); err != nil {
		return Result{State: Failed, Err: err}
	}

	nodes := t.Nodes()
	for i, node := range nodes {
		nlog := log.With(logger.Node(node))

		nlog.Debug("state", logger.State(string(WaitHealthy)))
		if err := o.waitGreen(ctx, t, p.HealthInterval, p.HealthAttempts, nlog); err != nil {
			if ctx.Err() == nil {
				err = fmt.Errorf("%w: before %s", ErrNotHealthy, node)
			}
			nlog.Error("rolling restart aborted", logger.State(string(WaitHealthy)), logger.Err(err))
			return Result{State: Failed, Restarted: res.Restarted, FailedNode: node, Err: err}
		}

		nlog.Info("cluster green, restarting node", logger.State(string(Restarting)))
		if err := t.RestartNode(ctx, i); err != nil {
			// Se sigue a WAIT_RECOVERED: la salud real decide, no el status HTTP.
			metrics.RestartsIssued.WithLabelValues(o.solution, "error").Inc()
			nlog.Warn("restart command failed", logger.Err(err))
		} else {
			metrics.RestartsIssued.WithLabelValues(o.solution, "accepted").Inc()
		}
		res.Restarted = append(res.Restarted, node)

		if err := o.sleep(ctx, p.SettleDelay); err != nil {
			return Result{State: Failed, Restarted: res.Restarted, FailedNode: node, Err: err}
		}

		nlog.Debug("state", logger.State(string(WaitRecovered)))
		if err := o.waitGreen(ctx, t, p.RecoverInterval, p.RecoverAttempts, nlog); err != nil {
			if ctx.Err() == nil {
				err = fmt.Errorf("%w: %s", ErrNotRecovered, node)
			}
			nlog.Error("node failed to recover", logger.State(string(WaitRecovered)), logger.Err(err))
			return Result{State: Failed, Restarted: res.Restarted, FailedNode: node, Err: err}
		}
		nlog.Info("node recovered", logger.Count(i+1), logger.Int("total", len(nodes)))
	}

	log.Info("rolling restart done", logger.Count(len(nodes)))
	return Result{State: Done, Restarted: res.Restarted}
}

// waitGreen consulta salud hasta GREEN, a lo sumo attempts veces.
func (o *Orchestrator) waitGreen(ctx context.Context, t Target, interval time.Duration, attempts int, log *zap.Logger) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		h := t.Health(ctx)
		metrics.HealthPolls.WithLabelValues(o.solution, h.String()).Inc()
		if h.Green() {
			return nil
		}
		log.Info("cluster not green, waiting", logger.Health(h.String()), logger.Attempt(attempt))
		if attempt >= attempts {
			return errExhausted
		}
		if err := o.sleep(ctx, interval); err != nil {
			return err
		}
	}
}

var errExhausted = errors.New("attempts exhausted")
