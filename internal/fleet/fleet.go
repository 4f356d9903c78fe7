// Package fleet mantiene a los agentes en la versión esperada: clasifica cada agente,
// distribuye el payload del agente a los desincronizados y verifica que converjan
// después de reiniciarse.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/clusterctl/internal/agent"
	"github.com/dropDatabas3/clusterctl/internal/cluster"
	"github.com/dropDatabas3/clusterctl/internal/metrics"
	"github.com/dropDatabas3/clusterctl/internal/observability/logger"
	"github.com/dropDatabas3/clusterctl/internal/orchestrator"
	"github.com/dropDatabas3/clusterctl/internal/token"
)

const (
	// MaxFiles acota cuántos archivos del directorio del agente se cargan.
	MaxFiles = 10000

	DefaultVerifyAttempts = 10
	DefaultVerifyInterval = 500 * time.Millisecond
)

var (
	ErrNoVersion = errors.New("fleet: expected agent version not configured")
	ErrNoTokens  = errors.New("fleet: no token authenticator, agent commands disabled")
)

// Payload es el conjunto numerado de archivos a subir ("0".."N-1" -> contenido).
// Se pasa explícitamente en cada sync; no hay cache entre llamadas.
type Payload map[string][]byte

// LoadPayload lee hasta max archivos regulares de dir (no recursivo, orden por nombre).
func LoadPayload(dir string, max int) (Payload, error) {
	if max <= 0 || max > MaxFiles {
		max = MaxFiles
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("fleet: read agent dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	out := Payload{}
	for _, e := range entries {
		if len(out) >= max {
			break
		}
		if !e.Type().IsRegular() {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("fleet: read %s: %w", e.Name(), err)
		}
		out[agent.FileName(len(out))] = b
	}
	return out, nil
}

// Options configura un Fleet.
type Options struct {
	ExpectedVersion string
	StatusTimeout   time.Duration
	VerifyAttempts  int
	VerifyInterval  time.Duration
	Parallelism     int
	Sleep           orchestrator.Sleeper
	Logger          *zap.Logger
}

// Fleet opera sobre un conjunto de agentes. La versión esperada es de sólo lectura.
type Fleet struct {
	agents *agent.Client
	tokens *token.Authenticator
	opts   Options
	log    *zap.Logger
}

// New crea un Fleet. tokens puede ser nil: Scan funciona, Sync y VerifyRestart fallan.
func New(agents *agent.Client, tokens *token.Authenticator, opts Options) (*Fleet, error) {
	if opts.ExpectedVersion == "" {
		return nil, ErrNoVersion
	}
	if opts.VerifyAttempts <= 0 {
		opts.VerifyAttempts = DefaultVerifyAttempts
	}
	if opts.VerifyInterval <= 0 {
		opts.VerifyInterval = DefaultVerifyInterval
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 8
	}
	if opts.Sleep == nil {
		opts.Sleep = orchestrator.SleepContext
	}
	l := opts.Logger
	if l == nil {
		l = logger.Named("fleet")
	}
	return &Fleet{agents: agents, tokens: tokens, opts: opts, log: l}, nil
}

// Classify compara un resultado de Status con la versión esperada.
func (f *Fleet) Classify(st agent.StatusReply, err error) cluster.SyncState {
	if err != nil {
		return cluster.Unreachable
	}
	if st.Version != f.opts.ExpectedVersion {
		return cluster.Unsynced
	}
	return cluster.Synced
}

// Scan clasifica cada agente en paralelo.
func (f *Fleet) Scan(ctx context.Context, eps []cluster.AgentEndpoint) map[cluster.AgentEndpoint]cluster.SyncState {
	eps = Unique(eps)
	states := make([]cluster.SyncState, len(eps))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Parallelism)
	for i, ep := range eps {
		i, ep := i, ep
		g.Go(func() error {
			st, err := f.agents.Status(gctx, ep, f.opts.StatusTimeout)
			states[i] = f.Classify(st, err)
			f.log.Debug("agent scanned", logger.Agent(ep.Addr()),
				logger.AgentVersion(st.Version), logger.String("sync_state", states[i].String()))
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[cluster.AgentEndpoint]cluster.SyncState, len(eps))
	for i, ep := range eps {
		out[ep] = states[i]
	}
	return out
}

// Sync sube payload (más un token nuevo) a cada agente. Resultado: AND de los uploads.
func (f *Fleet) Sync(ctx context.Context, eps []cluster.AgentEndpoint, payload Payload) bool {
	eps = Unique(eps)
	if len(eps) == 0 {
		return true
	}
	if f.tokens == nil {
		f.log.Error("agent sync", logger.Err(ErrNoTokens))
		return false
	}
	tok, err := f.tokens.Issue()
	if err != nil {
		f.log.Error("issue token", logger.Err(err))
		return false
	}
	ok := make([]bool, len(eps))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Parallelism)
	for i, ep := range eps {
		i, ep := i, ep
		g.Go(func() error {
			ok[i] = f.agents.Upload(gctx, ep, payload, tok)
			if ok[i] {
				metrics.AgentSyncs.WithLabelValues("ok").Inc()
			} else {
				metrics.AgentSyncs.WithLabelValues("failed").Inc()
			}
			return nil
		})
	}
	_ = g.Wait()

	all := true
	for _, v := range ok {
		all = all && v
	}
	return all
}

// VerifyRestart reinicia el agente y consulta Status hasta ver la versión esperada,
// a lo sumo VerifyAttempts veces.
func (f *Fleet) VerifyRestart(ctx context.Context, ep cluster.AgentEndpoint) bool {
	log := f.log.With(logger.Agent(ep.Addr()))
	if f.tokens == nil {
		log.Error("agent restart", logger.Err(ErrNoTokens))
		return false
	}
	tok, err := f.tokens.Issue()
	if err != nil {
		log.Error("issue token", logger.Err(err))
		return false
	}
	res, err := f.agents.Restart(ctx, ep, tok)
	if err != nil {
		log.Warn("agent restart failed", logger.Err(err))
		return false
	}
	log.Info("agent restart issued", logger.String("result", res.String()))

	for attempt := 1; attempt <= f.opts.VerifyAttempts; attempt++ {
		if err := f.opts.Sleep(ctx, f.opts.VerifyInterval); err != nil {
			return false
		}
		st, err := f.agents.Status(ctx, ep, f.opts.StatusTimeout)
		if f.Classify(st, err) == cluster.Synced {
			log.Info("agent converged", logger.Attempt(attempt), logger.AgentVersion(st.Version))
			return true
		}
	}
	log.Warn("agent did not converge", logger.Attempt(f.opts.VerifyAttempts))
	return false
}

// Report resume una convergencia completa.
type Report struct {
	States    map[cluster.AgentEndpoint]cluster.SyncState
	Synced    bool
	Converged []cluster.AgentEndpoint
	Failed    []cluster.AgentEndpoint
}

// OK reporta si todos los agentes alcanzables quedaron en la versión esperada.
func (r Report) OK() bool { return r.Synced && len(r.Failed) == 0 }

// Converge hace scan, sube el payload a los desincronizados y reinicia y verifica cada uno.
// Los agentes inalcanzables se reportan pero no se tocan.
func (f *Fleet) Converge(ctx context.Context, eps []cluster.AgentEndpoint, payload Payload) Report {
	eps = Unique(eps)
	rep := Report{States: f.Scan(ctx, eps), Synced: true}
	var unsynced []cluster.AgentEndpoint
	for _, ep := range eps {
		if rep.States[ep] == cluster.Unsynced {
			unsynced = append(unsynced, ep)
		}
	}
	if len(unsynced) == 0 {
		return rep
	}
	rep.Synced = f.Sync(ctx, unsynced, payload)
	if !rep.Synced {
		rep.Failed = unsynced
		return rep
	}
	for _, ep := range unsynced {
		if f.VerifyRestart(ctx, ep) {
			rep.Converged = append(rep.Converged, ep)
		} else {
			rep.Failed = append(rep.Failed, ep)
		}
	}
	return rep
}

// Unique quita endpoints repetidos conservando el primer orden de aparición.
// Varios nodos en el mismo host comparten agente.
func Unique(eps []cluster.AgentEndpoint) []cluster.AgentEndpoint {
	seen := make(map[cluster.AgentEndpoint]struct{}, len(eps))
	out := make([]cluster.AgentEndpoint, 0, len(eps))
	for _, ep := range eps {
		if _, ok := seen[ep]; ok {
			continue
		}
		seen[ep] = struct{}{}
		out = append(out, ep)
	}
	return out
}
