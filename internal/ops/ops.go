// Package ops ejecuta una operación pedida por un usuario sobre un cluster: arma el
// cluster y el driver de la solución, corre la operación y deja un registro de auditoría.
package ops

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dropDatabas3/clusterctl/internal/audit"
	"github.com/dropDatabas3/clusterctl/internal/cluster"
	"github.com/dropDatabas3/clusterctl/internal/credentials"
	"github.com/dropDatabas3/clusterctl/internal/driver"
	"github.com/dropDatabas3/clusterctl/internal/driver/elastic"
	"github.com/dropDatabas3/clusterctl/internal/driver/redis"
	"github.com/dropDatabas3/clusterctl/internal/fleet"
	"github.com/dropDatabas3/clusterctl/internal/metrics"
	"github.com/dropDatabas3/clusterctl/internal/observability/logger"
	"github.com/dropDatabas3/clusterctl/internal/orchestrator"
)

// Op es una operación soportada.
type Op string

const (
	OpHealth     Op = "health"
	OpRestart    Op = "restart"
	OpGetConfig  Op = "get-config"
	OpSetConfig  Op = "set-config"
	OpAgentsScan Op = "agents-scan"
	OpAgentsSync Op = "agents-sync"
)

var (
	ErrUnknownSolution = errors.New("ops: unknown solution")
	ErrUnknownOp       = errors.New("ops: unknown operation")
	ErrUnsupported     = errors.New("ops: operation not supported by solution")
	ErrFleetDisabled   = errors.New("ops: agent fleet not configured")
	ErrEmptyConfig     = errors.New("ops: empty configuration document")
)

// Request es una operación pedida. Credentials vacío se resuelve con el Lookup por Cluster.
type Request struct {
	Executor    string
	User        string
	Cluster     string
	Solution    string
	Nodes       []string
	Credentials string
	AgentPort   int
	Op          Op
	Config      cluster.ConfigDocument
}

// Result agrupa lo que devuelve cada operación; sólo se llenan los campos de Op.
type Result struct {
	RunID   string
	Op      Op
	Health  cluster.HealthStatus
	Restart *orchestrator.Result
	Config  cluster.ConfigDocument
	Outcome cluster.Outcome
	Agents  map[cluster.AgentEndpoint]cluster.SyncState
	Fleet   *fleet.Report
	Err     error
}

// OK reporta si la operación terminó bien.
func (r Result) OK() bool {
	if r.Err != nil {
		return false
	}
	switch r.Op {
	case OpHealth:
		return r.Health.Green()
	case OpRestart:
		return r.Restart != nil && r.Restart.OK()
	case OpSetConfig:
		return r.Outcome.Success
	case OpAgentsScan:
		return anyReachable(r.Agents)
	case OpAgentsSync:
		return r.Fleet != nil && r.Fleet.OK()
	}
	return true
}

// anyReachable reporta si al menos un agente respondió al scan.
func anyReachable(states map[cluster.AgentEndpoint]cluster.SyncState) bool {
	for _, st := range states {
		if st != cluster.Unreachable {
			return true
		}
	}
	return false
}

// Factory construye el driver de una solución.
type Factory func(s driver.Solution, cl *cluster.Cluster, deps driver.Deps) (driver.Driver, error)

// DefaultFactory construye los drivers elastic y redis con las opciones dadas.
func DefaultFactory(es elastic.Options, rd redis.Options) Factory {
	return func(s driver.Solution, cl *cluster.Cluster, deps driver.Deps) (driver.Driver, error) {
		switch s {
		case driver.Elasticsearch:
			return elastic.New(cl, deps, es), nil
		case driver.Redis:
			return redis.New(cl, deps, rd), nil
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownSolution, s)
	}
}

// Options configura el Service.
type Options struct {
	Deps     driver.Deps
	Policies map[driver.Solution]orchestrator.Policy
	Factory  Factory
	// Credentials puede ser nil: los clusters sin credenciales se acceden anónimos.
	Credentials credentials.Lookup
	Audit       audit.Writer
	// Fleet y PayloadDir habilitan agents-scan/agents-sync.
	Fleet      *fleet.Fleet
	PayloadDir string
	MaxFiles   int
	AgentPort  int
	Logger     *zap.Logger
	NewRunID   func() string
}

// Service ejecuta Requests. El estado compartido es de sólo lectura.
type Service struct {
	opts Options
	log  *zap.Logger
}

func New(opts Options) *Service {
	if opts.Factory == nil {
		opts.Factory = DefaultFactory(elastic.Options{}, redis.Options{})
	}
	if opts.Audit == nil {
		opts.Audit = audit.NewLogWriter(nil)
	}
	if opts.NewRunID == nil {
		opts.NewRunID = func() string { return uuid.NewString() }
	}
	if opts.AgentPort == 0 {
		opts.AgentPort = cluster.DefaultAgentPort
	}
	l := opts.Logger
	if l == nil {
		l = logger.Named("ops")
	}
	return &Service{opts: opts, log: l}
}

// Execute corre req. El error de retorno es para requests inválidos (solución u
// operación desconocida, nodos mal formados); los fallos de la operación van en Result.
func (s *Service) Execute(ctx context.Context, req Request) (Result, error) {
	res := Result{RunID: s.opts.NewRunID(), Op: req.Op}
	log := s.log.With(logger.RunID(res.RunID), logger.Op(string(req.Op)), logger.Cluster(req.Cluster))
	ctx = logger.ToContext(ctx, log)

	entry, ok := driver.Lookup(req.Solution)
	if !ok {
		return res, fmt.Errorf("%w: %q", ErrUnknownSolution, req.Solution)
	}
	if err := checkSupported(entry, req.Op); err != nil {
		return res, err
	}

	creds, err := s.credentials(ctx, req)
	if err != nil {
		return res, err
	}
	cl, err := cluster.New(req.Cluster, req.Nodes, entry.DefaultPort, cluster.ParseCredentials(creds))
	if err != nil {
		return res, fmt.Errorf("ops: cluster %q: %w", req.Cluster, err)
	}
	cl.AgentPort = s.opts.AgentPort
	if req.AgentPort != 0 {
		cl.AgentPort = req.AgentPort
	}

	start := time.Now()
	res = s.run(ctx, entry.Solution, cl, req, res)
	dur := time.Since(start)

	succeeded := res.OK()
	result := "ok"
	if !succeeded {
		result = "failed"
	}
	metrics.Operations.WithLabelValues(string(entry.Solution), string(req.Op), result).Inc()
	log.Info("operation finished", logger.Solution(string(entry.Solution)),
		logger.Bool("ok", succeeded), logger.Duration(dur))

	rec := audit.Record{
		Executor:  req.Executor,
		User:      req.User,
		Cluster:   req.Cluster,
		Solution:  string(entry.Solution),
		Op:        string(req.Op),
		RunID:     res.RunID,
		Timestamp: start.UTC(),
		Success:   succeeded,
		Failures:  failures(res),
		Duration:  dur,
	}
	if err := s.opts.Audit.Write(ctx, rec); err != nil {
		log.Warn("audit write failed", logger.Err(err))
	}
	return res, nil
}

func (s *Service) run(ctx context.Context, sol driver.Solution, cl *cluster.Cluster, req Request, res Result) Result {
	switch req.Op {
	case OpAgentsScan, OpAgentsSync:
		return s.runFleet(ctx, cl, req, res)
	}

	deps := s.opts.Deps
	if p, ok := s.opts.Policies[sol]; ok {
		deps.Policy = p
	} else {
		deps.Policy = DefaultPolicy(sol)
	}
	d, err := s.opts.Factory(sol, cl, deps)
	if err != nil {
		res.Err = err
		return res
	}

	switch req.Op {
	case OpHealth:
		res.Health = d.Health(ctx)
	case OpRestart:
		r := d.Restart(ctx)
		res.Restart = &r
		res.Err = r.Err
	case OpGetConfig:
		res.Config, res.Err = d.GetConfig(ctx)
	case OpSetConfig:
		if len(req.Config) == 0 {
			res.Err = ErrEmptyConfig
			return res
		}
		res.Outcome = d.SetConfig(ctx, req.Config)
	}
	return res
}

func (s *Service) runFleet(ctx context.Context, cl *cluster.Cluster, req Request, res Result) Result {
	if s.opts.Fleet == nil {
		res.Err = ErrFleetDisabled
		return res
	}
	eps := cl.Agents()
	if req.Op == OpAgentsScan {
		res.Agents = s.opts.Fleet.Scan(ctx, eps)
		return res
	}
	payload, err := fleet.LoadPayload(s.opts.PayloadDir, s.opts.MaxFiles)
	if err != nil {
		res.Err = err
		return res
	}
	rep := s.opts.Fleet.Converge(ctx, eps, payload)
	res.Fleet = &rep
	res.Agents = rep.States
	return res
}

func (s *Service) credentials(ctx context.Context, req Request) (string, error) {
	if req.Credentials != "" || s.opts.Credentials == nil || req.Cluster == "" {
		return req.Credentials, nil
	}
	v, err := s.opts.Credentials.Lookup(ctx, req.Cluster)
	if errors.Is(err, credentials.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("ops: credentials for %q: %w", req.Cluster, err)
	}
	return v, nil
}

// DefaultPolicy es la política de rolling restart de cada solución.
func DefaultPolicy(s driver.Solution) orchestrator.Policy {
	if s == driver.Redis {
		return orchestrator.KeyValuePolicy()
	}
	return orchestrator.DocumentStorePolicy()
}

func checkSupported(e driver.Entry, op Op) error {
	switch op {
	case OpHealth:
		if e.Supports(driver.ClusterHealthCheck) || e.Supports(driver.Ping) {
			return nil
		}
	case OpRestart:
		if e.Supports(driver.RollingRestart) {
			return nil
		}
	case OpAgentsSync:
		if e.Supports(driver.FileTransfer) {
			return nil
		}
	case OpGetConfig, OpSetConfig, OpAgentsScan:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, op)
	}
	return fmt.Errorf("%w: %s %s", ErrUnsupported, e.Solution, op)
}

func failures(res Result) []cluster.Failure {
	switch {
	case res.Restart != nil && !res.Restart.OK():
		return res.Restart.Outcome().Failures
	case res.Op == OpSetConfig && !res.Outcome.Success:
		return res.Outcome.Failures
	case res.Fleet != nil:
		out := make([]cluster.Failure, 0, len(res.Fleet.Failed))
		for _, ep := range res.Fleet.Failed {
			out = append(out, cluster.Failure{Node: ep.Addr(), Message: "agent not synced"})
		}
		return out
	case res.Err != nil:
		return []cluster.Failure{{Node: "cluster", Message: res.Err.Error()}}
	case res.Op == OpAgentsScan:
		var out []cluster.Failure
		for ep, st := range res.Agents {
			if st == cluster.Unreachable {
				out = append(out, cluster.Failure{Node: ep.Addr(), Message: "agent unreachable"})
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Node < out[j].Node })
		return out
	}
	return nil
}
