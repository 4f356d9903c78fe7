// Package redis es la variante key-value del driver. No hay endpoint de salud de
// cluster: el cluster está sano sólo si cada nodo responde PONG.
package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	rdb "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/clusterctl/internal/agent"
	"github.com/dropDatabas3/clusterctl/internal/cluster"
	"github.com/dropDatabas3/clusterctl/internal/driver"
	"github.com/dropDatabas3/clusterctl/internal/observability/logger"
	"github.com/dropDatabas3/clusterctl/internal/orchestrator"
)

const (
	Solution = string(driver.Redis)

	DefaultPingTimeout = 2 * time.Second
)

var (
	ErrNoPong      = errors.New("redis: node did not answer PONG")
	ErrUnreachable = errors.New("redis: no node answered")
	ErrNoConfig    = errors.New("redis: no agent returned a configuration")
)

// Pinger autentica y hace PING contra un nodo.
type Pinger func(ctx context.Context, n cluster.Node, creds *cluster.Credentials) error

// Options configura el driver.
type Options struct {
	PingTimeout time.Duration
	// InsecureSkipVerify aplica a nodos con TLS (rediss://).
	InsecureSkipVerify bool
	// Ping reemplaza el ping real (tests).
	Ping Pinger
}

// Driver implementa driver.Driver para clusters tipo Redis.
type Driver struct {
	cl   *cluster.Cluster
	deps driver.Deps
	ping Pinger
	log  *zap.Logger
}

var _ driver.Driver = (*Driver)(nil)

// New crea el driver. Se construye uno por request.
func New(cl *cluster.Cluster, deps driver.Deps, opts Options) *Driver {
	d := &Driver{cl: cl, deps: deps, ping: opts.Ping, log: deps.Log(Solution).With(logger.Cluster(cl.Name))}
	if d.ping == nil {
		d.ping = GoRedisPinger(opts.PingTimeout, opts.InsecureSkipVerify)
	}
	return d
}

// GoRedisPinger hace AUTH (vía Options) + PING con go-redis, sin reintentos.
func GoRedisPinger(timeout time.Duration, insecure bool) Pinger {
	if timeout <= 0 {
		timeout = DefaultPingTimeout
	}
	return func(ctx context.Context, n cluster.Node, creds *cluster.Credentials) error {
		opts := &rdb.Options{
			Addr:             n.Addr(),
			DialTimeout:      timeout,
			ReadTimeout:      timeout,
			WriteTimeout:     timeout,
			MaxRetries:       -1,
			PoolSize:         1,
			Protocol:         2,
			DisableIndentity: true,
		}
		if creds != nil {
			opts.Username = creds.Principal
			opts.Password = creds.Secret
		}
		if n.Encrypted {
			opts.TLSConfig = &tls.Config{ServerName: n.Host, InsecureSkipVerify: insecure} //nolint:gosec
		}
		c := rdb.NewClient(opts)
		defer c.Close()

		res, err := c.Ping(ctx).Result()
		if err != nil {
			return err
		}
		if res != "PONG" {
			return fmt.Errorf("%w: %q", ErrNoPong, res)
		}
		return nil
	}
}

// pingAll devuelve cuántos nodos respondieron PONG.
func (d *Driver) pingAll(ctx context.Context) int {
	ok := make([]bool, len(d.cl.Nodes))
	g, gctx := errgroup.WithContext(ctx)
	for i, n := range d.cl.Nodes {
		i, n := i, n
		g.Go(func() error {
			if err := d.ping(gctx, n, d.cl.Credentials); err != nil {
				d.log.Debug("ping failed", logger.Node(n.Addr()), logger.Err(err))
				return nil
			}
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()
	alive := 0
	for _, v := range ok {
		if v {
			alive++
		}
	}
	return alive
}

// Connect falla si ningún nodo responde.
func (d *Driver) Connect(ctx context.Context) error {
	if d.pingAll(ctx) == 0 {
		return ErrUnreachable
	}
	return nil
}

// Health es la conjunción sobre los nodos: GREEN si todos responden PONG,
// UNKNOWN si ninguno, RED en otro caso.
func (d *Driver) Health(ctx context.Context) cluster.HealthStatus {
	alive := d.pingAll(ctx)
	switch {
	case alive == len(d.cl.Nodes):
		return cluster.HealthGreen
	case alive == 0:
		return cluster.HealthUnknown
	default:
		return cluster.HealthRed
	}
}

// Restart ejecuta el rolling restart vía /redis/command/restart.
func (d *Driver) Restart(ctx context.Context) orchestrator.Result {
	return driver.RunRestart(ctx, Solution, &driver.RestartTarget{
		Cluster: d.cl,
		Deps:    d.deps,
		Command: agent.RedisRestart,
		Check:   d.Health,
	})
}

// GetConfig pide la configuración viva al primer agente que responda, en orden.
func (d *Driver) GetConfig(ctx context.Context) (cluster.ConfigDocument, error) {
	var lastErr error
	for i, ep := range d.cl.Agents() {
		node := d.cl.Nodes[i]
		tok, err := d.deps.Tokens.Issue()
		if err != nil {
			return nil, fmt.Errorf("issue token: %w", err)
		}
		resp, err := d.deps.Agents.Dispatch(ctx, ep, agent.RedisGetConfig, node.Port, nil, tok)
		if err != nil {
			lastErr = err
			d.log.Warn("get_config failed, trying next agent", logger.Agent(ep.Addr()), logger.Err(err))
			continue
		}
		if !resp.OK() {
			lastErr = fmt.Errorf("agent %s: %w %d", ep, agent.ErrUnexpectedStatus, resp.StatusCode)
			d.log.Warn("get_config rejected, trying next agent", logger.Agent(ep.Addr()), logger.Status(resp.StatusCode))
			continue
		}
		var nested map[string]any
		if err := resp.DecodeJSON(&nested); err != nil {
			lastErr = err
			continue
		}
		return cluster.Flatten(nested), nil
	}
	if lastErr == nil {
		return nil, ErrNoConfig
	}
	return nil, fmt.Errorf("%w: %v", ErrNoConfig, lastErr)
}

// SetConfig envía doc a /redis/command/set_config de cada agente.
func (d *Driver) SetConfig(ctx context.Context, doc cluster.ConfigDocument) cluster.Outcome {
	return driver.SetConfig(ctx, d.deps, d.cl, agent.RedisSetConfig, doc)
}
