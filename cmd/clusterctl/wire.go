package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dropDatabas3/clusterctl/internal/agent"
	"github.com/dropDatabas3/clusterctl/internal/audit"
	"github.com/dropDatabas3/clusterctl/internal/config"
	"github.com/dropDatabas3/clusterctl/internal/credentials"
	"github.com/dropDatabas3/clusterctl/internal/driver"
	"github.com/dropDatabas3/clusterctl/internal/driver/elastic"
	"github.com/dropDatabas3/clusterctl/internal/driver/redis"
	"github.com/dropDatabas3/clusterctl/internal/fleet"
	"github.com/dropDatabas3/clusterctl/internal/observability/logger"
	"github.com/dropDatabas3/clusterctl/internal/ops"
	"github.com/dropDatabas3/clusterctl/internal/orchestrator"
	"github.com/dropDatabas3/clusterctl/internal/token"
)

var errNoAgentKey = errors.New("falta el secreto de los agentes (agent.secret o env AGENT_KEY)")

// buildService arma el ops.Service desde el config. needsToken exige AGENT_KEY
// para las operaciones que envían comandos a los agentes.
func buildService(cfg *config.Config, needsToken bool) (*ops.Service, error) {
	var tokens *token.Authenticator
	if cfg.Agent.Secret != "" {
		var err error
		tokens, err = token.New(cfg.Agent.Secret, token.WithTTL(config.Duration(cfg.Agent.TokenTTL, token.DefaultTTL)))
		if err != nil {
			return nil, err
		}
	} else if needsToken {
		return nil, errNoAgentKey
	}

	agents := agent.NewClient(agent.Options{
		StatusTimeout:  config.Duration(cfg.Agent.StatusTimeout, agent.DefaultStatusTimeout),
		CommandTimeout: config.Duration(cfg.Agent.CommandTimeout, agent.DefaultCommandTimeout),
		Logger:         logger.Named("agent"),
	})

	deps := driver.Deps{
		Agents:      agents,
		Tokens:      tokens,
		Parallelism: cfg.Agent.Parallelism,
	}

	esOpts := elastic.Options{
		InsecureSkipVerify: cfg.Elasticsearch.InsecureSkipVerify,
		ProbeTimeout:       config.Duration(cfg.Elasticsearch.ProbeTimeout, elastic.DefaultProbeTimeout),
	}
	if dir := cfg.Elasticsearch.TemplatesDir; dir != "" {
		esOpts.Templates = elastic.TemplatesDir(dir)
	}
	rdOpts := redis.Options{
		InsecureSkipVerify: cfg.Redis.InsecureSkipVerify,
		PingTimeout:        config.Duration(cfg.Redis.PingTimeout, redis.DefaultPingTimeout),
	}

	var fl *fleet.Fleet
	// Sin secreto el fleet sólo puede hacer scan.
	if cfg.Agent.Version != "" {
		var err error
		fl, err = fleet.New(agents, tokens, fleet.Options{
			ExpectedVersion: cfg.Agent.Version,
			StatusTimeout:   config.Duration(cfg.Agent.StatusTimeout, agent.DefaultStatusTimeout),
			VerifyAttempts:  cfg.Fleet.VerifyAttempts,
			VerifyInterval:  config.Duration(cfg.Fleet.VerifyInterval, fleet.DefaultVerifyInterval),
			Parallelism:     cfg.Agent.Parallelism,
			Logger:          logger.Named("fleet"),
		})
		if err != nil {
			return nil, err
		}
	}

	creds := credentials.NewCached(
		credentials.Static(cfg.CredentialsByCluster()),
		config.Duration(cfg.Credentials.CacheTTL, 0),
	)

	return ops.New(ops.Options{
		Deps: deps,
		Policies: map[driver.Solution]orchestrator.Policy{
			driver.Elasticsearch: policyFrom(orchestrator.DocumentStorePolicy(), cfg.Elasticsearch.Policy),
			driver.Redis:         policyFrom(orchestrator.KeyValuePolicy(), cfg.Redis.Policy),
		},
		Factory:     ops.DefaultFactory(esOpts, rdOpts),
		Credentials: creds,
		Audit:       audit.NewLogWriter(logger.Named("audit")),
		Fleet:       fl,
		PayloadDir:  cfg.Agent.Dir,
		MaxFiles:    cfg.Agent.MaxFiles,
		AgentPort:   cfg.Agent.Port,
		Logger:      logger.Named("ops"),
	}), nil
}

// policyFrom pisa base con los campos presentes en c.
func policyFrom(base orchestrator.Policy, c config.Policy) orchestrator.Policy {
	base.HealthInterval = config.Duration(c.HealthInterval, base.HealthInterval)
	base.SettleDelay = config.Duration(c.SettleDelay, base.SettleDelay)
	base.RecoverInterval = config.Duration(c.RecoverInterval, base.RecoverInterval)
	if c.HealthAttempts > 0 {
		base.HealthAttempts = c.HealthAttempts
	}
	if c.RecoverAttempts > 0 {
		base.RecoverAttempts = c.RecoverAttempts
	}
	return base
}

// request arma el ops.Request desde los flags, resolviendo --cluster contra el config.
// Los flags explícitos pisan lo definido en el config.
func (g *globals) request(op ops.Op) (ops.Request, error) {
	req := ops.Request{
		Executor:    "clusterctl",
		User:        g.user,
		Cluster:     g.cluster,
		Solution:    g.solution,
		Nodes:       g.nodes,
		Credentials: g.auth,
		Op:          op,
	}
	if cl, ok := g.cfg.Clusters[g.cluster]; ok && g.cluster != "" {
		if req.Solution == "" {
			req.Solution = cl.Solution
		}
		if len(req.Nodes) == 0 {
			req.Nodes = cl.Nodes
		}
		req.AgentPort = cl.AgentPort
	}
	if req.Solution == "" {
		return req, fmt.Errorf("--solution es requerido (o --cluster definido en config)")
	}
	if len(req.Nodes) == 0 {
		return req, fmt.Errorf("--nodes es requerido (o --cluster definido en config)")
	}
	if req.Cluster == "" {
		req.Cluster = strings.Join(req.Nodes, ",")
	}
	return req, nil
}
