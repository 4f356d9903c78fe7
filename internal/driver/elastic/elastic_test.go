package elastic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dropDatabas3/clusterctl/internal/agent"
	"github.com/dropDatabas3/clusterctl/internal/agent/agenttest"
	"github.com/dropDatabas3/clusterctl/internal/cluster"
	"github.com/dropDatabas3/clusterctl/internal/driver"
	"github.com/dropDatabas3/clusterctl/internal/orchestrator"
	"github.com/dropDatabas3/clusterctl/internal/token"
)

// fakeES responde /, /_cluster/health (según guion) y /_cluster/settings.
type fakeES struct {
	mu       sync.Mutex
	version  string
	health   []string
	pos      int
	delay    time.Duration
	settings map[string]any
	user     string
	pass     string
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.user != "" {
		u, p, ok := r.BasicAuth()
		if !ok || u != f.user || p != f.pass {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/":
		_ = json.NewEncoder(w).Encode(map[string]any{
			"cluster_name": "prod-logs",
			"version":      map[string]any{"number": f.version},
		})
	case "/_cluster/health":
		f.mu.Lock()
		delay := f.delay
		f.delay = 0
		s := f.health[len(f.health)-1]
		if f.pos < len(f.health) {
			s = f.health[f.pos]
		}
		f.pos++
		f.mu.Unlock()
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": s})
	case "/_cluster/settings":
		if f.settings == nil {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"persistent": f.settings, "transient": map[string]any{}})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type env struct {
	es    *fakeES
	agent *agenttest.Agent
	cl    *cluster.Cluster
	drv   *Driver
}

func portOf(t *testing.T, srv *httptest.Server) int {
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	p, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return p
}

// newEnv arma un cluster de n nodos: el nodo 0 apunta al ES falso (los probes de
// salud siempre eligen el índice 0) y todos comparten un agente distinguido por port.
func newEnv(t *testing.T, n int, es *fakeES) *env {
	t.Helper()
	auth, err := token.New("AGENT_KEY")
	require.NoError(t, err)

	esSrv := httptest.NewServer(es)
	t.Cleanup(esSrv.Close)
	ag := agenttest.New(auth, "1.0")
	agSrv, agEP := ag.Serve()
	t.Cleanup(agSrv.Close)

	endpoints := []string{"http://127.0.0.1:" + strconv.Itoa(portOf(t, esSrv))}
	for i := 1; i < n; i++ {
		endpoints = append(endpoints, "http://127.0.0.1:"+strconv.Itoa(19200+i))
	}
	cl, err := cluster.New("prod-logs", endpoints, 9200, nil)
	require.NoError(t, err)
	cl.AgentPort = agEP.ControlPort

	deps := driver.Deps{
		Agents: agent.NewClient(agent.Options{Logger: zap.NewNop()}),
		Tokens: auth,
		Policy: orchestrator.Policy{HealthInterval: time.Second, HealthAttempts: 5, RecoverInterval: time.Second, RecoverAttempts: 5},
		Orchestrator: orchestrator.New(Solution,
			orchestrator.WithLogger(zap.NewNop()),
			orchestrator.WithSleeper(func(ctx context.Context, d time.Duration) error { return ctx.Err() })),
		Logger: zap.NewNop(),
	}
	drv := New(cl, deps, Options{ProbeTimeout: 200 * time.Millisecond, Pick: func(int) int { return 0 }})
	return &env{es: es, agent: ag, cl: cl, drv: drv}
}

func TestHealth_ParsesStatus(t *testing.T) {
	e := newEnv(t, 1, &fakeES{version: "8.11.1", health: []string{"yellow", "green", "red"}})
	ctx := context.Background()
	assert.Equal(t, cluster.HealthYellow, e.drv.Health(ctx))
	assert.Equal(t, cluster.HealthGreen, e.drv.Health(ctx))
	assert.Equal(t, cluster.HealthRed, e.drv.Health(ctx))
}

func TestHealth_TimeoutRetriedOnce(t *testing.T) {
	e := newEnv(t, 1, &fakeES{version: "8.11.1", health: []string{"green"}, delay: time.Second})
	assert.Equal(t, cluster.HealthGreen, e.drv.Health(context.Background()))
}

func TestHealth_UnreachableIsUnknown(t *testing.T) {
	cl, err := cluster.New("x", []string{"http://127.0.0.1:1"}, 9200, nil)
	require.NoError(t, err)
	d := New(cl, driver.Deps{Logger: zap.NewNop()}, Options{ProbeTimeout: 200 * time.Millisecond})
	assert.Equal(t, cluster.HealthUnknown, d.Health(context.Background()))
}

func TestHealth_BasicAuth(t *testing.T) {
	es := &fakeES{version: "7.17.0", health: []string{"green"}, user: "elastic", pass: "changeme"}
	e := newEnv(t, 1, es)
	assert.Equal(t, cluster.HealthUnknown, e.drv.Health(context.Background()))

	e.cl.Credentials = cluster.ParseCredentials("elastic:changeme")
	assert.Equal(t, cluster.HealthGreen, e.drv.Health(context.Background()))
}

func TestParseHealthResponse(t *testing.T) {
	assert.Equal(t, cluster.HealthGreen, ParseHealthResponse(200, []byte(`{"status":"GREEN"}`)))
	assert.Equal(t, cluster.HealthUnknown, ParseHealthResponse(200, []byte(`not json`)))
	assert.Equal(t, cluster.HealthUnknown, ParseHealthResponse(401, nil))
	assert.Equal(t, cluster.HealthRed, ParseHealthResponse(503, []byte(`{}`)))
	assert.Equal(t, cluster.HealthYellow, ParseHealthResponse(503, []byte(`{"status":"yellow"}`)))
}

func TestSetConfig_CoercesAndFansOut(t *testing.T) {
	e := newEnv(t, 3, &fakeES{version: "8.11.1", health: []string{"green"}})

	out := e.drv.SetConfig(context.Background(), cluster.ConfigDocument{"flag": "true", "list": "a,b,c"})
	require.True(t, out.Success, out.Error())
	assert.Empty(t, out.Failures)

	calls := e.agent.CallsTo(string(agent.ESConfiguration))
	require.Len(t, calls, 3)
	ports := map[float64]bool{}
	for _, c := range calls {
		assert.Equal(t, map[string]any{"flag": true, "list": []any{"a", "b", "c"}}, c.Payload["data"])
		ports[c.Payload["port"].(float64)] = true
	}
	assert.Len(t, ports, 3)
}

func TestSetConfig_PartialFailure(t *testing.T) {
	e := newEnv(t, 3, &fakeES{version: "8.11.1", health: []string{"green"}})
	e.agent.FailPort(19202, http.StatusInternalServerError)

	out := e.drv.SetConfig(context.Background(), cluster.ConfigDocument{"cluster.name": "x"})
	assert.False(t, out.Success)
	require.Len(t, out.Failures, 1)
	assert.Equal(t, "127.0.0.1:19202", out.Failures[0].Node)
}

func TestRestart_RollsInNodeOrder(t *testing.T) {
	e := newEnv(t, 3, &fakeES{version: "8.11.1", health: []string{"green", "green", "green", "yellow", "green", "green", "green"}})

	res := e.drv.Restart(context.Background())
	require.True(t, res.OK(), "%v", res.Err)

	calls := e.agent.CallsTo(string(agent.ESRestart))
	require.Len(t, calls, 3)
	var got []int
	for _, c := range calls {
		got = append(got, int(c.Payload["port"].(float64)))
	}
	assert.Equal(t, []int{e.cl.Nodes[0].Port, 19201, 19202}, got)
}

func TestGetConfig_TemplateOverlaidWithDiscovered(t *testing.T) {
	e := newEnv(t, 1, &fakeES{
		version:  "8.11.1",
		health:   []string{"green"},
		settings: map[string]any{"cluster.routing.allocation.enable": "primaries"},
	})

	doc, err := e.drv.GetConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "prod-logs", doc["cluster.name"])
	assert.Equal(t, "primaries", doc["cluster.routing.allocation.enable"])
	assert.Equal(t, 9200, doc["http.port"])
	assert.Equal(t, true, doc["xpack.security.enabled"])
}

func TestGetConfig_SettingsUnavailableStillReturnsTemplate(t *testing.T) {
	e := newEnv(t, 1, &fakeES{version: "7.17.9", health: []string{"green"}})

	doc, err := e.drv.GetConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "all", doc["cluster.routing.allocation.enable"])
	assert.Equal(t, false, doc["xpack.security.enabled"])
}

func TestGetConfig_MissingTemplateIsError(t *testing.T) {
	e := newEnv(t, 1, &fakeES{version: "5.6.16", health: []string{"green"}})

	_, err := e.drv.GetConfig(context.Background())
	require.ErrorIs(t, err, ErrTemplateNotFound)
}
