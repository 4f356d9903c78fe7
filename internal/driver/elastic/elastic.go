// Package elastic es la variante document-store del driver: consulta salud y versión
// directamente al data plane por HTTP, y envía restart/configuración a los agentes.
package elastic

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/clusterctl/internal/agent"
	"github.com/dropDatabas3/clusterctl/internal/cluster"
	"github.com/dropDatabas3/clusterctl/internal/driver"
	"github.com/dropDatabas3/clusterctl/internal/observability/logger"
	"github.com/dropDatabas3/clusterctl/internal/orchestrator"
)

const (
	Solution = string(driver.Elasticsearch)

	DefaultProbeTimeout = 3 * time.Second
)

var ErrUnreachable = errors.New("elastic: no node answered")

// Options configura el acceso directo al data-store.
type Options struct {
	// InsecureSkipVerify equivale a curl -k; los clusters suelen usar certificados propios.
	InsecureSkipVerify bool
	ProbeTimeout       time.Duration
	Templates          fs.FS
	HTTP               *http.Client
	// Pick elige un índice en [0,n). Default: aleatorio.
	Pick func(n int) int
}

// Driver implementa driver.Driver para clusters tipo Elasticsearch.
type Driver struct {
	cl        *cluster.Cluster
	deps      driver.Deps
	http      *http.Client
	timeout   time.Duration
	templates fs.FS
	pick      func(n int) int
	log       *zap.Logger

	info *nodeInfo
}

var _ driver.Driver = (*Driver)(nil)

type nodeInfo struct {
	ClusterName string `json:"cluster_name"`
	Version     struct {
		Number string `json:"number"`
	} `json:"version"`
}

// New crea el driver. Se construye uno por request.
func New(cl *cluster.Cluster, deps driver.Deps, opts Options) *Driver {
	d := &Driver{
		cl:        cl,
		deps:      deps,
		http:      opts.HTTP,
		timeout:   opts.ProbeTimeout,
		templates: opts.Templates,
		pick:      opts.Pick,
		log:       deps.Log(Solution).With(logger.Cluster(cl.Name)),
	}
	if d.timeout <= 0 {
		d.timeout = DefaultProbeTimeout
	}
	if d.templates == nil {
		d.templates = DefaultTemplates()
	}
	if d.pick == nil {
		d.pick = rand.IntN
	}
	if d.http == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify} //nolint:gosec
		d.http = &http.Client{Transport: tr}
	}
	return d
}

// Connect resuelve la versión del cluster probando los nodos en orden.
func (d *Driver) Connect(ctx context.Context) error {
	var lastErr error
	for _, n := range d.cl.Nodes {
		var info nodeInfo
		if err := d.getJSON(ctx, n, "/", &info); err != nil {
			lastErr = err
			d.log.Debug("node info failed", logger.Node(n.Addr()), logger.Err(err))
			continue
		}
		if info.Version.Number == "" {
			lastErr = fmt.Errorf("node %s: empty version", n.Addr())
			continue
		}
		d.info = &info
		d.log.Info("connected", logger.Node(n.Addr()), logger.String("es_version", info.Version.Number))
		return nil
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, lastErr)
}

// Version devuelve la versión resuelta por Connect ("" si no se conectó).
func (d *Driver) Version() string {
	if d.info == nil {
		return ""
	}
	return d.info.Version.Number
}

// Health consulta /_cluster/health en un nodo al azar. Un timeout se considera
// transitorio y se reintenta una vez en otro nodo al azar.
func (d *Driver) Health(ctx context.Context) cluster.HealthStatus {
	for try := 0; try < 2; try++ {
		n := d.cl.Nodes[d.pick(len(d.cl.Nodes))]
		status, err := d.health(ctx, n)
		if err == nil {
			return status
		}
		if isTimeout(err) && ctx.Err() == nil {
			d.log.Debug("health probe timed out, retrying", logger.Node(n.Addr()))
			continue
		}
		d.log.Warn("health probe failed", logger.Node(n.Addr()), logger.Err(err))
		return cluster.HealthUnknown
	}
	return cluster.HealthUnknown
}

func (d *Driver) health(ctx context.Context, n cluster.Node) (cluster.HealthStatus, error) {
	code, body, err := d.get(ctx, n, "/_cluster/health")
	if err != nil {
		return cluster.HealthUnknown, err
	}
	return ParseHealthResponse(code, body), nil
}

// ParseHealthResponse traduce la respuesta de /_cluster/health. Un 5xx de un nodo
// alcanzable es RED; cualquier otra respuesta ilegible es UNKNOWN.
func ParseHealthResponse(code int, body []byte) cluster.HealthStatus {
	if code >= 500 {
		// ES responde 408/503 con body de health cuando wait_for_* vence; se respeta si viene.
		if s := statusField(body); s != cluster.HealthUnknown {
			return s
		}
		return cluster.HealthRed
	}
	if code/100 != 2 {
		return cluster.HealthUnknown
	}
	return statusField(body)
}

func statusField(body []byte) cluster.HealthStatus {
	var v struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return cluster.HealthUnknown
	}
	return cluster.ParseHealth(v.Status)
}

// Restart ejecuta el rolling restart vía /es/command/restart.
func (d *Driver) Restart(ctx context.Context) orchestrator.Result {
	return driver.RunRestart(ctx, Solution, &driver.RestartTarget{
		Cluster: d.cl,
		Deps:    d.deps,
		Command: agent.ESRestart,
		Check:   d.Health,
	})
}

// GetConfig carga la plantilla de la versión mayor y la pisa con los settings
// descubiertos en el cluster. Una plantilla faltante es un error no recuperable.
func (d *Driver) GetConfig(ctx context.Context) (cluster.ConfigDocument, error) {
	if d.info == nil {
		if err := d.Connect(ctx); err != nil {
			return nil, err
		}
	}
	major, _, _ := strings.Cut(d.info.Version.Number, ".")
	doc, err := LoadTemplate(d.templates, major)
	if err != nil {
		return nil, err
	}

	discovered := cluster.ConfigDocument{}
	if d.info.ClusterName != "" {
		discovered["cluster.name"] = d.info.ClusterName
	}
	settings, err := d.clusterSettings(ctx)
	if err != nil {
		d.log.Warn("cluster settings not available, using template only", logger.Err(err))
	}
	return doc.Merge(discovered).Merge(settings), nil
}

func (d *Driver) clusterSettings(ctx context.Context) (cluster.ConfigDocument, error) {
	var v struct {
		Persistent map[string]any `json:"persistent"`
		Transient  map[string]any `json:"transient"`
	}
	var lastErr error
	for _, n := range d.cl.Nodes {
		if err := d.getJSON(ctx, n, "/_cluster/settings?flat_settings=true", &v); err != nil {
			lastErr = err
			continue
		}
		return cluster.Flatten(v.Persistent).Merge(cluster.Flatten(v.Transient)), nil
	}
	return cluster.ConfigDocument{}, lastErr
}

// SetConfig envía doc a /es/command/configuration de cada agente.
func (d *Driver) SetConfig(ctx context.Context, doc cluster.ConfigDocument) cluster.Outcome {
	return driver.SetConfig(ctx, d.deps, d.cl, agent.ESConfiguration, doc)
}

func (d *Driver) get(ctx context.Context, n cluster.Node, path string) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.URL()+path, nil)
	if err != nil {
		return 0, nil, err
	}
	if c := d.cl.Credentials; c != nil {
		req.SetBasicAuth(c.Principal, c.Secret)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := d.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func (d *Driver) getJSON(ctx context.Context, n cluster.Node, path string, v any) error {
	code, body, err := d.get(ctx, n, path)
	if err != nil {
		return err
	}
	if code/100 != 2 {
		return fmt.Errorf("GET %s on %s: status %d", path, n.Addr(), code)
	}
	return json.Unmarshal(body, v)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
