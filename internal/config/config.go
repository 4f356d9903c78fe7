package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Bloque app (opcional en YAML). Si no está, queda vacío.
	App struct {
		// dev | staging | prod
		Env string `yaml:"app_env"`
	} `yaml:"app"`

	Log struct {
		Level string `yaml:"level"`
		// console | json. Vacío: console en dev, json en el resto.
		Format string `yaml:"format"`
	} `yaml:"log"`

	Agent struct {
		// Puerto de control de los agentes en cada host.
		Port int `yaml:"port"`
		// Secreto compartido para firmar los tokens de comando (AGENT_KEY).
		Secret   string `yaml:"secret"`
		TokenTTL string `yaml:"token_ttl"`
		// Directorio con el payload que se sube a los agentes desincronizados.
		Dir      string `yaml:"dir"`
		Version  string `yaml:"version"`
		MaxFiles int    `yaml:"max_files"`

		StatusTimeout  string `yaml:"status_timeout"`
		CommandTimeout string `yaml:"command_timeout"`
		Parallelism    int    `yaml:"parallelism"`
	} `yaml:"agent"`

	Fleet struct {
		VerifyAttempts int    `yaml:"verify_attempts"`
		VerifyInterval string `yaml:"verify_interval"`
	} `yaml:"fleet"`

	Elasticsearch struct {
		InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
		ProbeTimeout       string `yaml:"probe_timeout"`
		// Directorio con elasticsearch<major>.yml. Vacío: templates embebidos.
		TemplatesDir string `yaml:"templates_dir"`
		Policy       Policy `yaml:"policy"`
	} `yaml:"elasticsearch"`

	Redis struct {
		InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
		PingTimeout        string `yaml:"ping_timeout"`
		Policy             Policy `yaml:"policy"`
	} `yaml:"redis"`

	Credentials struct {
		CacheTTL string `yaml:"cache_ttl"`
	} `yaml:"credentials"`

	Metrics struct {
		// Si no está vacío, el CLI expone /metrics en esta dirección.
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`

	// Clusters con nombre: clusterctl --cluster <name>.
	Clusters map[string]ClusterConfig `yaml:"clusters"`
}

// Policy sobreescribe campos de la política de rolling restart de una solución.
// Campos vacíos o en cero mantienen el default de la solución.
type Policy struct {
	HealthInterval  string `yaml:"health_interval"`
	HealthAttempts  int    `yaml:"health_attempts"`
	SettleDelay     string `yaml:"settle_delay"`
	RecoverInterval string `yaml:"recover_interval"`
	RecoverAttempts int    `yaml:"recover_attempts"`
}

type ClusterConfig struct {
	Solution    string   `yaml:"solution"`
	Nodes       []string `yaml:"nodes"`
	Credentials string   `yaml:"credentials"`
	AgentPort   int      `yaml:"agent_port"`
}

// Default devuelve un Config con los defaults aplicados, sin archivo.
func Default() *Config {
	var c Config
	c.applyDefaults()
	c.applyEnvOverrides()
	return &c
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	c.applyDefaults()

	// Overrides por env
	c.applyEnvOverrides()

	// Normalizar rutas relativas respecto al directorio del YAML
	base := filepath.Dir(path)
	c.Agent.Dir = resolve(base, c.Agent.Dir)
	c.Elasticsearch.TemplatesDir = resolve(base, c.Elasticsearch.TemplatesDir)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Agent.Port == 0 {
		c.Agent.Port = 5000
	}
	if c.Agent.TokenTTL == "" {
		c.Agent.TokenTTL = "300s"
	}
	if c.Agent.Dir == "" {
		c.Agent.Dir = "./agent"
	}
	if c.Agent.MaxFiles == 0 {
		c.Agent.MaxFiles = 10000
	}
	if c.Agent.StatusTimeout == "" {
		c.Agent.StatusTimeout = "3s"
	}
	if c.Agent.CommandTimeout == "" {
		c.Agent.CommandTimeout = "60s"
	}
	if c.Agent.Parallelism == 0 {
		c.Agent.Parallelism = 8
	}
	if c.Fleet.VerifyAttempts == 0 {
		c.Fleet.VerifyAttempts = 10
	}
	if c.Fleet.VerifyInterval == "" {
		c.Fleet.VerifyInterval = "500ms"
	}
	if c.Elasticsearch.ProbeTimeout == "" {
		c.Elasticsearch.ProbeTimeout = "2s"
	}
	if c.Redis.PingTimeout == "" {
		c.Redis.PingTimeout = "2s"
	}
	if c.Credentials.CacheTTL == "" {
		c.Credentials.CacheTTL = "5m"
	}
	if c.Clusters == nil {
		c.Clusters = map[string]ClusterConfig{}
	}
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}

// applyEnvOverrides: pisa config.yaml con variables de entorno.
func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}

	// LOG
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = strings.ToLower(v)
	}
	if v, ok := getEnvStr("LOG_FORMAT"); ok {
		c.Log.Format = strings.ToLower(v)
	}

	// AGENT
	if v, ok := getEnvStr("AGENT_KEY"); ok {
		c.Agent.Secret = v
	}
	if v, ok := getEnvStr("AGENT_DIR"); ok {
		c.Agent.Dir = v
	}
	if v, ok := getEnvStr("AGENT_VERSION"); ok {
		c.Agent.Version = v
	}
	if v, ok := getEnvInt("AGENT_PORT"); ok {
		c.Agent.Port = v
	}
	if v, ok := getEnvStr("AGENT_TOKEN_TTL"); ok {
		c.Agent.TokenTTL = v
	}
	if v, ok := getEnvStr("AGENT_COMMAND_TIMEOUT"); ok {
		c.Agent.CommandTimeout = v
	}

	// DATA PLANE
	if v, ok := getEnvBool("ES_INSECURE_SKIP_VERIFY"); ok {
		c.Elasticsearch.InsecureSkipVerify = v
	}
	if v, ok := getEnvStr("ES_TEMPLATES_DIR"); ok {
		c.Elasticsearch.TemplatesDir = v
	}
	if v, ok := getEnvBool("REDIS_INSECURE_SKIP_VERIFY"); ok {
		c.Redis.InsecureSkipVerify = v
	}

	// METRICS
	if v, ok := getEnvStr("METRICS_ADDR"); ok {
		c.Metrics.Addr = v
	}
}

// Validate revisa los valores críticos. El secreto del agente se exige recién al
// emitir tokens (cmd), así comandos de sólo lectura como solutions funcionan sin él.
func (c *Config) Validate() error {
	var errs []error
	if c.Agent.Port <= 0 || c.Agent.Port > 65535 {
		errs = append(errs, fmt.Errorf("agent.port out of range: %d", c.Agent.Port))
	}
	if c.Agent.MaxFiles < 0 {
		errs = append(errs, fmt.Errorf("agent.max_files must be >= 0"))
	}
	durations := map[string]string{
		"agent.token_ttl":                       c.Agent.TokenTTL,
		"agent.status_timeout":                  c.Agent.StatusTimeout,
		"agent.command_timeout":                 c.Agent.CommandTimeout,
		"fleet.verify_interval":                 c.Fleet.VerifyInterval,
		"elasticsearch.probe_timeout":           c.Elasticsearch.ProbeTimeout,
		"redis.ping_timeout":                    c.Redis.PingTimeout,
		"credentials.cache_ttl":                 c.Credentials.CacheTTL,
		"elasticsearch.policy.health_interval":  c.Elasticsearch.Policy.HealthInterval,
		"elasticsearch.policy.settle_delay":     c.Elasticsearch.Policy.SettleDelay,
		"elasticsearch.policy.recover_interval": c.Elasticsearch.Policy.RecoverInterval,
		"redis.policy.health_interval":          c.Redis.Policy.HealthInterval,
		"redis.policy.settle_delay":             c.Redis.Policy.SettleDelay,
		"redis.policy.recover_interval":         c.Redis.Policy.RecoverInterval,
	}
	for name, v := range durations {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	for name, cl := range c.Clusters {
		if strings.TrimSpace(cl.Solution) == "" {
			errs = append(errs, fmt.Errorf("clusters.%s: solution required", name))
		}
		if len(cl.Nodes) == 0 {
			errs = append(errs, fmt.Errorf("clusters.%s: at least one node required", name))
		}
	}
	return errors.Join(errs...)
}

// Duration parsea v; vacío o inválido devuelve def.
func Duration(v string, def time.Duration) time.Duration {
	if strings.TrimSpace(v) == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return d
}

// IsProd reporta si app_env es prod.
func (c *Config) IsProd() bool { return strings.EqualFold(c.App.Env, "prod") }

// CredentialsByCluster arma el mapa nombre -> credenciales de los clusters configurados.
func (c *Config) CredentialsByCluster() map[string]string {
	out := make(map[string]string, len(c.Clusters))
	for name, cl := range c.Clusters {
		if cl.Credentials != "" {
			out[name] = cl.Credentials
		}
	}
	return out
}

func resolve(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}
