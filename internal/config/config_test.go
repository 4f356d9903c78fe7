package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	p := writeYAML(t, "app:\n  app_env: dev\n")
	c, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, 5000, c.Agent.Port)
	assert.Equal(t, "300s", c.Agent.TokenTTL)
	assert.Equal(t, 10000, c.Agent.MaxFiles)
	assert.Equal(t, 10, c.Fleet.VerifyAttempts)
	assert.Equal(t, filepath.Join(filepath.Dir(p), "agent"), c.Agent.Dir)
	assert.Equal(t, "info", c.Log.Level)
	assert.NotNil(t, c.Clusters)
}

func TestLoad_ClustersAndPolicies(t *testing.T) {
	p := writeYAML(t, `
agent:
  port: 5050
elasticsearch:
  templates_dir: /etc/clusterctl/templates
  policy:
    recover_attempts: 120
clusters:
  logs:
    solution: elasticsearch
    nodes: ["https://es-1:9200", "https://es-2:9200"]
    credentials: "elastic:changeme"
  cache:
    solution: redis
    nodes: ["r-1:6379"]
`)
	c, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, 5050, c.Agent.Port)
	assert.Equal(t, "/etc/clusterctl/templates", c.Elasticsearch.TemplatesDir)
	assert.Equal(t, 120, c.Elasticsearch.Policy.RecoverAttempts)
	require.Len(t, c.Clusters, 2)
	assert.Equal(t, []string{"https://es-1:9200", "https://es-2:9200"}, c.Clusters["logs"].Nodes)
	assert.Equal(t, map[string]string{"logs": "elastic:changeme"}, c.CredentialsByCluster())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AGENT_KEY", "s3cret")
	t.Setenv("AGENT_VERSION", "1.2.3")
	t.Setenv("AGENT_PORT", "5999")
	t.Setenv("AGENT_DIR", "/opt/agent")
	t.Setenv("APP_ENV", "PROD")
	t.Setenv("LOG_LEVEL", "DEBUG")

	c, err := Load(writeYAML(t, "agent:\n  port: 5000\n"))
	require.NoError(t, err)

	assert.Equal(t, "s3cret", c.Agent.Secret)
	assert.Equal(t, "1.2.3", c.Agent.Version)
	assert.Equal(t, 5999, c.Agent.Port)
	assert.Equal(t, "/opt/agent", c.Agent.Dir)
	assert.True(t, c.IsProd())
	assert.Equal(t, "debug", c.Log.Level)
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := map[string]string{
		"bad duration":     "agent:\n  token_ttl: soon\n",
		"bad port":         "agent:\n  port: 70000\n",
		"cluster no nodes": "clusters:\n  x:\n    solution: redis\n",
		"cluster no kind":  "clusters:\n  x:\n    nodes: [a]\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeYAML(t, body))
			require.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 3*time.Second, Duration("", 3*time.Second))
	assert.Equal(t, 3*time.Second, Duration("junk", 3*time.Second))
	assert.Equal(t, 500*time.Millisecond, Duration(" 500ms ", time.Second))
}

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, 5000, c.Agent.Port)
	assert.NoError(t, c.Validate())
}
