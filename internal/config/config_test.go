package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tabula.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, TransportStdio, cfg.Server.Transport)
	assert.Equal(t, 600, cfg.Server.RateLimitPerMin)
	assert.False(t, cfg.Server.TrustForwardedFor)
	assert.Equal(t, 1000, cfg.Session.BatchSize)
	assert.Equal(t, 10, cfg.Session.SampleLimit)
	assert.Equal(t, 10*time.Second, cfg.Session.QueryTimeout())
	assert.False(t, cfg.Audit.Enabled)
	assert.False(t, cfg.Auth.Enabled())
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
transport = "http"
addr = "127.0.0.1:9000"
trust_forwarded_for = true

[session]
batch_size = 50
query_timeout_s = 30

[audit]
enabled = true
path = "/tmp/journal.db"

[auth]
jwt_secret = "s3cret"

[log]
level = "debug"
format = "json"

[[queries]]
name = "top_rows"
description = "First rows of sales"
sql = "SELECT * FROM sales LIMIT ?"
timeout_s = 5
  [[queries.params]]
  name = "limit"
  type = "integer"
  required = true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, TransportHTTP, cfg.Server.Transport)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.True(t, cfg.Server.TrustForwardedFor)
	assert.Equal(t, 50, cfg.Session.BatchSize)
	assert.Equal(t, 10, cfg.Session.SampleLimit, "unset keys keep defaults")
	assert.Equal(t, 30*time.Second, cfg.Session.QueryTimeout())
	assert.True(t, cfg.Audit.Enabled)
	assert.True(t, cfg.Auth.Enabled())
	assert.Equal(t, "json", cfg.Log.Format)

	require.Len(t, cfg.Queries, 1)
	q := cfg.Queries[0]
	assert.Equal(t, "top_rows", q.Name)
	assert.Equal(t, 5, q.TimeoutS)
	require.Len(t, q.Params, 1)
	assert.Equal(t, ParamConfig{Name: "limit", Type: "integer", Required: true}, q.Params[0])
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"transport":    "[server]\ntransport = \"quic\"\n",
		"batch size":   "[session]\nbatch_size = 0\n",
		"rate limit":   "[server]\nrate_limit_per_min = -1\n",
		"sample limit": "[session]\nsample_limit = 1001\n",
		"timeout":      "[session]\nquery_timeout_s = 61\n",
		"log level":    "[log]\nlevel = \"loud\"\n",
		"query name":   "[[queries]]\nsql = \"SELECT 1\"\n",
		"dup query":    "[[queries]]\nname = \"a\"\nsql = \"SELECT 1\"\n[[queries]]\nname = \"a\"\nsql = \"SELECT 2\"\n",
		"param type":   "[[queries]]\nname = \"a\"\nsql = \"SELECT ?\"\n[[queries.params]]\nname = \"x\"\ntype = \"blob\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid config")
		})
	}
}

func TestLoadMalformed(t *testing.T) {
	_, err := Load(writeConfig(t, "[server\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config")
}
