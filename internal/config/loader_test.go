package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validHCL = `
schema_version = "1"

msp {
  domain       = "acme.firewalla.net"
  access_token = "tok-1234567890"
  box_gid      = "00000000-dead-beef-0000-000000000000"
}

poll {
  interval = "45s"
  timeout  = "20s"
}

filters {
  include = <<EOT
status:active

# only blocks
action:block
EOT
  exclude = "-action:allow"
}

api {
  listen  = "127.0.0.1:9100"
  api_key = "local-key"
}

log {
  level = "debug"
}
`

func TestLoadHCL_Valid(t *testing.T) {
	cfg, err := LoadHCL([]byte(validHCL), "test.hcl")
	require.NoError(t, err)

	assert.Equal(t, "acme.firewalla.net", cfg.MSP.Domain)
	assert.Equal(t, "00000000-dead-beef-0000-000000000000", cfg.MSP.BoxGID)
	assert.Equal(t, 45*time.Second, cfg.Poll.PollInterval())
	assert.Equal(t, 20*time.Second, cfg.Poll.PollTimeout())
	assert.Equal(t, "127.0.0.1:9100", cfg.API.ListenAddr())
	assert.True(t, cfg.API.MetricsEnabled())

	assert.Equal(t, []string{"status:active", "action:block"}, cfg.Filters.IncludeFilters())
	assert.Equal(t, []string{"-action:allow"}, cfg.Filters.ExcludeFilters())
}

func TestLoadHCL_MissingMSP(t *testing.T) {
	_, err := LoadHCL([]byte(`schema_version = "1"`), "test.hcl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "msp")
}

func TestLoadHCL_IntervalBelowFloor(t *testing.T) {
	src := strings.Replace(validHCL, `interval = "45s"`, `interval = "2s"`, 1)
	_, err := LoadHCL([]byte(src), "test.hcl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floor")
}

func TestLoadHCL_BadDuration(t *testing.T) {
	src := strings.Replace(validHCL, `interval = "45s"`, `interval = "soon"`, 1)
	_, err := LoadHCL([]byte(src), "test.hcl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoadHCL_BadLogLevel(t *testing.T) {
	src := strings.Replace(validHCL, `level = "debug"`, `level = "loud"`, 1)
	_, err := LoadHCL([]byte(src), "test.hcl")
	require.Error(t, err)
}

func TestLoadYAML_Valid(t *testing.T) {
	src := `
schema_version: "1"
msp:
  domain: acme.firewalla.net
  access_token: tok-1234567890
  box_gid: gid-1
poll:
  interval: 30s
filters:
  include: "status:active"
`
	cfg, err := LoadYAML([]byte(src))
	require.NoError(t, err)
	assert.Equal(t, "gid-1", cfg.MSP.BoxGID)
	assert.Equal(t, []string{"status:active"}, cfg.Filters.IncludeFilters())
}

func TestDefaults(t *testing.T) {
	src := `
msp {
  domain       = "acme.firewalla.net"
  access_token = "tok-1234567890"
  box_gid      = "gid-1"
}
`
	cfg, err := LoadHCL([]byte(src), "test.hcl")
	require.NoError(t, err)

	// nil blocks fall back to defaults through their accessors
	assert.Equal(t, DefaultPollInterval, cfg.Poll.PollInterval())
	assert.Equal(t, DefaultListen, cfg.API.ListenAddr())
	assert.True(t, cfg.API.MetricsEnabled())
	assert.Nil(t, cfg.Filters.IncludeFilters())
}
