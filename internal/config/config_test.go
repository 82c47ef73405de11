package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadHost(t *testing.T) {
	path := writeFile(t, "host.hcl", `
		label  = "h1"
		addr   = ":9999"
		socket = "/tmp/test.sock"
	`)
	cfg, err := LoadHost(path)
	require.NoError(t, err)
	assert.Equal(t, "h1", cfg.Label)
	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, "/tmp/test.sock", cfg.Socket)
}

func TestHostDefaults(t *testing.T) {
	path := writeFile(t, "host.hcl", `label = "h1"`)
	cfg, err := LoadHost(path)
	require.NoError(t, err)
	assert.Equal(t, ":8090", cfg.Addr)
	assert.Equal(t, DefaultSocket, cfg.Socket)
}

func TestHostNeedsValidLabel(t *testing.T) {
	path := writeFile(t, "host.hcl", `label = "1 bad label"`)
	_, err := LoadHost(path)
	assert.Error(t, err)

	path = writeFile(t, "host.hcl", `addr = ":1"`)
	_, err = LoadHost(path)
	assert.Error(t, err)
}

func TestDefaultsObjectInExpressions(t *testing.T) {
	path := writeFile(t, "host.hcl", `
		label  = "h1"
		socket = defaults.socket
		addr   = ":${defaults.host_port}"
	`)
	cfg, err := LoadHost(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultSocket, cfg.Socket)
	assert.Equal(t, ":8090", cfg.Addr)
}

func TestLoadControlDefaults(t *testing.T) {
	cfg, err := LoadControl("")
	require.NoError(t, err)
	assert.Equal(t, ":8088", cfg.Addr)
	assert.Equal(t, "armour-control.db", cfg.DBPath)
}

func TestLoadProxy(t *testing.T) {
	path := writeFile(t, "proxy.hcl", `
		label        = "h1::svc-a"
		port         = 6000
		timeout      = 2
		ingress_addr = "10.0.0.5:80"
	`)
	cfg, err := LoadProxy(path)
	require.NoError(t, err)
	assert.Equal(t, uint16(6000), cfg.Port)
	assert.Equal(t, int64(2), cfg.Timeout)
	assert.Equal(t, "10.0.0.5:80", cfg.IngressAddr)
}

func TestBadHCL(t *testing.T) {
	path := writeFile(t, "host.hcl", `label = `)
	_, err := LoadHost(path)
	assert.Error(t, err)
}

func TestLoadManifest(t *testing.T) {
	path := writeFile(t, "services.yml", `
services:
  - label: h1::svc-a
    port: 6000
  - label: h1::svc-b
    port: 6001
    ingress: 10.0.0.7:80
`)
	m, err := LoadManifest(path)
	require.NoError(t, err)
	require.Len(t, m.Services, 2)
	assert.Equal(t, "h1::svc-a", m.Services[0].Label)
	assert.Equal(t, uint16(6001), m.Services[1].Port)
	assert.Equal(t, "10.0.0.7:80", m.Services[1].Ingress)
}

func TestManifestBadLabel(t *testing.T) {
	path := writeFile(t, "services.yml", `
services:
  - label: "::"
    port: 1
`)
	_, err := LoadManifest(path)
	assert.Error(t, err)
}
