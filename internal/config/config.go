// Package config loads the HCL configuration of the three Armour roles and
// the compose-style YAML manifest describing local services. HCL files may
// reference the `defaults` object (e.g. defaults.control_port).
package config

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"
	"gopkg.in/yaml.v2"

	"armour.dev/armour/internal/labels"
)

// Default ports of the control hierarchy.
const (
	DefaultControlPort = 8088
	DefaultHostPort    = 8090
	DefaultSocket      = "/tmp/armour-host.sock"
)

// Control is the control plane configuration.
type Control struct {
	Addr     string `hcl:"addr,optional"`
	DBPath   string `hcl:"db_path,optional"`
	CertFile string `hcl:"cert_file,optional"`
	KeyFile  string `hcl:"key_file,optional"`
	CAFile   string `hcl:"ca_file,optional"`
	Debug    bool   `hcl:"debug,optional"`
}

// Host is the host agent configuration.
type Host struct {
	Label      string `hcl:"label"`
	Addr       string `hcl:"addr,optional"`
	Socket     string `hcl:"socket,optional"`
	ControlURL string `hcl:"control_url,optional"`
	CertFile   string `hcl:"cert_file,optional"`
	KeyFile    string `hcl:"key_file,optional"`
	CAFile     string `hcl:"ca_file,optional"`
	Debug      bool   `hcl:"debug,optional"`
}

// Proxy is one proxy instance's configuration.
type Proxy struct {
	Label       string `hcl:"label"`
	Socket      string `hcl:"socket,optional"`
	Timeout     int64  `hcl:"timeout,optional"`
	Debug       bool   `hcl:"debug,optional"`
	Port        uint16 `hcl:"port,optional"`
	IngressAddr string `hcl:"ingress_addr,optional"`
}

// evalContext exposes the defaults object to HCL expressions.
func evalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"defaults": cty.ObjectVal(map[string]cty.Value{
				"control_port": cty.NumberIntVal(DefaultControlPort),
				"host_port":    cty.NumberIntVal(DefaultHostPort),
				"socket":       cty.StringVal(DefaultSocket),
			}),
		},
	}
}

func decodeFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := hclsimple.Decode(path, data, evalContext(), out); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// LoadControl reads a control plane config file.
func LoadControl(path string) (*Control, error) {
	cfg := &Control{}
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if cfg.Addr == "" {
		cfg.Addr = fmt.Sprintf(":%d", DefaultControlPort)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "armour-control.db"
	}
	return cfg, nil
}

// LoadHost reads a host agent config file.
func LoadHost(path string) (*Host, error) {
	cfg := &Host{}
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if cfg.Label == "" {
		return nil, fmt.Errorf("host config needs a label")
	}
	if _, err := labels.Parse(cfg.Label); err != nil {
		return nil, fmt.Errorf("bad host label: %w", err)
	}
	if cfg.Addr == "" {
		cfg.Addr = fmt.Sprintf(":%d", DefaultHostPort)
	}
	if cfg.Socket == "" {
		cfg.Socket = DefaultSocket
	}
	return cfg, nil
}

// LoadProxy reads a proxy config file.
func LoadProxy(path string) (*Proxy, error) {
	cfg := &Proxy{}
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if cfg.Socket == "" {
		cfg.Socket = DefaultSocket
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5
	}
	return cfg, nil
}

// Service is one entry of the onboarding manifest.
type Service struct {
	Label   string `yaml:"label"`
	Port    uint16 `yaml:"port"`
	Ingress string `yaml:"ingress,omitempty"`
}

// Manifest is the compose-style list of services a host runs proxies for.
type Manifest struct {
	Services []Service `yaml:"services"`
}

// LoadManifest reads a YAML onboarding manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	for _, svc := range m.Services {
		if _, err := labels.Parse(svc.Label); err != nil {
			return nil, fmt.Errorf("bad service label %q: %w", svc.Label, err)
		}
	}
	return &m, nil
}
