package cmd

import (
	"flag"
	"fmt"
	"time"

	"armour.dev/armour/internal/config"
	"armour.dev/armour/internal/labels"
	"armour.dev/armour/internal/logging"
	"armour.dev/armour/internal/proxy"
)

// RunProxy starts a proxy instance and attaches it to its host agent.
func RunProxy(args []string) error {
	fs := flag.NewFlagSet("proxy", flag.ExitOnError)
	configFile := fs.String("config", "", "HCL configuration file")
	label := fs.String("label", "", "proxy label (overrides config)")
	socket := fs.String("socket", "", "host agent socket (overrides config)")
	timeout := fs.Int64("timeout", 0, "external call timeout in seconds")
	port := fs.Uint("port", 0, "start the HTTP listener immediately on this port")
	ingress := fs.String("ingress", "", "fixed upstream address")
	debug := fs.Bool("debug", false, "verbose logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadProxy(*configFile)
	if err != nil {
		return err
	}
	if *label != "" {
		cfg.Label = *label
	}
	if *socket != "" {
		cfg.Socket = *socket
	}
	if *timeout != 0 {
		cfg.Timeout = *timeout
	}
	if *port != 0 {
		cfg.Port = uint16(*port)
	}
	if *ingress != "" {
		cfg.IngressAddr = *ingress
	}
	if cfg.Label == "" {
		return fmt.Errorf("a proxy label is required (--label or config)")
	}
	proxyLabel, err := labels.Parse(cfg.Label)
	if err != nil {
		return fmt.Errorf("bad proxy label: %w", err)
	}

	logging.SetPrefix("ARMOUR-PROXY")
	if *debug || cfg.Debug {
		logging.Default().SetLevel(logging.LevelDebug)
	}

	actor, err := proxy.NewPolicyActor(proxy.Config{
		Label:       proxyLabel,
		Timeout:     time.Duration(cfg.Timeout) * time.Second,
		Debug:       cfg.Debug || *debug,
		Port:        cfg.Port,
		IngressAddr: cfg.IngressAddr,
	})
	if err != nil {
		return err
	}
	if cfg.Port != 0 {
		if err := actor.StartHTTP(cfg.Port, cfg.IngressAddr); err != nil {
			return err
		}
	}
	return actor.Run(cfg.Socket)
}
