package cmd

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"armour.dev/armour/internal/config"
	"armour.dev/armour/internal/host"
	"armour.dev/armour/internal/labels"
	"armour.dev/armour/internal/logging"
)

// RunHost starts a host agent.
func RunHost(args []string) error {
	fs := flag.NewFlagSet("host", flag.ExitOnError)
	configFile := fs.String("config", "", "HCL configuration file")
	label := fs.String("label", "", "host label (overrides config)")
	addr := fs.String("addr", "", "REST listen address (overrides config)")
	socket := fs.String("socket", "", "proxy socket path (overrides config)")
	controlURL := fs.String("control", "", "control plane URL for onboarding")
	manifest := fs.String("services", "", "YAML manifest of services to onboard")
	debug := fs.Bool("debug", false, "verbose logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var cfg *config.Host
	var err error
	if *configFile != "" {
		if cfg, err = config.LoadHost(*configFile); err != nil {
			return err
		}
	} else {
		cfg = &config.Host{
			Addr:   fmt.Sprintf(":%d", config.DefaultHostPort),
			Socket: config.DefaultSocket,
		}
	}
	if *label != "" {
		cfg.Label = *label
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *socket != "" {
		cfg.Socket = *socket
	}
	if *controlURL != "" {
		cfg.ControlURL = *controlURL
	}
	if cfg.Label == "" {
		return fmt.Errorf("a host label is required (--label or config)")
	}
	hostLabel, err := labels.Parse(cfg.Label)
	if err != nil {
		return fmt.Errorf("bad host label: %w", err)
	}

	logging.SetPrefix("ARMOUR-HOST")
	if *debug || cfg.Debug {
		logging.Default().SetLevel(logging.LevelDebug)
	}
	logger := logging.WithComponent("host")

	h := host.New(hostLabel, cfg.Socket)
	if err := h.Listen(); err != nil {
		return err
	}
	rest := host.NewRESTServer(h)
	errCh := make(chan error, 1)
	go func() { errCh <- rest.ListenAndServe(cfg.Addr) }()

	if cfg.ControlURL != "" {
		if err := onboardWithControl(cfg); err != nil {
			logger.Warn("control plane onboarding failed", "error", err)
		}
	}
	if *manifest != "" {
		m, err := config.LoadManifest(*manifest)
		if err != nil {
			return err
		}
		for _, svc := range m.Services {
			l, _ := labels.Parse(svc.Label)
			if err := h.Launch(l); err != nil {
				logger.Warn("failed to launch proxy", "label", svc.Label, "error", err)
			}
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		h.Shutdown(5 * time.Second)
		return err
	case <-sig:
		logger.Info("shutting down")
		rest.Close()
		h.Shutdown(5 * time.Second)
		return nil
	}
}

// onboardWithControl announces this host to the control plane.
func onboardWithControl(cfg *config.Host) error {
	payload := map[string]string{
		"label": cfg.Label,
		"host":  "https://" + hostAddr(cfg.Addr),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(cfg.ControlURL+"/host/on-board", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("control plane answered %d", resp.StatusCode)
	}
	return nil
}

func hostAddr(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		name, err := os.Hostname()
		if err != nil {
			name = "localhost"
		}
		return name + addr
	}
	return addr
}
