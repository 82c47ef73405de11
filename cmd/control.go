// Package cmd implements the armour subcommands.
package cmd

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"armour.dev/armour/internal/config"
	"armour.dev/armour/internal/control"
	"armour.dev/armour/internal/logging"
	"armour.dev/armour/internal/store"
)

// RunControl starts the control plane.
func RunControl(args []string) error {
	fs := flag.NewFlagSet("control", flag.ExitOnError)
	configFile := fs.String("config", "", "HCL configuration file")
	addr := fs.String("addr", "", "listen address (overrides config)")
	dbPath := fs.String("db", "", "database path (overrides config)")
	debug := fs.Bool("debug", false, "verbose logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadControl(*configFile)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	logging.SetPrefix("ARMOUR-CONTROL")
	if *debug || cfg.Debug {
		logging.Default().SetLevel(logging.LevelDebug)
	}
	logger := logging.WithComponent("control")

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	var tlsConf *control.TLSConfig
	var client *http.Client
	if cfg.CertFile != "" {
		tlsConf = &control.TLSConfig{
			CertFile: cfg.CertFile,
			KeyFile:  cfg.KeyFile,
			CAFile:   cfg.CAFile,
		}
		if client, err = tlsConf.Client(); err != nil {
			return err
		}
	}

	srv := control.New(st, client)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(cfg.Addr, tlsConf) }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-sig:
		logger.Info("shutting down")
		srv.Close()
		return nil
	}
}
