package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/godbus/dbus/v5"
	"github.com/spf13/cobra"

	"github.com/srg/tuhi/internal/config"
	"github.com/srg/tuhi/internal/registry"
	"github.com/srg/tuhi/internal/rpc"
	"github.com/srg/tuhi/internal/session"
	"github.com/srg/tuhi/internal/transport/goble"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Tuhi daemon and serve the D-Bus RPC surface until interrupted",
	RunE:  runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	storePath := cfg.StorePath
	if storePath == "" {
		storePath, err = config.DefaultStorePath()
		if err != nil {
			return fmt.Errorf("resolve default store path: %w", err)
		}
	}

	tp, err := goble.New(logger)
	if err != nil {
		return fmt.Errorf("open BLE transport: %w", err)
	}

	reg := registry.New(logger)
	store := registry.NewFileStore(storePath)

	sv, err := session.NewSupervisor(logger, tp, reg, store)
	if err != nil {
		return fmt.Errorf("start session supervisor: %w", err)
	}

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("connect to session bus: %w", err)
	}
	defer conn.Close()

	server, err := rpc.NewServer(conn, sv, logger)
	if err != nil {
		return fmt.Errorf("export RPC surface: %w", err)
	}

	busName := cfg.BusName
	if busName == "" {
		busName = config.DefaultBusName
	}
	if err := server.RequestName(busName); err != nil {
		return fmt.Errorf("claim bus name: %w", err)
	}
	logger.WithField("bus_name", busName).Info("tuhid ready")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	<-ctx.Done()
	return nil
}
