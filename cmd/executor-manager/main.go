package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rfaas/executor-manager/manager"
	"github.com/rfaas/executor-manager/rdma"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const (
	exitOK            = 0
	exitConfigOrSpawn = 1
	exitRDMAFatal     = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	flags := pflag.NewFlagSet("executor-manager", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to the executor-manager JSON configuration file")
	deviceDBPath := flags.String("device-database", "", "path to the RDMA device database JSON file")
	skipResourceManager := flags.Bool("skip-resource-manager", false, "disable resource-manager notifications")
	verbose := flags.BoolP("verbose", "v", false, "enable debug logging")

	if err := flags.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "executor-manager: %v\n", err)
		return exitConfigOrSpawn
	}

	log, err := newLogger(*verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "executor-manager: logger setup: %v\n", err)
		return exitConfigOrSpawn
	}
	defer log.Sync()

	if *configPath == "" || *deviceDBPath == "" {
		log.Error("--config and --device-database are required")
		return exitConfigOrSpawn
	}

	settings, err := manager.LoadSettings(*configPath)
	if err != nil {
		log.Error("loading configuration failed", zap.Error(err))
		return exitConfigOrSpawn
	}

	devices, err := manager.LoadDeviceDatabase(*deviceDBPath)
	if err != nil {
		log.Error("loading device database failed", zap.Error(err))
		return exitConfigOrSpawn
	}

	entry, err := devices.Lookup(settings.RDMA.RDMADevice)
	if err != nil {
		log.Error("rdma device absent from device database", zap.Error(err))
		return exitConfigOrSpawn
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resourceMgr, err := manager.DialResourceManager(ctx, settings.RDMA.ResourceManagerAddress, settings.RDMA.ResourceManagerPort, *skipResourceManager, log)
	if err != nil {
		log.Error("resource manager dial failed", zap.Error(err))
		return exitConfigOrSpawn
	}
	defer resourceMgr.Close()

	metrics, err := manager.NewPrometheusManagerMetrics(nil)
	if err != nil {
		log.Error("metrics registration failed", zap.Error(err))
		return exitConfigOrSpawn
	}
	stopMetrics := serveMetrics(log)
	defer stopMetrics()

	mgr, err := manager.New(manager.ManagerOptions{
		Settings:    settings,
		Devices:     devices,
		ResourceMgr: resourceMgr,
		Metrics:     metrics,
		Log:         log,
	})
	if err != nil {
		log.Error("manager construction failed", zap.Error(err))
		return exitRDMAFatal
	}
	defer mgr.Close()

	if err := mgr.Listen(entry.IPAddress, uint16(entry.Port), 128); err != nil {
		log.Error("rdma listen failed", zap.Error(err))
		return exitRDMAFatal
	}

	installSignalHandler(log)

	log.Info("executor-manager running", zap.String("device", settings.RDMA.RDMADevice))
	for !rdma.ShuttingDown() {
		if err := mgr.Step(); err != nil {
			log.Warn("step failed", zap.Error(err))
		}
		time.Sleep(time.Millisecond)
	}
	log.Info("executor-manager shutting down")
	return exitOK
}

func installSignalHandler(log *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("signal received, closing", zap.String("signal", sig.String()))
		rdma.RequestShutdown()
	}()
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
