// The gateway daemon: connects to one ornament as a wireless central and
// serves its registers over HTTP, with optional Prometheus and MQTT sides.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ornament-go/gateway"
)

var configFile string

func main() {
	root := &cobra.Command{
		Use:           "ornament-gateway",
		Short:         "REST gateway for the sensor ornament",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "gateway.yaml", "config file path")
	root.AddCommand(serveCommand())

	if err := root.Execute(); err != nil {
		slog.Error("gateway failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func serveCommand() *cobra.Command {
	var deviceName string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to the ornament and serve its attributes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := gateway.LoadConfig(configFile)
			if err != nil {
				return err
			}
			if deviceName != "" {
				cfg.DeviceName = deviceName
			}
			return serve(cfg)
		},
	}
	cmd.Flags().StringVar(&deviceName, "device", "", "advertised device name (overrides config)")
	return cmd
}

func serve(cfg gateway.Config) error {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	peer, err := gateway.Connect(cfg.DeviceName, cfg.ScanTime, log)
	if err != nil {
		return err
	}
	defer peer.Disconnect()

	metrics := gateway.NewMetrics()
	if cfg.Metrics.Enabled {
		go func() {
			log.Info("metrics listening", slog.String("addr", cfg.Metrics.Listen))
			if err := http.ListenAndServe(cfg.Metrics.Listen, metrics.Handler()); err != nil {
				log.Error("metrics server failed", slog.Any("err", err))
			}
		}()
	}

	if cfg.MQTT.Enabled {
		pub := gateway.NewRepublisher(cfg, peer, log)
		go func() {
			if err := pub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("mqtt republisher failed", slog.Any("err", err))
			}
		}()
	}

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: gateway.New(peer, log, metrics).Handler(),
	}
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	log.Info("gateway listening", slog.String("addr", cfg.Listen), slog.String("device", cfg.DeviceName))
	err = srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
