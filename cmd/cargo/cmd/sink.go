package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/oriys/nimbus-cargo/internal/logging"
	"github.com/oriys/nimbus-cargo/internal/metrics"
	"github.com/oriys/nimbus-cargo/internal/sink"
	"github.com/oriys/nimbus-cargo/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// sinkCmd 启动本地开发接收端
var sinkCmd = &cobra.Command{
	Use:   "sink",
	Short: "Run the development process event sink",
	Long: `Run the development process event sink.

Endpoints:
  POST /v1/process-events           receive envelopes (HTTP sender target)
  GET  /v1/process-events/{series}  envelopes received for a series
  GET  /v1/stream                   websocket stream of received envelopes
  PUT  /v1/uploads/{key}            large payload upload target
  GET  /metrics                     Prometheus metrics`,
	RunE: runSink,
}

func init() {
	rootCmd.AddCommand(sinkCmd)
	sinkCmd.Flags().String("addr", "", "Listen address (default from config, :8090)")
	viper.BindPFlag("sink.addr", sinkCmd.Flags().Lookup("addr"))
}

func runSink(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.New(cfg.Logging, os.Stderr)
	logger.AddHook(telemetry.NewLogrusHook())

	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer tel.Shutdown(context.Background())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv := sink.New(sink.Options{
		Logger:   logger,
		Metrics:  metrics.New(cfg.Metrics.Namespace, reg),
		Gatherer: reg,
	})
	return srv.ListenAndServe(ctx, cfg.Sink.Addr)
}
