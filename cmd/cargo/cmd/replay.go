package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oriys/nimbus-cargo/internal/cargo"
	"github.com/oriys/nimbus-cargo/internal/config"
	"github.com/oriys/nimbus-cargo/internal/domain"
	"github.com/oriys/nimbus-cargo/internal/largecmd"
	"github.com/oriys/nimbus-cargo/internal/logging"
	"github.com/oriys/nimbus-cargo/internal/metrics"
	"github.com/oriys/nimbus-cargo/internal/runnable"
	"github.com/oriys/nimbus-cargo/internal/sender"
	"github.com/oriys/nimbus-cargo/internal/telemetry"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// replayCmd 回放 NDJSON 调用脚本，驱动一次完整的调用
var replayCmd = &cobra.Command{
	Use:   "replay <file.ndjson>",
	Short: "Replay an invocation script through the batching buffer",
	Long: `Replay an invocation script through the batching buffer.

Each line is a record: log, command, state, next_run, flush, sleep or terminate.
Without a terminate record the replay ends with a final send.

Examples:
  # Print envelopes instead of sending them
  cargo replay run.ndjson --dry-run

  # Long-running session with streaming flushes every 500ms
  cargo replay run.ndjson --live --delay 500ms

  # Send to the development sink
  NIMBUS_CARGO_HTTP_URL=http://localhost:8090/v1/process-events cargo replay run.ndjson --sender http`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

var (
	replayDryRun  bool
	replayType    string
	replayMeta    string
	replayLive    bool
	replayInline  bool
	replayDelay   string
	replaySenders []string
)

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().BoolVar(&replayDryRun, "dry-run", false, "Print envelopes to stdout instead of sending")
	replayCmd.Flags().StringVar(&replayType, "type", "", "Runnable type (control, action, policy, report, scheduledAction)")
	replayCmd.Flags().StringVar(&replayMeta, "meta", "", "Invocation meta as a JSON object")
	replayCmd.Flags().BoolVar(&replayLive, "live", false, "Long-running session (streaming flushes)")
	replayCmd.Flags().BoolVar(&replayInline, "inline", false, "Strict inline mode (no mid-run flushes)")
	replayCmd.Flags().StringVar(&replayDelay, "delay", "", "Streaming flush interval, e.g. 500ms")
	replayCmd.Flags().StringSliceVar(&replaySenders, "sender", nil, "Sender kinds (stdout, http, nats, outbox, websocket)")
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyReplayFlags(cmd, cfg); err != nil {
		return err
	}

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	records, err := readRecords(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}

	meta := map[string]any{}
	if replayMeta != "" {
		if err := json.Unmarshal([]byte(replayMeta), &meta); err != nil {
			return fmt.Errorf("invalid --meta: %w", err)
		}
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

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics.Namespace, nil)
	}

	s, closeSenders, err := buildSender(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSenders()

	r, err := runnable.New(meta, cfg.Cargo, runnable.Deps{
		Sender:  s,
		Logger:  logger,
		Metrics: m,
		OnSent: func(ev *domain.ProcessEvent, err error) {
			if err != nil {
				logger.WithError(err).WithField("sequence", ev.Sequence()).Error("Process event send failed")
			}
		},
	})
	if err != nil {
		return err
	}
	defer r.Close()

	r.Start(ctx)
	logger.WithFields(logrus.Fields{
		"series":  r.Container().Series(),
		"records": len(records),
	}).Info("Replay started")

	for i, rec := range records {
		final, err := rec.apply(ctx, r)
		if err != nil {
			// 被拒绝的条目不影响后续记录
			if errors.Is(err, domain.ErrBadRequest) || errors.Is(err, domain.ErrPayloadTooLarge) || errors.Is(err, domain.ErrInlinePayloadTooLarge) {
				logger.WithError(err).WithField("record", i).Warn("Record rejected")
				continue
			}
			return fmt.Errorf("record %d (%s): %w", i, rec.Kind, err)
		}
		if final {
			return nil
		}
	}

	_, err = r.SendFinal(ctx)
	return err
}

// applyReplayFlags 把 replay 的命令行标志叠加到配置上
func applyReplayFlags(cmd *cobra.Command, cfg *config.Config) error {
	if replayType != "" {
		cfg.Cargo.Type = replayType
	}
	if cmd.Flags().Changed("live") {
		cfg.Cargo.Live = replayLive
	}
	if cmd.Flags().Changed("inline") {
		cfg.Cargo.Inline = replayInline
	}
	if replayDelay != "" {
		d, err := time.ParseDuration(replayDelay)
		if err != nil {
			return fmt.Errorf("invalid --delay: %w", err)
		}
		cfg.Cargo.Delay = d
	}
	if len(replaySenders) > 0 {
		cfg.Sender.Kinds = replaySenders
	}
	if replayDryRun {
		cfg.Sender.Kinds = []string{sender.NameStdout}
		cfg.LargeCommand.Backend = "none"
	}
	return cfg.Validate()
}

// buildSender 组装发送器链：配置的发送器 → 大载荷带外投递
func buildSender(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (cargo.Sender, func() error, error) {
	base, closeBase, err := sender.Build(ctx, cfg.Sender, os.Stdout, logger)
	if err != nil {
		return nil, nil, err
	}
	wrapped, closeLarge, err := largecmd.Wrap(base, cfg.LargeCommand, logger)
	if err != nil {
		closeBase()
		return nil, nil, err
	}
	return wrapped, func() error {
		return errors.Join(closeLarge(), closeBase())
	}, nil
}
