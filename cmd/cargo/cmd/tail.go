package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/oriys/nimbus-cargo/internal/domain"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// tailCmd 跟踪接收端的实时信封流
var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow envelopes received by the development sink",
	Long: `Follow envelopes received by the development sink.

Examples:
  cargo tail
  cargo tail --series 0b6c... -o json`,
	RunE: runTail,
}

var (
	tailURL    string
	tailSeries string
)

func init() {
	rootCmd.AddCommand(tailCmd)
	tailCmd.Flags().StringVar(&tailURL, "url", "ws://localhost:8090/v1/stream", "Sink stream URL")
	tailCmd.Flags().StringVar(&tailSeries, "series", "", "Only show envelopes of this series")
}

func runTail(cmd *cobra.Command, args []string) error {
	u, err := url.Parse(tailURL)
	if err != nil {
		return fmt.Errorf("invalid stream url: %w", err)
	}
	if tailSeries != "" {
		q := u.Query()
		q.Set("series", tailSeries)
		u.RawQuery = q.Encode()
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect stream: %w", err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}()

	fmt.Fprintf(os.Stderr, "Following %s (Ctrl+C to stop)...\n", u.String())

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("stream closed: %w", err)
		}
		if err := printEnvelope(os.Stdout, data, outputFormat()); err != nil {
			return err
		}
	}
}

// printEnvelope 按输出格式打印一个信封
func printEnvelope(w io.Writer, raw []byte, format string) error {
	switch format {
	case "json":
		_, err := fmt.Fprintln(w, string(raw))
		return err
	case "yaml":
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		out, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "---\n%s", out)
		return err
	}

	var ev domain.ProcessEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return err
	}
	line := fmt.Sprintf("%s\t#%d\t%s", ev.Series(), ev.Sequence(), ev.Type)
	if ev.IsLargeCommand() {
		line += "\tlarge"
	}
	fmt.Fprintln(w, line)

	if ev.Payload == nil {
		return nil
	}
	for _, e := range ev.Payload.Log {
		fmt.Fprintf(w, "  %s\t%-9s\t%s\n", e.Timestamp, e.Level, e.Message)
	}
	for _, c := range ev.Payload.Commands {
		fmt.Fprintf(w, "  command\t%s\t%s\n", c.Type, c.ID())
	}
	if ev.Payload.NextRun != nil {
		fmt.Fprintf(w, "  nextRun\t%v\n", ev.Payload.NextRun)
	}
	return nil
}
