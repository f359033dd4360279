package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/daviddao/correlog/pkg/correlation"
	"github.com/daviddao/correlog/pkg/correlator"
	"github.com/daviddao/correlog/pkg/metrics"
	"github.com/daviddao/correlog/pkg/model"
	"github.com/daviddao/correlog/pkg/store"
)

// maxLineSize bounds one JSON-lines message.
const maxLineSize = 1 << 20

type runOptions struct {
	jsonOut   bool
	noJournal bool
}

func newRunCmd(a *app) *cobra.Command {
	var (
		input string
		opts  runOptions
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Correlate JSON-lines messages and print alerts",
		Long: `run reads one message per line, e.g.

  {"id": "LOGIN_FAILED", "name": "sshd", "values": {"HOST": "web-1"}}

feeds them to the configured contexts and prints every alert. It stops at
end of input or on SIGINT/SIGTERM after delivering the alerts already
produced. Windows still open at that point are dropped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			in := cmd.InOrStdin()
			if input != "" && input != "-" {
				f, err := a.fs.Open(input)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return a.run(ctx, in, cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "-", "read messages from this file (- for stdin)")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "print alerts as JSON lines")
	cmd.Flags().BoolVar(&opts.noJournal, "no-journal", false, "do not record alerts in the journal")
	return cmd
}

// alertPrinter prints and journals alerts. It only runs on the correlator's
// pump goroutine.
type alertPrinter struct {
	out     io.Writer
	jsonOut bool
	journal store.StoreInterface
	logger  *zap.Logger
	count   atomic.Int64
}

func (p *alertPrinter) handle(alert *model.Alert) {
	p.count.Add(1)
	if p.journal != nil {
		if _, err := p.journal.InsertAlert(alert); err != nil {
			p.logger.Error("journal alert", zap.String("action", alert.ActionID), zap.Error(err))
		}
	}
	if p.jsonOut {
		b, err := json.Marshal(alert)
		if err != nil {
			p.logger.Error("encode alert", zap.Error(err))
			return
		}
		fmt.Fprintln(p.out, string(b))
		return
	}
	fmt.Fprintln(p.out, formatAlert(alert))
}

// formatAlert renders an alert as one human-readable line.
func formatAlert(alert *model.Alert) string {
	var b strings.Builder
	ctx := alert.ContextName
	if ctx == "" {
		ctx = alert.ContextID
	}
	fmt.Fprintf(&b, "[%s] %s (%d messages)", ctx, alert.ActionID, alert.WindowLen)
	if text, ok := alert.Message.Value(correlation.MessageKey); ok && text != "" {
		fmt.Fprintf(&b, ": %s", text)
	}
	return b.String()
}

func (a *app) serveMetrics(m *metrics.Metrics) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: a.settings.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server", zap.Error(err))
		}
	}()
	a.logger.Info("serving metrics", zap.String("addr", a.settings.MetricsAddr))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func (a *app) run(ctx context.Context, in io.Reader, out io.Writer, opts runOptions) error {
	m := metrics.New()
	_, contexts, err := a.loadContexts(a.settings.Contexts, m)
	if err != nil {
		return err
	}

	printer := &alertPrinter{out: out, jsonOut: opts.jsonOut, logger: a.logger}
	if !opts.noJournal {
		j, err := a.openJournal()
		if err != nil {
			return err
		}
		printer.journal = j
	}

	if a.settings.MetricsAddr != "" {
		defer a.serveMetrics(m)()
	}

	c := correlator.New(contexts,
		correlator.WithLogger(a.logger),
		correlator.WithMetrics(m),
		correlator.WithTimerStep(a.settings.TimerStep),
		correlator.WithQueueSize(a.settings.QueueSize),
		correlator.WithStopTimeout(a.settings.StopTimeout),
		correlator.WithStopRetries(a.settings.StopRetries),
	)
	c.RegisterAlertHandler(c.InjectHandler(printer.handle))

	pushed, ingestErr := a.ingest(ctx, c, in)
	stopErr := c.Stop()
	a.logger.Info("run finished",
		zap.Int("messages", pushed),
		zap.Int64("alerts", printer.count.Load()))
	return errors.Join(ingestErr, stopErr)
}

// ingest pushes every decodable line of in into c until end of input or
// cancellation. Malformed lines are logged and skipped.
func (a *app) ingest(ctx context.Context, c *correlator.Correlator, in io.Reader) (int, error) {
	var limiter *rate.Limiter
	if r := a.settings.IngestRate; r > 0 {
		limiter = rate.NewLimiter(rate.Limit(r), 1)
	}

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 64*1024), maxLineSize)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	pushed, lineNo := 0, 0
	for {
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			a.logger.Info("interrupted, stopping")
			return pushed, nil
		case line, ok = <-lines:
		}
		if !ok {
			select {
			case err := <-scanErr:
				if err != nil {
					return pushed, fmt.Errorf("read input: %w", err)
				}
			default:
			}
			return pushed, nil
		}
		lineNo++

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		msg, err := decodeMessage(line)
		if err != nil {
			a.logger.Warn("skipping line", zap.Int("line", lineNo), zap.Error(err))
			continue
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return pushed, nil
			}
		}
		if err := c.PushMessage(msg); err != nil {
			return pushed, err
		}
		pushed++
	}
}

func decodeMessage(line string) (*model.Message, error) {
	var msg model.Message
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if msg.ID() == "" {
		return nil, errors.New("message has no id")
	}
	return &msg, nil
}
