package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/germanamz/mediahub/pkg/dispatch"
	"github.com/germanamz/mediahub/pkg/hub"
	"github.com/germanamz/mediahub/pkg/models"
)

type watchFlags struct {
	metricsAddr string
	messages    bool
}

func newWatchCmd(g *globalFlags) *cobra.Command {
	f := &watchFlags{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream availability, session and library events",
		Long: `Connect to the server and print every availability change, session
change and tracked library update until interrupted. Libraries listed in the
configuration are tracked from startup.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd.OutOrStdout(), g, f)
		},
	}

	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	cmd.Flags().BoolVar(&f.messages, "messages", false, "also print passthrough messages as JSON")

	return cmd
}

func runWatch(out io.Writer, g *globalFlags, f *watchFlags) error {
	ctx, cancel := signalContext()
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	h, logger, err := openHub(g, reg)
	if err != nil {
		return err
	}
	defer h.Stop()

	if f.metricsAddr != "" {
		srv := serveMetrics(f.metricsAddr, reg, logger)
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	subscribeWatch(out, h, f.messages)

	err = h.Run(ctx)

	h.Stop()
	select {
	case <-h.Drained():
	case <-time.After(2 * time.Second):
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// subscribeWatch prints hub events to out. Handlers run on the dispatcher
// goroutine, so writes are never interleaved.
func subscribeWatch(out io.Writer, h *hub.Hub, messages bool) {
	h.OnAvailabilityChanged(func(_ context.Context, available bool) error {
		_, err := fmt.Fprintln(out, timestamp(time.Now()), renderAvailability(available, h.Identity().ServerName))
		return err
	})

	h.OnSessionChanged(func(_ context.Context, c hub.SessionChange) error {
		_, err := fmt.Fprintln(out, timestamp(time.Now()), renderChange(c))
		return err
	})

	h.Subscribe(dispatch.OfKind(dispatch.KindLibrary), func(_ context.Context, e dispatch.Event) error {
		res, ok := e.Data.(models.LibraryResult)
		if !ok || e.Library == nil {
			return nil
		}
		_, err := fmt.Fprintln(out, timestamp(e.Timestamp), renderLibrary(*e.Library, res))
		return err
	})

	if messages {
		h.OnMessage(func(_ context.Context, messageType string, data map[string]any) error {
			payload, err := json.Marshal(data)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, timestamp(time.Now()), headerStyle.Render(messageType), string(payload))
			return err
		})
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "err", err)
		}
	}()

	return srv
}
