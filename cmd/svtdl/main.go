package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"svtdl/internal/config"
	"svtdl/internal/logger"
	"svtdl/internal/metrics"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.NewViper(nil)
	var configFile, output string

	root := &cobra.Command{
		Use:           "svtdl [flags] <manifest-url>...",
		Short:         "Download a DASH or HLS stream and remux it to MP4",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), v, configFile, func(ctx context.Context, a *app) error {
				out, err := a.run(ctx, args, output)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "Path to a config file (yaml, toml or json)")
	flags.IntP("workers", "w", 10, "Concurrent segment downloads")
	flags.Duration("timeout", 60*time.Second, "Per-request timeout")
	flags.String("user-agent", "svtdl/1.0", "User-Agent header")
	flags.Float64("rate-limit", 0, "Maximum requests per second, 0 for unlimited")
	flags.String("ffmpeg", "ffmpeg", "Path to the ffmpeg binary")
	flags.StringP("output-dir", "d", ".", "Directory for output files")
	flags.StringP("audio-language", "a", "", "Preferred audio language")
	flags.String("metrics-addr", "", "Serve prometheus metrics on this address")
	flags.StringP("log-level", "L", "info", "Log level (error, warn, info, debug)")
	flags.String("log-format", "text", "Log format (text, json)")
	for key, flag := range map[string]string{
		"workers":        "workers",
		"timeout":        "timeout",
		"user_agent":     "user-agent",
		"rate_limit":     "rate-limit",
		"ffmpeg":         "ffmpeg",
		"output_dir":     "output-dir",
		"audio_language": "audio-language",
		"metrics_addr":   "metrics-addr",
		"log.level":      "log-level",
		"log.format":     "log-format",
	} {
		lo.Must0(v.BindPFlag(key, flags.Lookup(flag)))
	}
	root.Flags().StringVarP(&output, "output", "o", "", "Output file, derived from the manifest URL when empty")

	root.AddCommand(&cobra.Command{
		Use:   "streams <manifest-url>...",
		Short: "List the streams of one or more manifests",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), v, configFile, func(ctx context.Context, a *app) error {
				streams, err := a.listStreams(ctx, args)
				if err != nil {
					return err
				}
				for _, s := range streams {
					fmt.Fprintln(cmd.OutOrStdout(), s)
				}
				return nil
			})
		},
	})
	return root
}

// withApp loads the configuration, sets up logging and metrics and runs fn.
func withApp(ctx context.Context, v *viper.Viper, configFile string, fn func(context.Context, *app) error) error {
	if err := config.ReadFile(v, configFile); err != nil {
		return err
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}

	log := logger.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if sl, ok := log.(*logger.SlogLogger); ok {
		log = sl.With("run", uuid.NewString())
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.MetricsAddr != "" {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		server := &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		}
		go func() {
			log.Infof("Metrics server starting on %s", cfg.MetricsAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("Could not listen on %s: %v", cfg.MetricsAddr, err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Errorf("Metrics server shutdown failed: %v", err)
			}
		}()
	}

	return fn(ctx, newApp(cfg, log, m))
}
