package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/davidbalbert/ospfsync/config"
	"github.com/davidbalbert/ospfsync/ospf"
	"github.com/davidbalbert/ospfsync/sched"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the topology in real time until interrupted",
	Long: `Run gives every router its own event loop and runs until SIGINT. SIGHUP
rereads the topology file; only logging settings take effect without a
restart.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cm, err := config.NewConfigManager(configPath)
		if err != nil {
			return err
		}

		conf, _ := cm.LastChange()

		level := new(slog.LevelVar)
		level.Set(conf.LogLevel)

		log, closeLog, err := newLogger(level, conf.LogFile, false)
		if err != nil {
			return err
		}
		defer closeLog()

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)

		log.Info("starting ospfd", "version", version, "config", configPath, "routers", len(conf.Routers))

		return run(ctx, cm, hup, level, log)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func run(ctx context.Context, cm *config.ConfigManager, hup <-chan os.Signal, level *slog.LevelVar, log *slog.Logger) error {
	conf, seq := cm.LastChange()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := ospf.NewMetrics(reg)

	loops := make(map[string]*sched.Loop)
	n, err := buildNetwork(conf, func(name string) sched.Scheduler {
		l := sched.NewLoop()
		loops[name] = l
		return l
	}, log, ospf.WithMetrics(metrics))
	if err != nil {
		return err
	}

	var ln net.Listener
	if conf.MetricsListen != "" {
		ln, err = net.Listen("tcp", conf.MetricsListen)
		if err != nil {
			return err
		}

		log.Info("serving metrics", "addr", ln.Addr())
	}

	g, ctx := errgroup.WithContext(ctx)

	for _, name := range conf.RouterNames() {
		r := n.routers[name]
		l := loops[name]

		l.Post(0, r.Start)

		g.Go(func() error {
			err := l.Run(ctx)

			// The loop has stopped, so nothing else touches r.
			r.Stop()
			return err
		})

		g.Go(func() error {
			logEvents(ctx, log.With("name", name), r)
			return nil
		})
	}

	if ln != nil {
		g.Go(func() error {
			return serveMetrics(ctx, ln, reg)
		})
	}

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hup:
				if err := cm.Reload(); err != nil {
					log.Error("reload failed", "err", err)
				}
			}
		}
	})

	g.Go(func() error {
		watchConfig(ctx, cm, seq, level, log)
		return nil
	})

	return g.Wait()
}

func logEvents(ctx context.Context, log *slog.Logger, r *ospf.Router) {
	token := r.Subscribe()
	defer r.Unsubscribe(token)

	for {
		e, ok := r.NextEvent(ctx, token)
		if !ok {
			return
		}

		log.Info(string(e.Type), "at", e.At, "event", e.Data)
	}
}

func watchConfig(ctx context.Context, cm *config.ConfigManager, seq int64, level *slog.LevelVar, log *slog.Logger) {
	current, _ := cm.LastChange()

	for {
		conf, next := cm.AwaitChange(ctx, seq)
		if ctx.Err() != nil {
			return
		}
		seq = next

		level.Set(conf.LogLevel)
		log.Info("reloaded configuration", "log-level", conf.LogLevel)

		if config.TopologyChanged(current, conf) {
			log.Warn("topology changes take effect on restart")
		}
	}
}

func serveMetrics(ctx context.Context, ln net.Listener, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
