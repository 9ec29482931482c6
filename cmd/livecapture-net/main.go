// Command livecapture-net runs the dual-channel networking substrate as a
// standalone process: either the server half (accepting remotes on a stream
// + shared datagram port) or the client half (dialing a known server and
// reconnecting automatically), both driven by the same appconfig.Config.
//
// This is a thin cobra wrapper in the spirit of the teacher's cobra
// package (instance-based app, --config flag, shared logger) without that
// package's shell-completion/config-generation surface, which a two-
// subcommand utility like this one has no use for.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kekchpek/live-capture-net/appconfig"
	"github.com/kekchpek/live-capture-net/conn"
	"github.com/kekchpek/live-capture-net/metrics"
	"github.com/kekchpek/live-capture-net/netclient"
	"github.com/kekchpek/live-capture-net/netserver"
	"github.com/kekchpek/live-capture-net/remote"
)

var configPath string

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "livecapture-net",
		Short: "Dual-channel live-capture networking substrate",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML/JSON configuration file")

	root.AddCommand(newServeCommand())
	root.AddCommand(newConnectCommand())
	return root
}

func loadLogger(cfg appconfig.Config) *logrus.Logger {
	log := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		log.SetLevel(lvl)
	}
	return log
}

// registerMetrics returns a Collector registered against the default
// Prometheus registerer, or nil if metrics are disabled or registration
// fails. The caller threads the result into netserver.Options/
// netclient.Options so every counter is actually incremented, not merely
// exposed.
func registerMetrics(cfg appconfig.Config, log *logrus.Logger) *metrics.Collector {
	if !cfg.Metrics.Enabled {
		return nil
	}
	coll := metrics.New(cfg.Metrics.Namespace)
	if err := coll.Register(prometheus.DefaultRegisterer); err != nil {
		log.WithError(err).Warn("failed to register metrics")
		return nil
	}
	return coll
}

func setupSignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx
}

func newServeCommand() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept remotes on a stream port and a shared datagram port",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(configPath)
			if err != nil {
				return err
			}
			log := loadLogger(cfg)

			if port == 0 {
				port = cfg.Server.Port
			}

			srv := netserver.New(netserver.Options{
				LocalID: remote.NewID(),
				Logger:  log,
				Metrics: registerMetrics(cfg, log),
			})

			srv.Events().OnRemoteConnected(func(r *remote.Remote) {
				log.WithField("remote", r.ID().String()).Info("remote connected")
			})
			srv.Events().OnRemoteDisconnected(func(r *remote.Remote, reason conn.Reason) {
				log.WithField("remote", r.ID().String()).WithField("reason", reason.String()).Info("remote disconnected")
			})

			ctx := setupSignalContext()
			if err := srv.Start(ctx, port); err != nil {
				return fmt.Errorf("starting server: %w", err)
			}
			log.WithField("port", port).Info("server listening")

			<-ctx.Done()
			return srv.Stop(context.Background())
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "stream+datagram listen port (overrides config)")
	return cmd
}

func newConnectCommand() *cobra.Command {
	var host string
	var port int
	var localPort int

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Dial a server and maintain the connection, reconnecting automatically",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(configPath)
			if err != nil {
				return err
			}
			log := loadLogger(cfg)

			if host == "" {
				host = cfg.Client.ServerHost
			}
			if port == 0 {
				port = cfg.Client.ServerPort
			}
			if localPort == 0 {
				localPort = cfg.Client.LocalPort
			}

			cl := netclient.New(netclient.Options{
				LocalID:          remote.NewID(),
				Logger:           log,
				Metrics:          registerMetrics(cfg, log),
				ReconnectBackoff: cfg.Client.Reconnect,
			})

			cl.Events().OnRemoteConnected(func(r *remote.Remote) {
				log.WithField("remote", r.ID().String()).Info("connected to server")
			})
			cl.Events().OnRemoteDisconnected(func(r *remote.Remote, reason conn.Reason) {
				log.WithField("remote", r.ID().String()).WithField("reason", reason.String()).Info("disconnected from server")
			})

			ctx := setupSignalContext()
			if err := cl.Connect(ctx, host, port, localPort); err != nil {
				return fmt.Errorf("connecting: %w", err)
			}

			<-ctx.Done()
			return cl.Stop(context.Background())
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "server host (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "server port (overrides config)")
	cmd.Flags().IntVar(&localPort, "local-port", 0, "local port to bind (0 lets the OS choose)")
	return cmd
}
