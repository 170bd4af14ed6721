package main

import (
	"net"
	"strconv"

	"github.com/CefBoud/monpubsub/broadcast"
	"github.com/CefBoud/monpubsub/broker"
	log "github.com/CefBoud/monpubsub/logging"
	"github.com/CefBoud/monpubsub/telemetry"
	"github.com/CefBoud/monpubsub/types"
	"github.com/CefBoud/monpubsub/utils"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newBrokerCommand() *cobra.Command {
	var c common
	config := types.DefaultConfiguration()
	cmd := &cobra.Command{
		Use:   "broker",
		Short: "Run a broker replica",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config.LogLevel = c.logLevel
			config.CoordServers = c.coordServers
			config.CoordSessionTimeout = c.sessionTimeout
			return runBroker(&c, config)
		},
	}
	v := newViper()
	bindOptions(v, cmd, append(c.opts(),
		newOpt(&config.BrokerHost, "host", utils.LocalIP(), "ip the broker advertises and binds"),
		newOpt(&config.BrokerPort, "port", config.BrokerPort, "RPC port"),
		newOpt(&config.PubPort, "pub-port", config.PubPort, "broadcast port"),
		newOpt(&config.ReplicaName, "replica", "", "replica name, defaults to the host"),
		newOpt(&config.PollInterval, "poll-interval", config.PollInterval, "retry interval of the event loop"),
		newOpt(&config.Scaling.ScaleUpRequests, "scale-up-requests", config.Scaling.ScaleUpRequests, "scale up above this many requests per window"),
		newOpt(&config.Scaling.ScaleDownRequests, "scale-down-requests", config.Scaling.ScaleDownRequests, "scale down at or below this many requests per window"),
		newOpt(&config.Scaling.ScaleDownIdle, "scale-down-idle", config.Scaling.ScaleDownIdle, "window age required to scale down"),
		newOpt(&config.Scaling.Window, "window", config.Scaling.Window, "load window length"),
		newOpt(&config.AddressCacheSize, "address-cache-size", config.AddressCacheSize, "cached broker pool addresses"),
		newOpt(&config.MetricsAddress, "metrics-address", "", "serve Prometheus metrics on this address"),
	))
	return cmd
}

func runBroker(c *common, config types.Configuration) (err error) {
	ctx, stop := signalContext()
	defer stop()

	client, err := c.connect()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			err = multierror.Append(err, cerr)
		}
	}()

	out, err := broadcast.Listen(net.JoinHostPort(config.BrokerHost, strconv.Itoa(int(config.PubPort))))
	if err != nil {
		return err
	}
	tel, err := telemetry.New("monpubsub", config.MetricsAddress != "")
	if err != nil {
		out.Close()
		return err
	}
	b, err := broker.NewBroker(config, client, out)
	if err != nil {
		out.Close()
		return err
	}
	b.Metrics = tel.Metrics

	ln, err := net.Listen("tcp", net.JoinHostPort(config.BrokerHost, strconv.Itoa(int(config.BrokerPort))))
	if err != nil {
		out.Close()
		return err
	}
	log.Info("starting %s, broadcasting on %s", b, out.Addr())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := out.Serve()
		if err == broadcast.ErrServerClosed {
			return nil
		}
		return err
	})
	g.Go(func() error {
		defer out.Close()
		return b.Run(ctx, ln)
	})
	if config.MetricsAddress != "" {
		g.Go(func() error {
			return tel.Serve(ctx, config.MetricsAddress)
		})
	}
	return g.Wait()
}
