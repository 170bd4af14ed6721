// Command monpubsub runs a broker replica, a publisher or a subscriber.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CefBoud/monpubsub/coord"
	"github.com/CefBoud/monpubsub/coord/zookeeper"
	log "github.com/CefBoud/monpubsub/logging"
	"github.com/CefBoud/monpubsub/types"
	"github.com/spf13/cobra"
)

// common holds the options every command shares
type common struct {
	logLevel       string
	coordServers   []string
	sessionTimeout time.Duration
}

func (c *common) opts() []opt {
	d := types.DefaultConfiguration()
	return []opt{
		newOpt(&c.logLevel, "log-level", d.LogLevel, "DEBUG, INFO, WARN or ERROR"),
		newOpt(&c.coordServers, "coord-servers", d.CoordServers, "ZooKeeper servers"),
		newOpt(&c.sessionTimeout, "coord-session-timeout", d.CoordSessionTimeout, "ZooKeeper session timeout"),
	}
}

// connect applies the log level and opens a coordination session
func (c *common) connect() (coord.Client, error) {
	log.SetLogLevel(c.logLevel)
	return zookeeper.Connect(c.coordServers, c.sessionTimeout)
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "monpubsub",
		Short:         "Elastic publish/subscribe over a ZooKeeper-coordinated broker pool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newBrokerCommand(), newPublishCommand(), newSubscribeCommand())
	return root
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
