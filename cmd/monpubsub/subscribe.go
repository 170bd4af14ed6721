package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	log "github.com/CefBoud/monpubsub/logging"
	"github.com/CefBoud/monpubsub/subscriber"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
)

func newSubscribeCommand() *cobra.Command {
	var f clientFlags
	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Print values received on the given topics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			codec, err := f.validate()
			if err != nil {
				return err
			}
			opts := subscriber.DefaultOptions()
			if f.host != "" {
				opts.Host = f.host
			}
			opts.HistoryLength = uint32(f.history)
			opts.Codec = codec
			return runSubscribe(&f, opts, os.Stdout)
		},
	}
	bindOptions(newViper(), cmd, f.opts())
	return cmd
}

func runSubscribe(f *clientFlags, opts subscriber.Options, out io.Writer) (err error) {
	ctx, stop := signalContext()
	defer stop()

	client, err := f.connect()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			err = multierror.Append(err, cerr)
		}
	}()

	var sub subscriber.Subscriber
	if f.mode == modeDirect {
		sub, err = subscriber.NewDirect(ctx, client, f.topics, opts)
	} else {
		sub, err = subscriber.NewViaBroker(ctx, client, f.topics, opts)
	}
	if err != nil {
		return err
	}
	defer sub.Close()
	log.Info("subscribed to %v", f.topics)

	for {
		m, err := sub.Receive(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %s\n", m.Topic, m.Value)
	}
}
