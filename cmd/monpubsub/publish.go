package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/CefBoud/monpubsub/compress"
	log "github.com/CefBoud/monpubsub/logging"
	"github.com/CefBoud/monpubsub/publisher"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
)

const (
	modeDirect = "direct"
	modeBroker = "broker"
)

// clientFlags are shared by publish and subscribe
type clientFlags struct {
	common
	mode    string
	topics  []string
	host    string
	history int
	codec   string
}

func (f *clientFlags) opts() []opt {
	return append(f.common.opts(),
		newOpt(&f.mode, "mode", modeBroker, "direct or broker"),
		newOpt(&f.topics, "topics", nil, "topics, comma separated"),
		newOpt(&f.host, "host", "", "ip to identify with, defaults to the local ip"),
		newOpt(&f.history, "history", 1, "history length"),
		newOpt(&f.codec, "codec", "none", "compression of broker requests"),
	)
}

func (f *clientFlags) validate() (compress.CompressionType, error) {
	if f.mode != modeDirect && f.mode != modeBroker {
		return 0, fmt.Errorf("unknown mode %q", f.mode)
	}
	if len(f.topics) == 0 {
		return 0, fmt.Errorf("at least one topic is required")
	}
	if f.history < 0 {
		return 0, fmt.Errorf("negative history length %d", f.history)
	}
	return compress.ParseCompressionType(f.codec)
}

func newPublishCommand() *cobra.Command {
	var (
		f    clientFlags
		port int
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish \"topic value\" lines read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			codec, err := f.validate()
			if err != nil {
				return err
			}
			opts := publisher.DefaultOptions()
			if f.host != "" {
				opts.Host = f.host
			}
			opts.Port = uint32(port)
			opts.HistoryLength = uint32(f.history)
			opts.Codec = codec
			return runPublish(&f, opts, os.Stdin)
		},
	}
	bindOptions(newViper(), cmd, append(f.opts(),
		newOpt(&port, "port", 0, "broadcast port in direct mode, 0 picks a free one"),
	))
	return cmd
}

func runPublish(f *clientFlags, opts publisher.Options, in io.Reader) (err error) {
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

	var pub publisher.Publisher
	switch f.mode {
	case modeDirect:
		d, err := publisher.NewDirect(client, f.topics, opts)
		if err != nil {
			return err
		}
		log.Info("publishing %v on %s", f.topics, d.Addr())
		pub = d
	default:
		b, err := publisher.NewViaBroker(ctx, client, f.topics, opts)
		if err != nil {
			return err
		}
		log.Info("publishing %v through %s", f.topics, b.Replica())
		pub = b
	}
	defer func() {
		if cerr := pub.Close(); cerr != nil {
			err = multierror.Append(err, cerr)
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			topic, value, _ := strings.Cut(strings.TrimSpace(line), " ")
			if topic == "" {
				continue
			}
			if err := pub.Publish(topic, value); err != nil {
				log.Warn("publishing on %s: %v", topic, err)
			}
		}
	}
}
