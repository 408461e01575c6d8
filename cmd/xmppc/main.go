// Copyright 2019 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// The xmppc command connects to an XMPP server over BOSH or WebSocket,
// optionally pings the server and sends a chat message, then disconnects.
//
// The address and password are read from the environment:
//
//	$XMPP_ADDR: the JID to log in as (overridden by --addr)
//	$XMPP_PASS: the password
//
// For more information try running:
//
//	xmppc --help
package main

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"mellium.im/xmppclient"
	"mellium.im/xmppclient/internal/ns"
	"mellium.im/xmppclient/jid"
	"mellium.im/xmppclient/ping"
	"mellium.im/xmppclient/sasl"
	"mellium.im/xmppclient/stanza"
)

/* #nosec */
const (
	envAddr = "XMPP_ADDR"
	envPass = "XMPP_PASS"
)

type flagData struct {
	addr              string
	service           string
	resource          string
	to                string
	message           string
	ping              bool
	connectTimeout    time.Duration
	disconnectTimeout time.Duration
	verbose           bool
	logXML            bool
}

func main() {
	log := logrus.New()
	if err := newRootCommand(log, os.Getenv).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(log *logrus.Logger, getenv func(string) string) *cobra.Command {
	var flags flagData
	cmd := &cobra.Command{
		Use:   "xmppc",
		Short: "Connect to an XMPP server over BOSH or WebSocket",
		Long: fmt.Sprintf(`Connect to an XMPP server over BOSH or WebSocket.

The address to log in as is taken from --addr or $%s and the password from $%s.
If no --service is given the endpoint is discovered from the server's host-meta
file.`, envAddr, envPass),
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flags.verbose || flags.logXML {
				log.SetLevel(logrus.DebugLevel)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return run(ctx, log, cmd.OutOrStdout(), flags, getenv(envPass))
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.addr, "addr", "a", getenv(envAddr), "The JID to log in as")
	f.StringVarP(&flags.service, "service", "s", "", "The BOSH (http, https) or WebSocket (ws, wss) URL of the server")
	f.StringVarP(&flags.resource, "resource", "r", "", "The resource to request when binding")
	f.StringVarP(&flags.to, "to", "t", "", "The JID to send --message to")
	f.StringVarP(&flags.message, "message", "m", "", "A chat message to send to --to once connected")
	f.BoolVar(&flags.ping, "ping", false, "Ping the server once connected and report the round trip time")
	f.DurationVar(&flags.connectTimeout, "timeout", xmppclient.DefaultConnectTimeout, "The maximum amount of time to spend connecting, 0 for no limit")
	f.DurationVar(&flags.disconnectTimeout, "disconnect-timeout", xmppclient.DefaultDisconnectTimeout, "How long to wait for the server to acknowledge the end of the stream")
	f.BoolVarP(&flags.verbose, "verbose", "v", false, "Turns on verbose debug logging")
	f.BoolVar(&flags.logXML, "xml", false, "Turns on verbose debug and XML logging")

	return cmd
}

// logWriter writes every chunk of XML as a log entry.
type logWriter struct {
	entry *logrus.Entry
}

func (lw logWriter) Write(p []byte) (int, error) {
	lw.entry.Debugf("%s", p)
	return len(p), nil
}

func run(ctx context.Context, log logrus.FieldLogger, out io.Writer, flags flagData, pass string) error {
	// Return a sane error if the address is empty instead of erroring out when
	// we try to parse it.
	if flags.addr == "" {
		return fmt.Errorf("address not specified, use --addr or set $%s", envAddr)
	}
	addr, err := jid.Parse(flags.addr)
	if err != nil {
		return fmt.Errorf("error parsing address %q: %w", flags.addr, err)
	}
	var to jid.JID
	if flags.message != "" {
		if flags.to == "" {
			return fmt.Errorf("--message requires --to")
		}
		to, err = jid.Parse(flags.to)
		if err != nil {
			return fmt.Errorf("error parsing recipient %q: %w", flags.to, err)
		}
	}
	if pass == "" {
		log.Debugf("the environment variable $%s is empty", envPass)
	}

	opts := []xmppclient.Option{
		xmppclient.Logger(log),
		xmppclient.ConnectTimeout(flags.connectTimeout),
		xmppclient.DisconnectTimeout(flags.disconnectTimeout),
		xmppclient.Resource(flags.resource),
		xmppclient.OnError(func(err error) {
			log.WithError(err).Warn("connection error")
		}),
	}
	if flags.service != "" {
		opts = append(opts, xmppclient.Service(flags.service))
	}
	if flags.logXML {
		opts = append(opts,
			xmppclient.InputLog(logWriter{log.WithField("dir", "in")}),
			xmppclient.OutputLog(logWriter{log.WithField("dir", "out")}),
		)
	}
	c := xmppclient.New(opts...)

	err = c.Connect(ctx, addr, sasl.Credentials{Password: pass}, nil)
	if err != nil {
		return fmt.Errorf("error connecting as %s: %w", addr, err)
	}
	fmt.Fprintf(out, "connected as %s\n", c.LocalAddr())

	if flags.ping {
		if err := pingServer(ctx, c, out); err != nil {
			/* #nosec */
			c.Disconnect("")
			return err
		}
	}
	if flags.message != "" {
		msg := stanza.Message(stanza.ChatMessage).
			Attr("to", to.String()).
			C(xml.Name{Space: ns.Client, Local: "body"}).
			T(flags.message).
			Element()
		if err := c.Send(msg); err != nil {
			/* #nosec */
			c.Disconnect("")
			return fmt.Errorf("error sending message to %s: %w", to, err)
		}
		fmt.Fprintf(out, "sent message to %s\n", to)
	}

	if err := c.Disconnect(""); err != nil {
		log.WithError(err).Warn("server did not acknowledge the end of the stream")
	}
	return nil
}

func pingServer(ctx context.Context, c *xmppclient.Conn, out io.Writer) error {
	server := c.LocalAddr().Domain()
	rtt, err := ping.Send(ctx, c, server)
	if err != nil {
		return fmt.Errorf("error pinging %s: %w", server, err)
	}
	fmt.Fprintf(out, "ping %s: %s\n", server, rtt.Round(time.Millisecond))
	return nil
}
