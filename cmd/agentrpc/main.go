// Command agentrpc is a debugging front-end for the agent transport: it can
// run a minimal agent server on a unix or vsock address, and issue one-shot
// calls against a running one.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"agentrpc/client"
	"agentrpc/health"
	"agentrpc/message"
	"agentrpc/middleware"
	"agentrpc/server"
)

var version = "0.1.0"

func main() {
	root := &cobra.Command{
		Use:           "agentrpc",
		Short:         "multiplexed guest-agent RPC transport",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCommand(), callCommand())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "agentrpc:", err)
		os.Exit(1)
	}
}

func serveCommand() *cobra.Command {
	var (
		listens []string
		debug   bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run a minimal agent server until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				logrus.SetLevel(logrus.DebugLevel)
			}
			s := server.NewServer()
			for _, addr := range listens {
				if err := s.Bind(addr); err != nil {
					return err
				}
			}
			if err := s.Use(middleware.Recovery(logrus.StandardLogger())); err != nil {
				return err
			}
			if err := s.Use(middleware.Logging(logrus.StandardLogger())); err != nil {
				return err
			}
			if err := s.RegisterService(health.ServiceName, health.Methods(version)); err != nil {
				return err
			}
			if err := s.Start(); err != nil {
				return err
			}
			logrus.WithField("listen", listens).Info("serving")

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig
			logrus.Info("shutting down")
			return s.Shutdown()
		},
	}
	cmd.Flags().StringArrayVarP(&listens, "listen", "l", []string{"unix:///run/agentrpc.sock"}, "address to listen on (repeatable)")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	return cmd
}

func callCommand() *cobra.Command {
	var (
		addr    string
		payload string
		timeout time.Duration
		meta    []string
	)
	cmd := &cobra.Command{
		Use:   "call <service> <method>",
		Short: "issue one request and print the response payload",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.Dial(addr)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx := context.Background()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			var md []message.KeyValue
			for _, m := range meta {
				k, v, ok := strings.Cut(m, "=")
				if !ok {
					return fmt.Errorf("metadata %q must be key=value", m)
				}
				md = append(md, message.KeyValue{Key: k, Value: v})
			}
			out, err := c.Call(ctx, args[0], args[1], []byte(payload), md...)
			if err != nil {
				return err
			}
			if len(out) > 0 {
				fmt.Println(string(out))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", "unix:///run/agentrpc.sock", "server address")
	cmd.Flags().StringVarP(&payload, "payload", "p", "", "request payload")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "per-call deadline (0 = none)")
	cmd.Flags().StringArrayVarP(&meta, "metadata", "m", nil, "metadata pair key=value (repeatable)")
	return cmd
}
