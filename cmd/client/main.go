package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/certforge/pkg/client"
	"github.com/turtacn/certforge/pkg/constants"
	"github.com/turtacn/certforge/pkg/errors"
)

type clientOptions struct {
	host   string
	port   int
	name   string
	out    string
	abort  bool
	delay  time.Duration
	verify bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &clientOptions{}

	cmd := &cobra.Command{
		Use:          "certforge-client",
		Short:        "Requests a key and certificate from a certforge server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.host, "host", constants.DefaultClientHost, "server host")
	flags.IntVar(&opts.port, "port", constants.DefaultPort, "server port")
	flags.StringVar(&opts.name, "name", constants.DefaultClientName, "name to request a credential for")
	flags.StringVar(&opts.out, "out", constants.DefaultOutPrefix, "output prefix; writes <out>.key and <out>.crt")
	flags.BoolVar(&opts.abort, "abort", false, "close the connection right after sending the name")
	flags.DurationVar(&opts.delay, "delay", 0, "wait before reading the response")
	flags.BoolVar(&opts.verify, "verify", true, "check that the certificate matches the name and the private key")
	return cmd
}

func run(ctx context.Context, opts *clientOptions) error {
	addr := net.JoinHostPort(opts.host, strconv.Itoa(opts.port))
	cred, err := client.Request(ctx, addr, opts.name, client.Options{
		Abort: opts.abort,
		Delay: opts.delay,
	})
	if err != nil {
		return err
	}
	if cred == nil {
		fmt.Printf("sent %q to %s and aborted\n", opts.name, addr)
		return nil
	}
	if opts.verify {
		if _, err := cred.Verify(opts.name); err != nil {
			return err
		}
	}

	if err := os.WriteFile(opts.out+".key", cred.PrivateKey, 0o600); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "write %s.key", opts.out)
	}
	if err := os.WriteFile(opts.out+".crt", cred.Certificate, 0o644); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "write %s.crt", opts.out)
	}
	fmt.Printf("wrote %s.key (%d bytes) and %s.crt (%d bytes)\n",
		opts.out, len(cred.PrivateKey), opts.out, len(cred.Certificate))
	return nil
}
