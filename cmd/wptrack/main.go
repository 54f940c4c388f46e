// Command wptrack queries and drives a running wptrackd.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matheus3301/wptrack/internal/api"
	"github.com/matheus3301/wptrack/internal/config"
	"github.com/matheus3301/wptrack/internal/paths"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

type options struct {
	profile    string
	configPath string
	json       bool
	timeout    time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", describe(err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "wptrack",
		Short:         "Query the WhatsApp tracker daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.profile, "profile", "", "profile name (overrides config default)")
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default $WPTRACK_HOME/config.toml)")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "output in JSON format")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "RPC timeout")

	root.AddCommand(
		contactsCmd(opts),
		historyCmd(opts),
		mediaCmd(opts),
		exportCmd(opts),
		sendCmd(opts),
		logoutCmd(opts),
		statusCmd(opts),
		qrCmd(opts),
		watchCmd(opts),
	)
	return root
}

// layout resolves the active profile the same way the daemon does.
func (o *options) layout() (paths.Layout, string, error) {
	configPath := o.configPath
	if configPath == "" {
		configPath = paths.ConfigPath()
	}
	cfg, err := config.Load(configPath, o.configPath != "")
	if err != nil {
		return paths.Layout{}, "", err
	}
	profile := paths.Resolve(o.profile, cfg.DefaultProfile)
	if err := paths.ValidateName(profile); err != nil {
		return paths.Layout{}, "", err
	}
	return paths.ForProfile(profile), profile, nil
}

// withClient dials the profile's daemon and runs fn under the RPC timeout.
// A zero timeout leaves only the command context, for streaming calls.
func (o *options) withClient(cmd *cobra.Command, timeout time.Duration, fn func(context.Context, *api.Client) error) error {
	layout, profile, err := o.layout()
	if err != nil {
		return err
	}
	socket := layout.SocketPath()
	if _, err := os.Stat(socket); err != nil {
		return fmt.Errorf("daemon for profile %q is not running (no socket at %s)", profile, socket)
	}
	c, err := api.Dial(socket)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx := cmd.Context()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fn(ctx, c)
}

// describe strips the gRPC envelope from daemon errors.
func describe(err error) error {
	st, ok := grpcstatus.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unavailable:
		return fmt.Errorf("daemon unavailable: %s", st.Message())
	case codes.NotFound, codes.InvalidArgument:
		return errors.New(st.Message())
	default:
		return fmt.Errorf("%s: %s", st.Code(), st.Message())
	}
}
