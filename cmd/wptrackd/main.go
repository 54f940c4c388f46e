package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/wptrack/internal/config"
	"github.com/matheus3301/wptrack/internal/daemon"
	"github.com/matheus3301/wptrack/internal/paths"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	configFlag := flag.String("config", "", "config file (default $WPTRACK_HOME/config.toml)")
	flag.Parse()

	configPath := *configFlag
	if configPath == "" {
		configPath = paths.ConfigPath()
	}
	cfg, err := config.Load(configPath, *configFlag != "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	profile := paths.Resolve(*profileFlag, cfg.DefaultProfile)
	if err := paths.ValidateName(profile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			Profile: profile,
			Layout:  paths.ForProfile(profile),
			Config:  cfg,
		}),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		// Leave room for the pipeline drain plus session and store teardown.
		fx.StopTimeout(cfg.Pipeline.ShutdownTimeout.Duration+10*time.Second),
	)

	app.Run()
}
