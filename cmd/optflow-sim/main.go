package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"optflow-sim-go/internal/config"
	"optflow-sim-go/internal/logging"
)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := config.Default()
	var cfgPath string
	log := logging.Logger()

	root := &cobra.Command{
		Use:   "optflow-sim",
		Short: "Simulated optical flow sensor: frames in, integrated flow records out",
		Example: `  optflow-sim --source sim --sim-vel-x 30 --csv
  optflow-sim --config optflow.yaml --source zmq --endpoint tcp://localhost:31001 --publish tcp://*:31002`,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			if cfgPath != "" {
				if !config.FileExists(cfgPath) {
					return fmt.Errorf("config file %s not found", cfgPath)
				}
				fileCfg, err := config.Load(cfgPath)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				config.Merge(&cfg, fileCfg, changed)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := logging.SetLevel(cfg.LogLevel); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, cfgPath)
		},
	}

	root.Flags().StringVarP(&cfgPath, "config", "c", "", "YAML or TOML config file (watched for changes)")
	config.BindFlags(root.Flags(), &cfg)

	if err := root.ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("optflow-sim failed")
		os.Exit(1)
	}
}
