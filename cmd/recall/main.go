package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/xhad/recall/pkg/app"
	"github.com/xhad/recall/pkg/config"
)

func main() {
	var cfgPath string
	root := &cobra.Command{
		Use:           "recall",
		Short:         "Chat with your own notes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config.yaml)")

	load := func() (*config.Config, error) { return config.LoadConfig(cfgPath) }
	root.AddCommand(
		serveCMD(load),
		migrateCMD(load),
		ingestCMD(load),
		chatCMD(load),
		watchCMD(load),
		tokenCMD(load),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

type loader func() (*config.Config, error)

// buildApp loads the configuration and assembles every component once.
func buildApp(ctx context.Context, load loader) (*app.App, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}
