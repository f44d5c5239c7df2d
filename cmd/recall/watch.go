package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/xhad/recall/pkg/watch"
)

func watchCMD(load loader) *cobra.Command {
	var user, dir string

	w := &cobra.Command{
		Use:   "watch",
		Short: "Keep a directory of notes in sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, load)
			if err != nil {
				return err
			}
			defer a.Close()

			if user == "" {
				user = a.Config.Watch.OwnerID
			}
			if dir == "" {
				dir = a.Config.Watch.Dir
			}
			if user == "" || dir == "" {
				return fmt.Errorf("--user and --dir are required (or watch.owner_id and watch.dir in config)")
			}

			watcher, err := watch.NewWithConfig(watch.WatcherConfig{
				Dir:        dir,
				OwnerID:    user,
				Extensions: a.Config.Watch.Extensions,
				Syncer:     a.Ingestor,
			})
			if err != nil {
				return err
			}
			return watcher.Run(ctx)
		},
	}
	w.Flags().StringVar(&user, "user", "", "owner of the ingested notes")
	w.Flags().StringVar(&dir, "dir", "", "directory to watch")
	return w
}
