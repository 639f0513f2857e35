package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	cmdcore "github.com/projecteru2/modwire/cmd/core"
	"github.com/projecteru2/modwire/gc"
)

// sweepInterval is fixed rather than configurable: the sweep is cheap (it
// no-ops whenever the removal-pending set is empty) and spec §4.7 gives no
// guidance on cadence.
const sweepInterval = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run as a long-lived process, periodically sweeping removal-pending revisions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmdcore.CommandContext(cmd)
		c, closeFn, err := cmdcore.OpenContainer(ctx, conf)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := closeFn(); cerr != nil {
				log.WithFunc("cmd.serve").Errorf(ctx, cerr, "persist database on shutdown")
			}
		}()

		sweeper := gc.NewSweeper(
			sweepInterval,
			func(sweepCtx context.Context) error { return c.Refresh(sweepCtx, nil) },
			func() bool { return len(c.GetRemovalPendingBundles()) > 0 },
		)
		fmt.Println("serving; press Ctrl-C to stop")
		sweeper.Run(ctx)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
