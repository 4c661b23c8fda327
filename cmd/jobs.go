package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newJobCmd runs one lifecycle job immediately, under the lock the
// scheduled runs use.
func newJobCmd(c *cli, name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, c.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.newScheduler()
			if err != nil {
				return err
			}
			summary, ran, err := s.RunOnce(ctx, name)
			if !ran && err == nil {
				a.log.Info("job skipped, lock held by another instance", zap.String("job", name))
				fmt.Fprintf(cmd.OutOrStdout(), "%s: skipped, another instance is running it\n", name)
				return nil
			}
			if summary != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, summary)
			}
			return err
		},
	}
}
