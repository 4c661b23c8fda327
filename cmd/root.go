package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/config"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/scheduler"
)

// cli carries state shared by the subcommands of one invocation.
type cli struct {
	cfgFile string
	cfg     *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "registration",
		Short:         "Registration lifecycle engine",
		Long:          `Runs the registration lifecycle daemon (held-registration expiry, host open/close sync, reminders) and one-shot maintenance commands.`,
		Version:       version,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.New(), c.cfgFile)
			if err != nil {
				return err
			}
			c.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&c.cfgFile, "config", "c", "",
		"config file (YAML); REGISTRATION_* environment variables override it")

	root.AddCommand(
		newServeCmd(c),
		newJobCmd(c, scheduler.JobExpireHeld, "Expire registrations held past their type's limit"),
		newJobCmd(c, scheduler.JobSyncStatus, "Open or close hosts whose open/close time has passed"),
		newJobCmd(c, scheduler.JobSendReminders, "Send due reminders to registrants"),
		newWorkflowCmd(c),
	)
	return root
}
