package modules

import "github.com/spf13/cobra"

// Actions defines module container operations exposed on the CLI.
type Actions interface {
	Install(cmd *cobra.Command, args []string) error
	Update(cmd *cobra.Command, args []string) error
	Uninstall(cmd *cobra.Command, args []string) error
	Resolve(cmd *cobra.Command, args []string) error
	Refresh(cmd *cobra.Command, args []string) error
	PS(cmd *cobra.Command, args []string) error
	StartLevel(cmd *cobra.Command, args []string) error
	ModuleStartLevel(cmd *cobra.Command, args []string) error
}

// Command builds the "module" parent command with all subcommands.
func Command(h Actions) *cobra.Command {
	moduleCmd := &cobra.Command{
		Use:     "module",
		Aliases: []string{"mod"},
		Short:   "Install, resolve, and manage modules",
	}

	installCmd := &cobra.Command{
		Use:   "install LOCATION DESCRIPTOR",
		Short: "Install a module from a descriptor file",
		Args:  cobra.ExactArgs(2), //nolint:mnd
		RunE:  h.Install,
	}

	updateCmd := &cobra.Command{
		Use:   "update ID DESCRIPTOR",
		Short: "Update a module's current revision",
		Args:  cobra.ExactArgs(2), //nolint:mnd
		RunE:  h.Update,
	}

	uninstallCmd := &cobra.Command{
		Use:   "uninstall ID",
		Short: "Uninstall a module",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Uninstall,
	}
	uninstallCmd.Flags().Bool("force", false, "skip the interactive confirmation prompt")

	resolveCmd := &cobra.Command{
		Use:   "resolve [ID...]",
		Short: "Resolve the given modules (all modules if none given)",
		RunE:  h.Resolve,
	}

	refreshCmd := &cobra.Command{
		Use:   "refresh [ID...]",
		Short: "Refresh (unresolve + re-resolve) the given modules",
		RunE:  h.Refresh,
	}

	psCmd := &cobra.Command{
		Use:     "ps",
		Aliases: []string{"ls", "list"},
		Short:   "List modules with state and start level",
		RunE:    h.PS,
	}

	startLevelCmd := &cobra.Command{
		Use:   "start-level [TARGET]",
		Short: "Show, or ramp to, the framework start level",
		Args:  cobra.MaximumNArgs(1),
		RunE:  h.StartLevel,
	}

	moduleStartLevelCmd := &cobra.Command{
		Use:   "set-start-level ID LEVEL",
		Short: "Set a single module's start level",
		Args:  cobra.ExactArgs(2), //nolint:mnd
		RunE:  h.ModuleStartLevel,
	}

	moduleCmd.AddCommand(
		installCmd,
		updateCmd,
		uninstallCmd,
		resolveCmd,
		refreshCmd,
		psCmd,
		startLevelCmd,
		moduleStartLevelCmd,
	)
	return moduleCmd
}
