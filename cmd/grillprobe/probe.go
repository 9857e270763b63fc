package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/grillprobe/internal/device"
	"github.com/srg/grillprobe/internal/probe"
	"github.com/srg/grillprobe/internal/store"
)

// probeCmd groups the probe settings commands
var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Manage probe names and target temperatures",
	Long: `Manage the settings database of known probes.

Probes are registered automatically the first time 'grillprobe monitor'
connects to them, with a probe target of 70°C and a grill target of 250°C.`,
}

var probeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered probes",
	Args:  cobra.NoArgs,
	RunE:  runProbeList,
}

var probeAddCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Register a probe with default targets",
	Args:  cobra.ExactArgs(1),
	RunE:  runProbeAdd,
}

var probeSetCmd = &cobra.Command{
	Use:   "set <id>",
	Short: "Change the name or targets of a registered probe",
	Example: `  grillprobe probe set AA:BB:CC:DD:EE:FF --name Brisket --probe-target 93
  grillprobe probe set AA:BB:CC:DD:EE:FF --grill-target 120`,
	Args: cobra.ExactArgs(1),
	RunE: runProbeSet,
}

var probeRemoveCmd = &cobra.Command{
	Use:     "remove <id>",
	Aliases: []string{"rm"},
	Short:   "Forget a registered probe",
	Args:    cobra.ExactArgs(1),
	RunE:    runProbeRemove,
}

var (
	probeName        string
	probeTarget      float64
	probeGrillTarget float64
)

func init() {
	probeAddCmd.Flags().StringVarP(&probeName, "name", "n", "", "Display name")

	probeSetCmd.Flags().StringVarP(&probeName, "name", "n", "", "Display name")
	probeSetCmd.Flags().Float64Var(&probeTarget, "probe-target", 0, "Probe target temperature in °C")
	probeSetCmd.Flags().Float64Var(&probeGrillTarget, "grill-target", 0, "Grill target temperature in °C")

	probeCmd.AddCommand(probeListCmd, probeAddCmd, probeSetCmd, probeRemoveCmd)
}

// openStore loads the configuration and opens the settings database
func openStore(cmd *cobra.Command) (*store.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := configureLogger(cmd, "verbose", cfg)
	if err != nil {
		return nil, err
	}

	// Arguments are valid, don't show usage on runtime errors
	cmd.SilenceUsage = true
	return store.Open(cfg.DatabasePath, logger)
}

func runProbeList(cmd *cobra.Command, _ []string) error {
	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	probes, err := st.List(cmd.Context())
	if err != nil {
		return err
	}
	newPrinter(cmd.OutOrStdout()).probes(probes)
	return nil
}

func runProbeAdd(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	id := device.ID(args[0])
	p, err := st.Add(cmd.Context(), id, probeName)
	if err != nil {
		return err
	}
	if probeName != "" && p.Name != probeName {
		if p, err = st.Update(cmd.Context(), id, store.Update{Name: &probeName}); err != nil {
			return err
		}
	}
	newPrinter(cmd.OutOrStdout()).probes([]store.Probe{p})
	return nil
}

func runProbeSet(cmd *cobra.Command, args []string) error {
	var u store.Update
	flags := cmd.Flags()
	if flags.Changed("name") {
		u.Name = &probeName
	}
	if flags.Changed("probe-target") {
		if err := validateTarget("probe-target", probeTarget); err != nil {
			return err
		}
		u.ProbeTarget = &probeTarget
	}
	if flags.Changed("grill-target") {
		if err := validateTarget("grill-target", probeGrillTarget); err != nil {
			return err
		}
		u.GrillTarget = &probeGrillTarget
	}
	if u.Name == nil && u.ProbeTarget == nil && u.GrillTarget == nil {
		return fmt.Errorf("nothing to change: use --name, --probe-target or --grill-target")
	}

	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	p, err := st.Update(cmd.Context(), device.ID(args[0]), u)
	if err != nil {
		return err
	}
	newPrinter(cmd.OutOrStdout()).probes([]store.Probe{p})
	return nil
}

func runProbeRemove(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Delete(cmd.Context(), device.ID(args[0])); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
	return nil
}

func validateTarget(flag string, v float64) error {
	if v < probe.MinTemperature || v > probe.MaxTemperature {
		return fmt.Errorf("--%s must be between %.0f and %.0f °C, got %.1f", flag, probe.MinTemperature, probe.MaxTemperature, v)
	}
	return nil
}
