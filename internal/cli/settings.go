package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/pkg/autonomy"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Inspect and change autonomy settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show a user's autonomy settings",
	RunE:  runSettingsShow,
}

var settingsSetModeCmd = &cobra.Command{
	Use:   "set-mode <mode>",
	Short: "Set the default approval mode",
	Long: `Set the default approval mode for a user. Valid modes:
always_approve, high_risk_only, trust_confident, full_autonomy.`,
	Args: cobra.ExactArgs(1),
	RunE: runSettingsSetMode,
}

var (
	resetPreset  string
	resetSection string
)

var settingsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset autonomy settings to a preset",
	RunE:  runSettingsReset,
}

func init() {
	settingsResetCmd.Flags().StringVar(&resetPreset, "preset", "default", "preset to reset to (default, conservative, permissive)")
	settingsResetCmd.Flags().StringVar(&resetSection, "section", "", "section to reset (category_settings, tool_overrides, quiet_hours); empty resets everything")

	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetModeCmd)
	settingsCmd.AddCommand(settingsResetCmd)
	rootCmd.AddCommand(settingsCmd)
}

func openSettingsStore() (*autonomy.SQLiteStore, error) {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return nil, err
	}
	dataDir, err := resolveDataDir(cfg)
	if err != nil {
		return nil, err
	}
	return autonomy.NewSQLiteStore(filepath.Join(dataDir, "settings.db"), zerolog.Nop())
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	store, err := openSettingsStore()
	if err != nil {
		return err
	}
	defer store.Close()

	settings, err := store.Get(context.Background(), userID)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func runSettingsSetMode(cmd *cobra.Command, args []string) error {
	if !autonomy.IsValidMode(args[0]) {
		return fmt.Errorf("unknown approval mode %q", args[0])
	}

	store, err := openSettingsStore()
	if err != nil {
		return err
	}
	defer store.Close()

	mode := autonomy.Mode(args[0])
	updated, err := store.Update(context.Background(), userID, autonomy.Patch{DefaultMode: &mode})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Default approval mode for %s is now %s\n", userID, updated.DefaultMode)
	return nil
}

func runSettingsReset(cmd *cobra.Command, args []string) error {
	section := autonomy.Section(resetSection)
	if !autonomy.IsValidSection(section) {
		return fmt.Errorf("unknown settings section %q", resetSection)
	}

	store, err := openSettingsStore()
	if err != nil {
		return err
	}
	defer store.Close()

	_, err = store.Reset(context.Background(), userID, resetPreset, section)
	if err != nil {
		return err
	}

	if resetSection == "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Settings for %s reset to preset %s\n", userID, resetPreset)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Section %s for %s reset to preset %s\n", resetSection, userID, resetPreset)
	}
	return nil
}
