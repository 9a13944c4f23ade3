// Package cli implements the steward command line: a serve command that runs
// the autonomy core as a long-lived process, plus approval and settings
// subcommands that operate on the same data directory.
package cli

import (
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	cfgFile string
	userID  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "steward",
	Short: "Steward - autonomy policy core for agent tool calls",
	Long: `Steward decides whether an agent's tool calls run immediately or wait
for human approval, based on per-user autonomy settings, tool risk levels,
and quiet hours. It persists approvals and an audit trail in SQLite.`,
	Version: version,
}

// Execute runs the root command. It is called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.steward/steward.json)")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "default", "user whose settings and approvals to operate on")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}
