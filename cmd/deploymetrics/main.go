package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev" // Will be set during build

var (
	configFile string
	logFile    string
)

var rootCmd = &cobra.Command{
	Use:   "deploymetrics",
	Short: "DORA deployment frequency and lead time for changes",
	Long: `Deploymetrics records deployments and the changes they ship, and computes
the DORA deployment frequency and lead time for changes metrics for an
application and everything below it in the application hierarchy.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Custom usage template that encourages 'help' subcommand pattern
const usageTemplate = `Usage:{{if .Runnable}}
  {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}{{if gt (len .Aliases) 0}}

Aliases:
  {{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}{{$cmds := .Commands}}{{if eq (len .Groups) 0}}

Available Commands:{{range $cmds}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{else}}{{range $group := .Groups}}

{{.Title}}{{range $cmds}}{{if (and (eq .GroupID $group.ID) (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{if not .AllChildCommandsHaveGroup}}

Additional Commands:{{range $cmds}}{{if (and (eq .GroupID "") (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasHelpSubCommands}}

Additional help topics:{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
  {{rpad .CommandPath .CommandPathPadding}} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} help [command]" for more information about a command.{{end}}
`

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetUsageTemplate(usageTemplate)

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", getEnvOrDefault("DEPLOYMETRICS_CONFIG_FILE", ""), "Path to deploymetrics.yaml configuration file")
	rootCmd.PersistentFlags().StringVar(&logFile, "log", getEnvOrDefault("DEPLOYMETRICS_LOG_FILE", "./deploymetrics.log"), "Path to log file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}
