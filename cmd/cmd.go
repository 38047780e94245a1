// cmd.go - CLI Hauptmodul
// Hauptfunktionen: NewCLI, appendEnvDocs
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ollama/weightpipe/envconfig"
	"github.com/ollama/weightpipe/logutil"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-28s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "weightpipe",
		Short:         "Convert Hugging Face checkpoints into runtime weights",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(*cobra.Command, []string) {
			slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Print(cmd.UsageString())
		},
	}

	convertCmd := newConvertCmd()
	manifestCmd := newManifestCmd()
	inspectCmd := newInspectCmd()

	envVars := envconfig.AsMap()
	envs := []envconfig.EnvVar{envVars["WEIGHTPIPE_DEBUG"]}

	for _, cmd := range []*cobra.Command{convertCmd, manifestCmd, inspectCmd} {
		switch cmd {
		case convertCmd:
			appendEnvDocs(cmd, append(envs,
				envVars["WEIGHTPIPE_DEVICE"],
				envVars["WEIGHTPIPE_LOAD_CONCURRENCY"],
				envVars["WEIGHTPIPE_INTER_ALIGN"],
				envVars["WEIGHTPIPE_FFN_ACT_SCALE"],
			))
		case manifestCmd:
			appendEnvDocs(cmd, append(envs,
				envVars["WEIGHTPIPE_INTER_ALIGN"],
				envVars["WEIGHTPIPE_FFN_ACT_SCALE"],
			))
		default:
			appendEnvDocs(cmd, envs)
		}
	}

	rootCmd.AddCommand(convertCmd, manifestCmd, inspectCmd)
	return rootCmd
}
