// cmd_builders.go - Command-Builder Funktionen
// Hauptfunktionen: newConvertCmd, newManifestCmd, newInspectCmd
package cmd

import (
	"github.com/spf13/cobra"
)

// newConvertCmd - Erstellt den convert Command
func newConvertCmd() *cobra.Command {
	convertCmd := &cobra.Command{
		Use:   "convert DIR",
		Short: "Convert a checkpoint directory to GGUF",
		Args:  cobra.ExactArgs(1),
		RunE:  ConvertHandler,
	}

	convertCmd.Flags().StringP("output", "o", "", "Output file (default: <dir>.gguf)")
	convertCmd.Flags().String("device", "", "Device used to repack quantized weights (cpu, passthrough)")
	convertCmd.Flags().String("lora", "", "PEFT adapter directory merged into the base weights")
	convertCmd.Flags().Int("concurrency", 0, "Number of weights loaded in parallel")

	return convertCmd
}

// newManifestCmd - Erstellt den manifest Command
func newManifestCmd() *cobra.Command {
	manifestCmd := &cobra.Command{
		Use:   "manifest DIR",
		Short: "Show the weight manifest of a checkpoint directory",
		Args:  cobra.ExactArgs(1),
		RunE:  ManifestHandler,
	}

	manifestCmd.Flags().Bool("refs", false, "Show resolved checkpoint names")

	return manifestCmd
}

// newInspectCmd - Erstellt den inspect Command
func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect FILE",
		Short: "Show metadata and tensors of a GGUF file",
		Args:  cobra.ExactArgs(1),
		RunE:  InspectHandler,
	}
}
