// cmd_convert.go - convert Command
// Hauptfunktionen: ConvertHandler, convertOptions
package cmd

import (
	"cmp"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/ollama/weightpipe/convert"
	"github.com/ollama/weightpipe/huggingface"
)

// convertOptions - Flags ueberschreiben die Umgebung
func convertOptions(cmd *cobra.Command) (convert.Options, error) {
	opts := convert.DefaultOptions()

	device, err := cmd.Flags().GetString("device")
	if err != nil {
		return opts, err
	}
	opts.Device = cmp.Or(strings.ToLower(device), opts.Device)

	if opts.Lora, err = cmd.Flags().GetString("lora"); err != nil {
		return opts, err
	}

	concurrency, err := cmd.Flags().GetInt("concurrency")
	if err != nil {
		return opts, err
	}
	if concurrency > 0 {
		opts.Concurrency = concurrency
	}
	return opts, nil
}

// ConvertHandler - Konvertiert ein Checkpoint-Verzeichnis zu GGUF
func ConvertHandler(cmd *cobra.Command, args []string) error {
	dir, err := huggingface.ResolveDir(args[0])
	if err != nil {
		return err
	}
	dir = filepath.Clean(dir)

	opts, err := convertOptions(cmd)
	if err != nil {
		return err
	}

	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	output = cmp.Or(output, defaultOutput(args[0], dir))

	if term.IsTerminal(int(os.Stderr.Fd())) {
		opts.Progress = func(p float32) {
			fmt.Fprintf(os.Stderr, "\rloading weights %3.0f%%", p*100)
		}
	}

	f, err := os.Create(output)
	if err != nil {
		return err
	}

	sum, err := convert.ConvertModel(cmd.Context(), dir, f, opts)
	if opts.Progress != nil {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		f.Close()
		os.Remove(output)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	p := message.NewPrinter(language.English)
	p.Fprintf(cmd.OutOrStdout(), "wrote %s: %d tensors from %d modules in %s\n", output, sum.Tensors, sum.Modules, sum.Elapsed.Round(time.Millisecond))
	if opts.Lora != "" {
		p.Fprintf(cmd.OutOrStdout(), "merged %d lora weights\n", sum.Merged)
	}
	return nil
}

// defaultOutput - <dir>.gguf fuer Verzeichnisse, <name>.gguf fuer Modell-IDs
func defaultOutput(arg, dir string) string {
	if filepath.Clean(arg) == dir {
		return dir + ".gguf"
	}
	name, _, _ := strings.Cut(arg, "@")
	return filepath.Base(name) + ".gguf"
}
