// cmd_manifest.go - manifest und inspect Commands
// Hauptfunktionen: ManifestHandler, InspectHandler, manifestRows
package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/ollama/weightpipe/convert"
	"github.com/ollama/weightpipe/fs/gguf"
	"github.com/ollama/weightpipe/huggingface"
	"github.com/ollama/weightpipe/weights"
)

// newTable - Tabelle im Stil von ollama list
func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

// ManifestHandler - Zeigt das Manifest fuer den globalen Scope und Layer 0
func ManifestHandler(cmd *cobra.Command, args []string) error {
	showRefs, err := cmd.Flags().GetBool("refs")
	if err != nil {
		return err
	}

	dir, err := huggingface.ResolveDir(args[0])
	if err != nil {
		return err
	}

	conv, err := convert.LoadModelMetadata(os.DirFS(dir))
	if err != nil {
		return err
	}

	info, err := convert.Manifest(conv, convert.DefaultOptions())
	if err != nil {
		return err
	}

	var data [][]string
	if err := info.Walk(func(scope weights.Scope, m weights.WeightModule) error {
		if scope.Layer > 0 {
			return nil
		}
		rows, err := manifestRows(scope, m, "", showRefs)
		if err != nil {
			return err
		}
		data = append(data, rows...)
		return nil
	}); err != nil {
		return err
	}

	table := newTable(cmd.OutOrStdout(), "SCOPE", "WEIGHT", "KIND", "TRANSFORM", "REFS")
	table.AppendBulk(data)
	table.Render()

	kv := conv.KV()
	p := message.NewPrinter(language.English)
	p.Fprintf(cmd.OutOrStdout(), "\n%s, %d layers, %d heads (%d kv), %d experts, %d modules, quantization %s\n",
		kv.Architecture(), kv.BlockCount(), kv.HeadCount(), kv.HeadCountKV(), kv.ExpertCount(), info.Count(), conv.Quantization())
	return nil
}

// manifestRows - eine Zeile pro Blatt; Gruppen werden eingerueckt
func manifestRows(scope weights.Scope, m weights.WeightModule, indent string, showRefs bool) ([][]string, error) {
	switch m := m.(type) {
	case *weights.AtomicWeight:
		refs := strconv.Itoa(len(m.Refs()))
		if showRefs {
			names, err := m.ResolvedNames(scope)
			if err != nil {
				return nil, err
			}
			refs = strings.Join(names, ", ")
		}

		kind := "atomic"
		if m.SupportsLora() {
			kind += "+lora"
		}
		return [][]string{{scope.String(), indent + m.Name().String(), kind, m.Merge().String(), refs}}, nil

	case *weights.GroupWiseWeight:
		rows := [][]string{{scope.String(), indent + m.Name().String(), "groupwise " + fmt.Sprint(m.Algo()), "", ""}}
		for _, sub := range m.Modules() {
			subRows, err := manifestRows(scope, sub, indent+"  ", showRefs)
			if err != nil {
				return nil, err
			}
			rows = append(rows, subRows...)
		}
		return rows, nil

	case *weights.CompositeWeight:
		rows := [][]string{{scope.String(), indent + m.Name().String(), "group", "", strconv.Itoa(m.Len())}}
		for _, sub := range m.Modules() {
			subRows, err := manifestRows(scope, sub, indent+"  ", showRefs)
			if err != nil {
				return nil, err
			}
			rows = append(rows, subRows...)
		}
		return rows, nil

	default:
		return nil, fmt.Errorf("unknown weight module %T", m)
	}
}

// InspectHandler - Zeigt KV-Metadaten und Tensoren einer GGUF-Datei
func InspectHandler(cmd *cobra.Command, args []string) error {
	f, err := gguf.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	w := cmd.OutOrStdout()
	kvs := newTable(w, "KEY", "VALUE")
	for _, kv := range f.KeyValues() {
		kvs.Append([]string{kv.Key, fmt.Sprintf("%v", kv.Any())})
	}
	kvs.Render()
	fmt.Fprintln(w)

	var total int64
	ts := newTable(w, "NAME", "TYPE", "SHAPE", "BYTES")
	for _, t := range f.TensorInfos() {
		ts.Append([]string{t.Name, t.Type.String(), fmt.Sprint(t.Dims()), strconv.FormatInt(t.NumBytes(), 10)})
		total += t.NumBytes()
	}
	ts.Render()

	p := message.NewPrinter(language.English)
	p.Fprintf(w, "\n%d tensors, %d bytes\n", f.NumTensors(), total)
	return nil
}
