// MODUL: weightpipe/main
// ZWECK: Einstiegspunkt fuer das weightpipe CLI
// HINWEISE: Konfiguration ueber Flags und WEIGHTPIPE_* Umgebungsvariablen

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/ollama/weightpipe/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := cmd.NewCLI().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
