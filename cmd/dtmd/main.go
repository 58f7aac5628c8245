// Command dtmd is the distributed transaction coordinator daemon described
// by spec.md: it assigns global transaction ids, emits snapshot-isolation
// triples, and tallies participant votes to an atomic commit/abort
// decision, over the framed TCP protocol in spec.md §6.
package main

import (
	"fmt"
	"os"

	"github.com/dtmd/dtmd/internal/config"
	"github.com/dtmd/dtmd/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "dtmd:", err)
		return 1
	}

	srv, err := server.New(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "dtmd: startup failed:", err)
		return 1
	}

	if err := srv.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "dtmd: fatal:", err)
		return 2
	}
	return 0
}
