package main

import (
	"os"

	"github.com/function61/gokit/dynversion"
	"github.com/function61/gokit/osutil"
	"github.com/muisto-app/muisto/pkg/muclient"
	"github.com/muisto-app/muisto/pkg/muserver"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     os.Args[0],
		Short:   "muisto: local-first personal records, synced to your own cloud",
		Version: dynversion.Version,
	}

	// client commands sit at the root level for convenience, since they're the
	// ones used most often
	for _, entrypoint := range muclient.Entrypoints() {
		rootCmd.AddCommand(entrypoint)
	}

	rootCmd.AddCommand(muserver.Entrypoint())

	osutil.ExitIfError(rootCmd.Execute())
}
