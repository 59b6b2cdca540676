package muclient

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/function61/gokit/osutil"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func Entrypoints() []*cobra.Command {
	return []*cobra.Command{
		statusEntrypoint(),
		syncEntrypoint(),
		connectionEntrypoint(),
		queueEntrypoint(),
		configInitEntrypoint(),
		configPrintEntrypoint(),
	}
}

func statusEntrypoint() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Shows sync status",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			conf, err := ReadConfig()
			osutil.ExitIfError(err)

			status, err := fetchStatus(context.TODO(), conf)
			osutil.ExitIfError(err)

			fmt.Printf("status: %s (online=%v, queue depth %d)\n", status.Status, status.Online, status.QueueDepth)

			tbl := newTable([]string{"Connection", "Kind", "Default", "Connected", "Last sync", "Last error"})
			for _, conn := range status.Connections {
				tbl.Append([]string{
					conn.ID,
					string(conn.Kind),
					strconv.FormatBool(conn.Default),
					strconv.FormatBool(conn.Connected),
					formatTime(conn.LastSyncAt),
					conn.LastError,
				})
			}
			tbl.Render()

			if len(status.LogTail) > 0 {
				fmt.Println("\nrecent log:")
				for _, line := range status.LogTail {
					fmt.Println("  " + line)
				}
			}
		},
	}
}

func syncEntrypoint() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Asks the server to sync now",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			conf, err := ReadConfig()
			osutil.ExitIfError(err)

			osutil.ExitIfError(postNoBody(context.TODO(), conf, "/api/sync/now"))
		},
	}
}

func connectionEntrypoint() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connection",
		Short: "Connection management",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "ls",
		Short: "Lists configured connections",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			conf, err := ReadConfig()
			osutil.ExitIfError(err)

			connections, err := fetchConnections(context.TODO(), conf)
			osutil.ExitIfError(err)

			tbl := newTable([]string{"Id", "Kind", "Sync root", "Default", "Connected", "Last sync"})
			for _, conn := range connections {
				tbl.Append([]string{
					conn.ID,
					string(conn.Kind),
					conn.SyncRoot,
					strconv.FormatBool(conn.Default),
					strconv.FormatBool(conn.Connected),
					formatTime(conn.LastSyncAt),
				})
			}
			tbl.Render()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rm [id]",
		Short: "Removes a connection",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			conf, err := ReadConfig()
			osutil.ExitIfError(err)

			osutil.ExitIfError(del(context.TODO(), conf, "/api/connections/"+args[0]))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "default [id]",
		Short: "Makes a connection the default",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			conf, err := ReadConfig()
			osutil.ExitIfError(err)

			osutil.ExitIfError(postNoBody(context.TODO(), conf, "/api/connections/"+args[0]+"/default"))
		},
	})

	return cmd
}

func queueEntrypoint() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Sync queue inspection",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "ls",
		Short: "Lists queued sync items",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			conf, err := ReadConfig()
			osutil.ExitIfError(err)

			items, err := fetchQueue(context.TODO(), conf)
			osutil.ExitIfError(err)

			tbl := newTable([]string{"Id", "Record", "Action", "Path", "Status", "Retries", "Last error"})
			for _, item := range items {
				tbl.Append([]string{
					item.ID,
					item.RecordID,
					string(item.Action),
					item.RemotePath,
					string(item.Status),
					strconv.Itoa(item.RetryCount),
					item.LastError,
				})
			}
			tbl.Render()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "retry [id]",
		Short: "Retries a failed item",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			conf, err := ReadConfig()
			osutil.ExitIfError(err)

			osutil.ExitIfError(postNoBody(context.TODO(), conf, "/api/queue/"+args[0]+"/retry"))
		},
	})

	return cmd
}

func newTable(headers []string) *tablewriter.Table {
	tbl := tablewriter.NewWriter(os.Stdout)
	tbl.SetAutoFormatHeaders(false)
	tbl.SetHeader(headers)

	// pipe-friendly output when not talking to a human
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		tbl.SetBorder(false)
		tbl.SetColumnSeparator("\t")
	}

	return tbl
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	return t.Format(time.RFC3339)
}
