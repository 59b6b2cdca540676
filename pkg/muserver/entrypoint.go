// The server component main package for muisto
package muserver

import (
	"log"
	"os"

	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/ossignal"
	"github.com/function61/gokit/stopper"
	"github.com/muisto-app/muisto/pkg/logtee"
	"github.com/spf13/cobra"
)

func Entrypoint() *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Starts the sync server",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			logTail := logtee.NewStringTail(50)

			// writes to upstream all end up in the sink, but logTail.Snapshot() only
			// returns the last "capacity" lines
			rootLogger := logex.StandardLoggerTo(logtee.NewLineSplitterTee(os.Stderr, func(line string) {
				logTail.Write(line)
			}))

			workers := stopper.NewManager()
			go func(logger *log.Logger) {
				logex.Levels(logger).Info.Printf(
					"Got %s; stopping",
					<-ossignal.InterruptOrTerminate())

				workers.StopAllWorkersAndWait()
			}(logex.Prefix("main", rootLogger))

			panicIfError(runServer(rootLogger, logTail, workers.Stopper()))
		},
	}
}

func panicIfError(err error) {
	if err != nil {
		panic(err)
	}
}
