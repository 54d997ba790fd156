// Command analyzemetrics summarizes and cross-checks the client and relay metrics logs.
package main

import (
	"os"

	"flpre/src/metrics"
	"flpre/src/stages"
	"flpre/src/utils"
)

func main() {
	os.Exit(stages.RunCLI("analyzemetrics", "<client_metrics.csv> <server_metrics.csv>", os.Args[1:], 2,
		func(args []string, logger utils.Logger) error {
			client, err := metrics.ReadLog(args[0])
			if err != nil {
				return err
			}
			server, err := metrics.ReadLog(args[1])
			if err != nil {
				return err
			}
			logger.PrintFormatted("Loaded %d client rows and %d server rows", len(client), len(server))
			metrics.WriteReport(os.Stdout, client, server)
			return nil
		}))
}
