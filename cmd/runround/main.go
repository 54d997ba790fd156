// Command runround runs a full aggregation round between the two parties on one machine.
package main

import (
	"flag"
	"os"
	"time"

	"flpre"
	"flpre/src/stages"
	"flpre/src/utils"
)

func main() {
	root := flag.String("root", flpre.FindRootPath(), "directory holding the server/ and client/ storage")
	flag.Parse()

	logger := utils.NewLogger(utils.DEBUG)
	start := time.Now()
	if err := stages.RunRound(*root, logger); err != nil {
		logger.PrintError("runround: %v", err)
		os.Exit(1)
	}
	logger.PrintRunningTime("runround", start)
}
