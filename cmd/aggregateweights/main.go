// Command aggregateweights averages two encrypted weight summaries of the same domain.
package main

import (
	"os"

	"flpre/src/stages"
	"flpre/src/utils"
)

func main() {
	os.Exit(stages.RunCLI("aggregateweights", "<cc> <native_encfile> <reencrypted_encfile> <output_aggfile>", os.Args[1:], 4,
		func(args []string, logger utils.Logger) error {
			return stages.AggregateWeights(args[0], args[1], args[2], args[3], logger)
		}))
}
