package main

import (
	"os"

	"flpre/src/stages"
	"flpre/src/utils"
)

func main() {
	os.Exit(stages.RunCLI("summarizeweights", "<raw_tensors.json> <output_weights>", os.Args[1:], 2,
		func(args []string, logger utils.Logger) error {
			return stages.SummarizeWeights(args[0], args[1], logger)
		}))
}
