package main

import (
	"os"

	"flpre/src/stages"
	"flpre/src/utils"
)

func main() {
	os.Exit(stages.RunCLI("decryptweights", "<cc> <privkey> <input_encfile> <output_file>", os.Args[1:], 4,
		func(args []string, logger utils.Logger) error {
			return stages.DecryptWeights(args[0], args[1], args[2], args[3], logger)
		}))
}
