package main

import (
	"os"

	"flpre/src/stages"
	"flpre/src/utils"
)

func main() {
	os.Exit(stages.RunCLI("encryptweights", "<cc> <pubkey> <input_weights> <output_encfile>", os.Args[1:], 4,
		func(args []string, logger utils.Logger) error {
			return stages.EncryptWeights(args[0], args[1], args[2], args[3], logger)
		}))
}
