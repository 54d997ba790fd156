// Command changedomain re-encrypts an encrypted weight summary into the peer's domain.
package main

import (
	"os"

	"flpre/src/stages"
	"flpre/src/utils"
)

func main() {
	os.Exit(stages.RunCLI("changedomain", "<cc> <rekey> <input_encfile> <output_encfile>", os.Args[1:], 4,
		func(args []string, logger utils.Logger) error {
			return stages.ChangeDomain(args[0], args[1], args[2], args[3], logger)
		}))
}
