// Command gencc generates the CryptoContext shared by both parties and the relay.
package main

import (
	"os"

	"flpre/src/stages"
	"flpre/src/utils"
)

func main() {
	os.Exit(stages.RunCLI("gencc", "<config_cc.json> <cc_out>", os.Args[1:], 2,
		func(args []string, logger utils.Logger) error {
			_, err := stages.GenerateContext(args[0], args[1], logger)
			return err
		}))
}
