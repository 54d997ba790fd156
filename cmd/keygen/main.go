// Command keygen generates the key pair of one party.
package main

import (
	"os"

	"flpre/src/stages"
	"flpre/src/utils"
)

func main() {
	os.Exit(stages.RunCLI("keygen", "<cc> <pubkey_out> <privkey_out>", os.Args[1:], 3,
		func(args []string, logger utils.Logger) error {
			return stages.GenerateKeys(args[0], args[1], args[2], logger)
		}))
}
