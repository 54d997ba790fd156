// Command rekeygen derives the re-encryption key from the owner's domain to the peer's.
package main

import (
	"os"

	"flpre/src/stages"
	"flpre/src/utils"
)

func main() {
	os.Exit(stages.RunCLI("rekeygen", "<cc> <owner_privkey> <peer_pubkey> <rekey_out>", os.Args[1:], 4,
		func(args []string, logger utils.Logger) error {
			return stages.GenerateTransformKey(args[0], args[1], args[2], args[3], logger)
		}))
}
