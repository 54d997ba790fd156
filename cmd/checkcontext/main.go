// Command checkcontext measures the precision of every engine operation under a CryptoContext.
package main

import (
	"os"

	"flpre/src/stages"
	"flpre/src/utils"
)

func main() {
	os.Exit(stages.RunCLI("checkcontext", "<cc>", os.Args[1:], 1,
		func(args []string, logger utils.Logger) error {
			prec, err := stages.CheckContext(args[0], 0, logger)
			if err != nil {
				return err
			}
			logger.PrintFormatted("Max error: encrypt %.3e, add %.3e, scalar multiply %.3e, re-encrypt %.3e",
				prec.Encrypt, prec.Add, prec.ScalarMultiply, prec.ReEncrypt)
			return nil
		}))
}
