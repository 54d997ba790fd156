// Command runmserver runs the relay between the two parties.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"flpre"
	"flpre/configs"
	"flpre/src/exchange"
	"flpre/src/fhe"
	"flpre/src/utils"
)

func main() {
	root := flag.String("root", flpre.FindRootPath(), "base directory of relative paths")
	config := flag.String("config", configs.ServerConfigFile, "relay configuration")
	flag.Parse()

	logger := utils.NewLogger(utils.DEBUG)

	path := *config
	if !filepath.IsAbs(path) {
		path = filepath.Join(*root, path)
	}
	cfg, err := configs.LoadServerConfig(path, *root)
	if err != nil {
		logger.PrintError("[SERVER] %v", err)
		os.Exit(1)
	}

	if cc, err := fhe.LoadCryptoContext(cfg.CC.Path); err == nil {
		logger.PrintFormatted("[SERVER] CryptoContext %s", cc)
	} else {
		logger.PrintFormatted("[SERVER] No CryptoContext at %s yet", cfg.CC.Path)
	}

	server, err := exchange.NewServer(cfg, logger)
	if err != nil {
		logger.PrintError("[SERVER] %v", err)
		os.Exit(1)
	}
	logger.PrintFormatted("[SERVER] Storage root %s, metrics in %s", cfg.StorageRoot, cfg.MetricsPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err = server.ListenAndServe(ctx); err != nil {
		logger.PrintError("[SERVER] %v", err)
		os.Exit(1)
	}
}
