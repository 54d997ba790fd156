// Command exchange uploads an artifact to the relay or downloads one from it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"flpre/configs"
	"flpre/src/exchange"
	"flpre/src/utils"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: exchange [flags] upload <endpoint> <file> [type]")
	fmt.Fprintln(os.Stderr, "       exchange [flags] download <endpoint> <dest> [type]")
	flag.PrintDefaults()
}

func main() {
	configPath := flag.String("config", "", "client configuration (SERVER_URL, client_id, METRICS_PATH)")
	server := flag.String("server", "http://127.0.0.1:8080", "relay URL, when no configuration is given")
	clientID := flag.String("client", "client_1", "client id, when no configuration is given")
	metricsPath := flag.String("metrics", configs.ClientMetricsFile, "metrics log, when no configuration is given")
	timeout := flag.Duration("timeout", 10*time.Minute, "request timeout")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) < 3 || len(args) > 4 {
		usage()
		os.Exit(1)
	}
	kind := ""
	if len(args) == 4 {
		kind = args[3]
	}

	logger := utils.NewLogger(utils.DEBUG)
	cfg := configs.ClientConfig{ServerURL: *server, ClientID: *clientID, MetricsPath: *metricsPath}
	if *configPath != "" {
		wd, err := os.Getwd()
		if err != nil {
			logger.PrintError("%v", err)
			os.Exit(1)
		}
		if cfg, err = configs.LoadClientConfig(*configPath, wd); err != nil {
			logger.PrintError("%v", err)
			os.Exit(1)
		}
	}

	client, err := exchange.NewClient(cfg, nil, logger)
	if err != nil {
		logger.PrintError("%v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	switch args[0] {
	case "upload":
		err = client.Upload(ctx, args[1], args[2], kind)
	case "download":
		err = client.Download(ctx, args[1], args[2], kind)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		logger.PrintError("%v", err)
		os.Exit(1)
	}
}
