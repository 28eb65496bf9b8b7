package main

import (
	"context"
	"flag"

	"cherry_chat/internal/config"
	"cherry_chat/internal/service/app"
	"cherry_chat/internal/utils/log"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to a yaml config file")
	gateway := flag.String("gateway", "", "gateway host:port (overrides config)")
	logFile := flag.String("log", "cherry-client.log", "log file, the terminal belongs to the UI")
	flag.Parse()

	v, err := config.New(*configPath)
	if err != nil {
		log.Fatal("load config failed", zap.Error(err))
	}
	if *gateway != "" {
		v.Set("gateway.addr", *gateway)
	}
	cfg, err := config.Load(v)
	if err != nil {
		log.Fatal("load config failed", zap.Error(err))
	}

	if err := log.ToFile(*logFile); err != nil {
		log.Fatal("open log file failed", zap.Error(err))
	}
	log.SetLevel(cfg.LogLevel)
	defer log.Sync()

	c := app.NewApp(app.NewGateway(cfg.Gateway))
	c.Run(context.Background())
}
