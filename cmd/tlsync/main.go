package main

import (
	"flag"
	"log"

	"tlsync/config"
	"tlsync/server"
)

func main() {
	configPath := flag.String("config", "", "directory with config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	app := &server.App{}
	app.Initialize(cfg)
	if err := app.Run(); err != nil {
		log.Fatalf("server: %v", err)
	}
}
