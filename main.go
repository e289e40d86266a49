package main

import (
	"log"

	"github.com/narahir/RetroDiffusionApp/config"
	"github.com/narahir/RetroDiffusionApp/service"
)

func main() {
	cfg, err := config.InitConfig("./config/config.yaml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	generationService := service.NewService(cfg)

	if err := generationService.StartService(); err != nil {
		log.Fatalf("failed to start generation service: %v", err)
	}
}
