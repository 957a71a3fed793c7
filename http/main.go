package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/tnqbao/gau-lipsync-orchestrator/config"
	"github.com/tnqbao/gau-lipsync-orchestrator/http/controller"
	routes "github.com/tnqbao/gau-lipsync-orchestrator/http/route"
	infraPkg "github.com/tnqbao/gau-lipsync-orchestrator/infra"
	"github.com/tnqbao/gau-lipsync-orchestrator/pipeline"
	"github.com/tnqbao/gau-lipsync-orchestrator/repository"
)

func main() {
	err := godotenv.Load("staging.env")
	if err != nil {
		log.Println("No .env file found, continuing with environment variables")
	}

	cfg := config.NewConfig()
	if cfg.EnvConfig.Environment.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	infra := infraPkg.InitInfra(cfg)
	if err := repository.Migrate(infra.Postgres.DB); err != nil {
		log.Fatalf("Failed to migrate job ledger: %v", err)
	}
	repo := repository.InitRepository(infra.Postgres.DB)

	p, err := pipeline.NewPipeline(cfg.EnvConfig, infra, repo)
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	ctrl := controller.NewController(cfg, infra, repo, p)
	router := routes.SetupRouter(ctrl)

	server := &http.Server{
		Addr:              ":" + cfg.EnvConfig.HTTP.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("HTTP Server started on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down HTTP server...")
	// synchronous stage triggers may be mid-generation
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("HTTP server forced to shut down: %v", err)
	}
	if err := infra.Close(ctx); err != nil {
		log.Printf("Failed to close infrastructure: %v", err)
	}

	log.Println("HTTP server exited properly")
}
