package main

import (
	"context"
	"log"
	"os"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"techdesk_back/assist"
	"techdesk_back/knowledge"
)

func mustLoadEnv() {
	_ = godotenv.Load()
}

func corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowHeaders = append(cfg.AllowHeaders, "Authorization")
	if raw := strings.TrimSpace(os.Getenv("CORS_ALLOW_ORIGINS")); raw != "" {
		cfg.AllowOrigins = strings.Split(raw, ",")
	} else {
		cfg.AllowAllOrigins = true
	}
	return cfg
}

func main() {
	mustLoadEnv()

	db, err := knowledge.OpenDatabaseFromEnv()
	if err != nil {
		log.Fatalf("open database: %v", err)
	}

	r := gin.Default()
	r.Use(cors.New(corsConfig()))

	service, err := knowledge.RegisterRoutes(r, db)
	if err != nil {
		log.Fatalf("register knowledge routes: %v", err)
	}

	if _, err := assist.RegisterRoutes(r, db, service); err != nil {
		log.Fatalf("register assist routes: %v", err)
	}

	service.StartMonitor(context.Background())

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	if err := r.Run(":" + port); err != nil {
		log.Fatalf("start server: %v", err)
	}
}
