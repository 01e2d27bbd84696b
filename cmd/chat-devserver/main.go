package main

import (
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/piyusht2411/chatting-app/internal/devserver"
	"github.com/piyusht2411/chatting-app/internal/logger"
)

func main() {
	_ = godotenv.Load()
	logger.Init()

	addr := os.Getenv("CHATAPP_DEVSERVER_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	server := devserver.New()
	log.Printf("chat devserver listening on %s", addr)
	if err := http.ListenAndServe(addr, server.Handler()); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
