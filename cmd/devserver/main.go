package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/eventverse/eventchat/internal/devserver"
)

// devserver emulates the chat backend contract locally: the paginated
// history endpoint, the REST send fallback, the presence count and the
// WebSocket gateway. It exists so the client can be exercised
// end-to-end without the production services.
func main() {
	messageLog := devserver.NewMessageLog()
	hub := devserver.NewHub(messageLog)
	go hub.Run()

	handler := devserver.NewHandler(hub, messageLog)

	// Set up router with middleware
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	// CORS configuration - reads from CORS_ORIGINS env var
	// Format: comma-separated list of origins
	corsOrigins := getCorsOrigins()
	log.Printf("CORS allowed origins: %v", corsOrigins)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", devserver.HealthCheck)

	// Backend contract
	r.Get("/chat/messages/paginated", handler.GetHistory)
	r.Post("/chat/send", handler.SendMessage)
	r.Get("/presence", handler.Presence)
	r.Get("/ws/chat", handler.ServeWS)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8086"
	}

	addr := fmt.Sprintf(":%s", port)
	log.Printf("eventchat dev server starting on %s", addr)
	log.Fatal(http.ListenAndServe(addr, r))
}

// getCorsOrigins returns allowed CORS origins from environment or defaults
func getCorsOrigins() []string {
	originsEnv := os.Getenv("CORS_ORIGINS")
	if originsEnv == "" {
		// Default to localhost for development
		return []string{"http://localhost:3000", "http://localhost:5173"}
	}

	origins := strings.Split(originsEnv, ",")
	for i, origin := range origins {
		origins[i] = strings.TrimSpace(origin)
	}
	return origins
}
