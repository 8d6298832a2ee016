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

	"github.com/joho/godotenv"

	"github.com/rufuslabs/rufus/backend/internal/config"
	"github.com/rufuslabs/rufus/backend/internal/handler"
	"github.com/rufuslabs/rufus/backend/internal/model/catalog"
	agentService "github.com/rufuslabs/rufus/backend/internal/service/agent"
	"github.com/rufuslabs/rufus/backend/internal/service/gateway"
	"github.com/rufuslabs/rufus/backend/internal/service/recommend"
	"github.com/rufuslabs/rufus/backend/internal/service/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// The catalog is the one piece of persisted state; refusing to start
	// without it beats serving recommendations from nothing.
	store, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		log.Fatalf("failed to load product catalog: %v", err)
	}
	log.Printf("loaded %d products from %s", store.Len(), cfg.Catalog.Path)

	sessions := session.NewStore(cfg.Session.MaxCount)
	matcher := recommend.NewMatcher(store, cfg.Agent.ResultLimit)

	// Initialize the capability gateway when model credentials exist.
	var gw agentService.Gateway
	if cfg.AI.Enabled() {
		chatModel, err := cfg.AI.NewChatModel(ctx)
		if err != nil {
			log.Printf("warning: failed to initialize chat model: %v", err)
			log.Println("continuing without conversational AI - check the Ark environment variables")
		} else {
			gwSvc, err := gateway.New(ctx, chatModel, gateway.Options{
				Timeout:       cfg.Agent.Timeout,
				MaxRetries:    cfg.Agent.MaxRetries,
				MaxImageBytes: cfg.Agent.MaxImageBytes,
			})
			if err != nil {
				log.Printf("warning: failed to initialize capability gateway: %v", err)
			} else {
				gw = gwSvc
				log.Println("capability gateway initialized successfully")
			}
		}
	} else {
		log.Println("model credentials not configured, chat and image description disabled")
	}

	agentSvc := agentService.NewService(sessions, matcher, gw)

	if cfg.Session.IdleTTL > 0 {
		go pruneSessions(ctx, sessions, cfg.Session.IdleTTL)
	}

	router := handler.NewRouter(agentSvc, store, cfg.Catalog.ImageDir)

	startServer(ctx, cfg.Server, router)
}

// pruneSessions applies the deployment's idle-eviction policy.
func pruneSessions(ctx context.Context, sessions *session.Store, ttl time.Duration) {
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := sessions.PruneIdle(ttl); evicted > 0 {
				log.Printf("evicted %d idle sessions", evicted)
			}
		}
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Rufus backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
