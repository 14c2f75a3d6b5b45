// Command atlasmem-server runs the scoped memory store HTTP service.
//
// Startup sequence:
//  1. Load configuration from ATLASMEM_* environment variables.
//  2. Open the storage backend (sqlite, postgres, or chromem).
//  3. Apply a pending factory reset, if one was scheduled — this barrier
//     runs before the server accepts any request, with a snapshot taken
//     first for SQLite backends.
//  4. Build LLM clients, the profile service, and the engine.
//  5. Serve HTTP until interrupted.
package main

import (
	"context"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/echoatlas/atlasmem/internal/backup"
	"github.com/echoatlas/atlasmem/internal/config"
	"github.com/echoatlas/atlasmem/internal/engine"
	"github.com/echoatlas/atlasmem/internal/llm"
	"github.com/echoatlas/atlasmem/internal/profile"
	"github.com/echoatlas/atlasmem/internal/server"
	"github.com/echoatlas/atlasmem/internal/storage"
	"github.com/echoatlas/atlasmem/internal/storage/chromem"
	"github.com/echoatlas/atlasmem/internal/storage/postgres"
	"github.com/echoatlas/atlasmem/internal/storage/sqlite"
)

func main() {
	cfg := config.Load()

	store, dbPath, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open storage backend: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Startup barrier: a scheduled factory reset must be applied before the
	// first request is served. Marker errors are fatal — skipping a wipe
	// silently could leave stale data behind.
	resets := engine.NewResetManager(cfg.ResetMarkerPath())
	var beforeWipe func(context.Context) error
	if dbPath != "" {
		snapshots := backup.NewService(cfg.Backup.Path, cfg.Backup.Keep)
		beforeWipe = func(ctx context.Context) error {
			path, err := snapshots.Snapshot(ctx, dbPath)
			if err != nil {
				return err
			}
			log.Printf("Pre-reset snapshot written to %s", path)
			return nil
		}
	}
	if applied, n, err := resets.ApplyPending(ctx, store, beforeWipe); err != nil {
		log.Fatalf("Failed to apply pending factory reset: %v", err)
	} else if applied {
		log.Printf("Factory reset applied at startup (%d records removed)", n)
	}

	embedder, err := llm.NewEmbeddingGenerator(providerConfig(cfg))
	if err != nil {
		log.Printf("Warning: no embedding provider (%v); similarity recall disabled", err)
		embedder = nil
	}

	profiles, err := buildProfileService(cfg)
	if err != nil {
		log.Fatalf("Failed to build profile service: %v", err)
	}

	eng, err := engine.New(store, embedder, profiles, engine.Config{
		EmbedTimeout: cfg.LLM.Timeout,
	})
	if err != nil {
		log.Fatalf("Failed to build engine: %v", err)
	}

	srv := server.New(cfg.Server, eng, resets)
	addr, err := srv.Start(ctx)
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	log.Printf("atlasmem serving at http://%s (backend: %s)", addr, cfg.Storage.Engine)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")
	cancel()
	time.Sleep(1 * time.Second)
}

// openStore builds the configured backend. The second return is the SQLite
// database path when applicable, used for pre-reset snapshots.
func openStore(cfg *config.Config) (storage.InteractionStore, string, error) {
	switch cfg.Storage.Engine {
	case "postgres":
		store, err := postgres.New(cfg.Storage.PostgresDSN, cfg.Storage.EmbeddingDim)
		return store, "", err
	case "chromem":
		store, err := chromem.New()
		return store, "", err
	default:
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
			return nil, "", err
		}
		path := cfg.DatabasePath()
		store, err := sqlite.New(path)
		return store, path, err
	}
}

func providerConfig(cfg *config.Config) llm.ProviderConfig {
	return llm.ProviderConfig{
		Provider:       cfg.LLM.Provider,
		APIKey:         cfg.LLM.APIKey,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		BaseURL:        cfg.LLM.BaseURL,
		Timeout:        cfg.LLM.Timeout,
		Temperature:    cfg.LLM.Temperature,
	}
}

func buildProfileService(cfg *config.Config) (*profile.Service, error) {
	catalog := profile.EmptyCatalog()
	if cfg.Profile.CatalogPath != "" {
		var err error
		catalog, err = profile.LoadCatalog(cfg.Profile.CatalogPath)
		if err != nil {
			return nil, err
		}
		log.Printf("Loaded region catalog with %d regions", len(catalog.Regions()))
	}

	generator, err := llm.NewTextGenerator(providerConfig(cfg))
	if err != nil {
		log.Printf("Warning: no text generator (%v); profile generation uses fallbacks", err)
		generator = nil
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return profile.NewService(catalog, profile.NewGenerator(generator), cfg.Profile.CacheSize, rng)
}
