package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/w-h-a/ragchat/embedder"
	googleembedder "github.com/w-h-a/ragchat/embedder/google"
	jinaembedder "github.com/w-h-a/ragchat/embedder/jina"
	openaiembedder "github.com/w-h-a/ragchat/embedder/openai"
	rssfeed "github.com/w-h-a/ragchat/feed/rss"
	"github.com/w-h-a/ragchat/generator"
	anthropicgenerator "github.com/w-h-a/ragchat/generator/anthropic"
	googlegenerator "github.com/w-h-a/ragchat/generator/google"
	openaigenerator "github.com/w-h-a/ragchat/generator/openai"
	"github.com/w-h-a/ragchat/internal/service/chat"
	"github.com/w-h-a/ragchat/internal/service/ingest"
	httpserver "github.com/w-h-a/ragchat/server/http"
	"github.com/w-h-a/ragchat/server/ws"
	"github.com/w-h-a/ragchat/sessionstore"
	redissessions "github.com/w-h-a/ragchat/sessionstore/redis"
	"github.com/w-h-a/ragchat/vectorstore"
	postgresstore "github.com/w-h-a/ragchat/vectorstore/postgres"
	qdrantstore "github.com/w-h-a/ragchat/vectorstore/qdrant"
)

var (
	cfg struct {
		// Server config
		Port        string `help:"Port to listen on" env:"PORT" default:"3000"`
		FrontendURL string `help:"Allowed origin for CORS and websocket upgrades" env:"FRONTEND_URL" default:"http://localhost:3000"`
		DevMode     bool   `help:"Expose error detail in HTTP responses" env:"DEV_MODE" default:"false"`

		// Session store config
		RedisURL string `help:"Redis connection string for session storage" env:"REDIS_URL" required:""`

		// Vector store config
		VectorStore string `help:"Vector store provider" env:"VECTOR_STORE" enum:"qdrant,postgres" default:"qdrant"`
		QdrantURL   string `help:"Qdrant endpoint" env:"QDRANT_URL" default:"http://localhost:6333"`
		QdrantKey   string `help:"Qdrant API key" env:"QDRANT_API_KEY" default:""`
		PostgresURL string `help:"Postgres connection string for the postgres vector store" env:"POSTGRES_URL" default:""`
		Collection  string `help:"Collection searched for chat context and filled by ingestion" env:"VECTOR_COLLECTION" default:"news_articles"`

		// Embedder config
		EmbedderProvider string `help:"Embedding provider" env:"EMBEDDER_PROVIDER" enum:"jina,openai,google" default:"jina"`
		EmbedderKey      string `help:"API key for the embedding service" env:"EMBEDDER_API_KEY,JINA_API_KEY" required:""`
		EmbedderModel    string `help:"Model identifier for the embedder" env:"EMBEDDER_MODEL" default:"jina-embeddings-v3"`

		// Generator config
		GeneratorProvider string `help:"Generative model provider" env:"GENERATOR_PROVIDER" enum:"google,openai,anthropic" default:"google"`
		GeneratorKey      string `help:"API key for the generative model service" env:"GENERATOR_API_KEY,GEMINI_API_KEY" required:""`
		GeneratorModel    string `help:"Model identifier for the generator" env:"GENERATOR_MODEL" default:"gemini-pro"`

		// Ingestion config
		FeedURL     string `help:"RSS feed to ingest" env:"NEWS_FEED_URL" default:"http://feeds.reuters.com/reuters/topNews"`
		MaxArticles int    `help:"Maximum articles per ingestion run" env:"MAX_ARTICLES" default:"50"`
		ChunkWindow int    `help:"Sentences per chunk" env:"CHUNK_WINDOW" default:"3"`

		// Retrieval config
		TopK int `help:"Number of context chunks retrieved per message" env:"TOP_K" default:"3"`
	}
)

func main() {
	_ = godotenv.Load()
	_ = kong.Parse(&cfg)

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	sessions := redissessions.NewStore(
		sessionstore.WithLocation(cfg.RedisURL),
	)

	store := newVectorStore()
	embed := newEmbedder()
	gen := newGenerator()

	chatService := chat.New(sessions, embed, store, gen, cfg.Collection, cfg.TopK)
	ingestService := ingest.New(rssfeed.NewReader(), embed, store, cfg.ChunkWindow)

	checks := map[string]httpserver.Check{
		"generator": func(ctx context.Context) error {
			if len(cfg.GeneratorKey) == 0 {
				return errors.New("generator api key not configured")
			}
			return nil
		},
	}
	if p, ok := sessions.(interface{ Ping(context.Context) error }); ok {
		checks["redis"] = p.Ping
	}
	if p, ok := store.(interface{ Ping(context.Context) error }); ok {
		checks[cfg.VectorStore] = p.Ping
	}

	handler := httpserver.NewHandler(httpserver.ServerConfig{
		Chat:          chatService,
		Ingest:        ingestService,
		FeedURL:       cfg.FeedURL,
		Collection:    cfg.Collection,
		MaxArticles:   cfg.MaxArticles,
		AllowedOrigin: cfg.FrontendURL,
		DevMode:       cfg.DevMode,
		Checks:        checks,
		WS:            ws.NewHandler(chatService, cfg.FrontendURL),
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
	}

	errCh := make(chan error, 1)

	go func() {
		slog.Info("server listening", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	case sig := <-stop:
		slog.Info("shutting down", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("shutdown failed", "error", err)
			os.Exit(1)
		}
	}
}

func newVectorStore() vectorstore.VectorStore {
	switch cfg.VectorStore {
	case "postgres":
		return postgresstore.NewStore(
			vectorstore.WithLocation(cfg.PostgresURL),
		)
	default:
		return qdrantstore.NewStore(
			vectorstore.WithLocation(cfg.QdrantURL),
			vectorstore.WithApiKey(cfg.QdrantKey),
		)
	}
}

func newEmbedder() embedder.Embedder {
	switch cfg.EmbedderProvider {
	case "openai":
		return openaiembedder.NewEmbedder(
			embedder.WithApiKey(cfg.EmbedderKey),
			embedder.WithModel(cfg.EmbedderModel),
		)
	case "google":
		return googleembedder.NewEmbedder(
			embedder.WithApiKey(cfg.EmbedderKey),
			embedder.WithModel(cfg.EmbedderModel),
		)
	default:
		return jinaembedder.NewEmbedder(
			embedder.WithApiKey(cfg.EmbedderKey),
			embedder.WithModel(cfg.EmbedderModel),
		)
	}
}

func newGenerator() generator.Generator {
	switch cfg.GeneratorProvider {
	case "openai":
		return openaigenerator.NewGenerator(
			generator.WithApiKey(cfg.GeneratorKey),
			generator.WithModel(cfg.GeneratorModel),
		)
	case "anthropic":
		return anthropicgenerator.NewGenerator(
			generator.WithApiKey(cfg.GeneratorKey),
			generator.WithModel(cfg.GeneratorModel),
		)
	default:
		return googlegenerator.NewGenerator(
			generator.WithApiKey(cfg.GeneratorKey),
			generator.WithModel(cfg.GeneratorModel),
		)
	}
}
