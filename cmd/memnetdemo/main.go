// Command memnetdemo wires a memory.Service together from a Config and runs
// one add/search round trip against it. It demonstrates the constructor
// wiring the library itself deliberately stays silent on — Config describes
// the backend settings, not how a caller should pick concrete backends from
// it.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"

	"github.com/memnetlabs/memnet/memory"
	mockembed "github.com/memnetlabs/memnet/memory/embedder/mock"
	openaiembed "github.com/memnetlabs/memnet/memory/embedder/openai"
	"github.com/memnetlabs/memnet/memory/llm"
	"github.com/memnetlabs/memnet/memory/store/chromem"
	"github.com/memnetlabs/memnet/memory/store/inmemory"
	"github.com/memnetlabs/memnet/memory/store/pgvector"
	"github.com/memnetlabs/memnet/memory/store/redisvec"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a JSON config file with a top-level \"MemNet\" key")
		userID     = flag.String("user", "demo-user", "user id to add/search memories under")
		query      = flag.String("query", "what does the user like?", "search query to run after adding sample memories")
	)
	flag.Parse()

	cfg := memory.DefaultConfig
	if *configPath != "" {
		loaded, err := memory.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}
	applyEnvOverrides(cfg)

	ctx := context.Background()

	embedder, embedderName := buildEmbedder(cfg.Embedder)
	llmProvider, llmName := buildLLMProvider(cfg.LLM)
	store, storeName := buildStore(cfg.VectorStore)
	log.Printf("[MEMNET] backends: embedder=%s llm=%s store=%s", embedderName, llmName, storeName)

	svc, err := memory.NewService(store, embedder, llmProvider, cfg)
	if err != nil {
		log.Fatalf("new service: %v", err)
	}
	if err := svc.Initialize(ctx, true); err != nil {
		log.Fatalf("initialize: %v", err)
	}

	addResp, err := svc.Add(ctx, memory.AddMemoryRequest{
		UserID: *userID,
		Messages: []memory.Message{
			{Role: "user", Content: "I love hiking on weekends and I'm allergic to shellfish."},
			{Role: "assistant", Content: "Got it, I'll remember that."},
		},
	})
	if err != nil {
		log.Fatalf("add: %v", err)
	}
	for _, r := range addResp.Results {
		log.Printf("[MEMNET] %s: %s (%s)", r.Event, r.Memory, r.ID)
	}

	results, err := svc.Search(ctx, memory.SearchMemoryRequest{UserID: *userID, Query: *query, Limit: 5})
	if err != nil {
		log.Fatalf("search: %v", err)
	}
	for i, r := range results {
		log.Printf("[MEMNET] #%d (score=%.3f): %s", i+1, r.Score, r.Memory.Data)
	}
}

// applyEnvOverrides fills empty ApiKey/Endpoint fields from the environment.
// A value already set in the config file is kept; the environment only fills
// the gaps.
func applyEnvOverrides(cfg *memory.Config) {
	if cfg.LLM.ApiKey == "" {
		cfg.LLM.ApiKey = firstNonEmpty(os.Getenv("ANTHROPIC_API_KEY"), os.Getenv("OPENAI_API_KEY"))
	}
	if cfg.Embedder.ApiKey == "" {
		cfg.Embedder.ApiKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.VectorStore.Endpoint == "" {
		cfg.VectorStore.Endpoint = os.Getenv("MEMNET_STORE_ENDPOINT")
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func buildEmbedder(cfg memory.EmbedderConfig) (memory.Embedder, string) {
	if cfg.ApiKey != "" {
		return openaiembed.New(cfg.ApiKey, cfg.Model), "openai"
	}
	return mockembed.New(384), "mock"
}

func buildLLMProvider(cfg memory.LLMConfig) (memory.LLMProvider, string) {
	if os.Getenv("ANTHROPIC_API_KEY") != "" || strings.Contains(strings.ToLower(cfg.Model), "claude") {
		return llm.NewAnthropicProvider(cfg.ApiKey, cfg.Model), "anthropic"
	}
	return llm.NewOpenAIProvider(cfg.ApiKey, cfg.Model), "openai"
}

// buildStore dispatches on the endpoint: a postgres:// or postgresql:// URL
// selects pgvector, redis:// selects redisvec, the literal "chromem" selects
// chromem, and anything else (including empty) selects the in-memory store.
func buildStore(cfg memory.VectorStoreConfig) (memory.Store, string) {
	switch {
	case strings.HasPrefix(cfg.Endpoint, "postgres://"), strings.HasPrefix(cfg.Endpoint, "postgresql://"):
		store, err := pgvector.New(context.Background(), pgvector.Config{
			ConnString: cfg.Endpoint,
			Table:      cfg.CollectionName,
		})
		if err != nil {
			log.Fatalf("pgvector: %v", err)
		}
		return store, "pgvector"
	case strings.HasPrefix(cfg.Endpoint, "redis://"):
		username, password := "", cfg.ApiKey
		if u, p, ok := strings.Cut(cfg.ApiKey, ":"); ok {
			username, password = u, p
		}
		store, err := redisvec.New(redisvec.Config{
			Addr:       strings.TrimPrefix(cfg.Endpoint, "redis://"),
			Username:   username,
			Password:   password,
			Collection: cfg.CollectionName,
		})
		if err != nil {
			log.Fatalf("redisvec: %v", err)
		}
		return store, "redisvec"
	case cfg.Endpoint == "chromem":
		return chromem.New(cfg.CollectionName), "chromem"
	default:
		return inmemory.New(cfg.CollectionName), "inmemory"
	}
}
