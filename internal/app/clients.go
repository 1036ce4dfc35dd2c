package app

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/riverchat/kb-engine/internal/clients/pinecone"
	"github.com/riverchat/kb-engine/internal/pkg/logger"
)

// Constructor indirection so tests can substitute stub providers.
var (
	newPineconeClient      = pinecone.New
	newPineconeVectorStore = pinecone.NewVectorStore
)

// ClientKey identifies one provider client. Hashing the credentials keeps
// raw API keys out of map keys and log lines.
type ClientKey struct {
	Provider        string
	CredentialsHash string
	Index           string
}

// ClientRegistry owns provider clients for the engine instance, lazily
// creating one vector store per key. It replaces what would otherwise be a
// process-wide mutable map: the registry is constructor-injected and torn
// down with the engine. A race that builds two stores for the same key would
// be benign, but the mutex makes creation single-flight anyway.
type ClientRegistry struct {
	log *logger.Logger

	mu     sync.Mutex
	stores map[ClientKey]pinecone.VectorStore
}

func NewClientRegistry(log *logger.Logger) *ClientRegistry {
	return &ClientRegistry{
		log:    log.With("service", "ClientRegistry"),
		stores: make(map[ClientKey]pinecone.VectorStore),
	}
}

func CredentialsHash(apiKey string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(apiKey)))
	return hex.EncodeToString(sum[:8])
}

// VectorStore returns the store for the configured Pinecone index, creating
// it on first use.
func (r *ClientRegistry) VectorStore() (pinecone.VectorStore, error) {
	apiKey := strings.TrimSpace(os.Getenv("PINECONE_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing PINECONE_API_KEY")
	}
	indexName := strings.TrimSpace(os.Getenv("PINECONE_INDEX_NAME"))
	if indexName == "" {
		return nil, fmt.Errorf("missing PINECONE_INDEX_NAME")
	}

	key := ClientKey{
		Provider:        "pinecone",
		CredentialsHash: CredentialsHash(apiKey),
		Index:           indexName,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if store, ok := r.stores[key]; ok {
		return store, nil
	}

	pc, err := newPineconeClient(r.log, pinecone.Config{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("pinecone client init: %w", err)
	}
	store, err := newPineconeVectorStore(r.log, pc)
	if err != nil {
		return nil, fmt.Errorf("pinecone vector store init: %w", err)
	}

	r.stores[key] = store
	r.log.Info("Vector store client created",
		"provider", key.Provider,
		"index", key.Index,
		"credentials_hash", key.CredentialsHash,
	)
	return store, nil
}

// Close releases the registry. The underlying HTTP clients hold no
// connections that outlive their transports, so dropping the map suffices.
func (r *ClientRegistry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores = make(map[ClientKey]pinecone.VectorStore)
}
