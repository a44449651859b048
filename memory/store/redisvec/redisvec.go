// Package redisvec implements memory.Store on Redis with the RediSearch
// vector module. Each memory is one hash keyed "{collection}:{id}"; an HNSW
// index over the embedding field answers KNN search. go-redis/v9 has no
// typed RediSearch command helpers, so every FT.* call goes through the raw
// Do() escape hatch and builds its own request/response shape by hand
// rather than depending on a module-specific client.
package redisvec

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/memnetlabs/memnet/memory"
)

// Store implements memory.Store on Redis + RediSearch.
type Store struct {
	client     *redis.Client
	collection string
	indexName  string
	vectorSize int
}

// Config configures the redisvec backend.
type Config struct {
	// Addr is the Redis server address, e.g. "localhost:6379".
	Addr string
	// Username and Password unlock the two halves of
	// VectorStoreConfig.ApiKey's "user:password" format.
	Username string
	Password string
	// DB selects the logical Redis database.
	DB int
	// Collection names the key prefix and search index.
	Collection string
}

// New connects to Redis and returns a redisvec-backed Store. It does not
// create the search index; call EnsureCollectionExists first.
func New(cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, memory.ConfigurationError("redisvec: Addr is required")
	}
	if cfg.Collection == "" {
		cfg.Collection = "memnet_collection"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &Store{
		client:     client,
		collection: cfg.Collection,
		indexName:  "idx:" + cfg.Collection,
	}, nil
}

// EnsureCollectionExists creates the HNSW-backed search index if missing. If
// it already exists with a different vector dimension, it is dropped and
// recreated when allowRecreation is true, or EnsureCollectionExists fails
// with a SchemaMismatchError otherwise.
func (s *Store) EnsureCollectionExists(ctx context.Context, vectorSize int, allowRecreation bool) error {
	declared, err := s.declaredDimension(ctx)
	if err != nil {
		return memory.BackendUnavailableError("redisvec", err)
	}

	if declared != 0 && declared != vectorSize {
		if !allowRecreation {
			return memory.SchemaMismatchError(s.collection, declared, vectorSize)
		}
		log.Printf("[STORE:redisvec] recreating index %s: %d -> %d", s.indexName, declared, vectorSize)
		if err := s.dropIndexAndKeys(ctx); err != nil {
			return memory.BackendUnavailableError("redisvec", err)
		}
	} else if declared == vectorSize {
		s.vectorSize = vectorSize
		return nil
	}

	args := []interface{}{
		"FT.CREATE", s.indexName,
		"ON", "HASH",
		"PREFIX", "1", s.collection + ":",
		"SCHEMA",
		"id", "TAG",
		"user_id", "TAG",
		"data", "TEXT",
		"metadata", "TEXT",
		"created_at", "NUMERIC",
		"updated_at", "NUMERIC",
		"embedding", "VECTOR", "HNSW", "6",
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(vectorSize),
		"DISTANCE_METRIC", "COSINE",
	}
	if err := s.client.Do(ctx, args...).Err(); err != nil {
		return memory.BackendUnavailableError("redisvec", err)
	}

	s.vectorSize = vectorSize
	return nil
}

func (s *Store) declaredDimension(ctx context.Context) (int, error) {
	info, err := s.client.Do(ctx, "FT.INFO", s.indexName).Result()
	if err != nil {
		if strings.Contains(err.Error(), "Unknown index name") || strings.Contains(err.Error(), "no such index") {
			return 0, nil
		}
		return 0, err
	}

	fields, ok := info.([]interface{})
	if !ok {
		return 0, nil
	}
	for i := 0; i+1 < len(fields); i++ {
		if key, ok := fields[i].(string); ok && key == "attributes" {
			return parseDimFromAttributes(fields[i+1])
		}
	}
	return 0, nil
}

func parseDimFromAttributes(v interface{}) (int, error) {
	attrs, ok := v.([]interface{})
	if !ok {
		return 0, nil
	}
	for _, attr := range attrs {
		fields, ok := attr.([]interface{})
		if !ok {
			continue
		}
		for i := 0; i+1 < len(fields); i++ {
			key, _ := fields[i].(string)
			if key != "DIM" {
				continue
			}
			switch dim := fields[i+1].(type) {
			case string:
				n, err := strconv.Atoi(dim)
				return n, err
			case int64:
				return int(dim), nil
			}
		}
	}
	return 0, nil
}

func (s *Store) dropIndexAndKeys(ctx context.Context) error {
	if err := s.client.Do(ctx, "FT.DROPINDEX", s.indexName).Err(); err != nil && !strings.Contains(err.Error(), "Unknown index name") {
		return err
	}

	var cursor uint64
	prefix := s.collection + ":*"
	for {
		keys, next, err := s.client.Scan(ctx, cursor, prefix, 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

func (s *Store) Describe(ctx context.Context) (memory.CollectionDescriptor, error) {
	return memory.CollectionDescriptor{
		Name:       s.collection,
		VectorSize: s.vectorSize,
		Distance:   memory.DistanceCosine,
	}, nil
}

func (s *Store) key(id string) string {
	return s.collection + ":" + id
}

func (s *Store) Insert(ctx context.Context, items []memory.MemoryItem) error {
	for _, item := range items {
		if len(item.Embedding) != s.vectorSize {
			return memory.ValidationError("embedding length does not match declared vector size")
		}

		metadataJSON, err := json.Marshal(item.Metadata)
		if err != nil {
			return memory.ValidationError("metadata is not JSON-serializable")
		}

		updatedAt := int64(0)
		if !item.UpdatedAt.IsZero() {
			updatedAt = item.UpdatedAt.UnixNano()
		}

		fields := map[string]interface{}{
			"id":         item.ID,
			"data":       item.Data,
			"user_id":    item.UserID,
			"hash":       item.Hash,
			"metadata":   string(metadataJSON),
			"created_at": item.CreatedAt.UnixNano(),
			"updated_at": updatedAt,
			"embedding":  encodeVector(item.Embedding),
		}
		if err := s.client.HSet(ctx, s.key(item.ID), fields).Err(); err != nil {
			return memory.BackendUnavailableError("redisvec", err)
		}
	}
	return nil
}

func (s *Store) Update(ctx context.Context, items []memory.MemoryItem) error {
	return s.Insert(ctx, items)
}

// Search issues exactly one KNN query over @embedding, restricted to userID
// via a TAG filter when userID is non-empty. The vector parameter is
// referenced once in the query text and once in PARAMS, never duplicated.
func (s *Store) Search(ctx context.Context, queryVec []float32, userID string, limit int) ([]memory.MemorySearchResult, error) {
	if limit <= 0 {
		limit = 100
	}

	filter := "*"
	if userID != "" {
		filter = fmt.Sprintf("@user_id:{%s}", escapeTag(userID))
	}
	query := fmt.Sprintf("(%s)=>[KNN %d @embedding $vec AS __embedding_score]", filter, limit)

	args := []interface{}{
		"FT.SEARCH", s.indexName, query,
		"PARAMS", "2", "vec", encodeVector(queryVec),
		"SORTBY", "__embedding_score",
		"LIMIT", "0", strconv.Itoa(limit),
		"DIALECT", "2",
	}

	reply, err := s.client.Do(ctx, args...).Result()
	if err != nil {
		return nil, memory.BackendUnavailableError("redisvec", err)
	}

	docs, err := parseSearchReply(reply)
	if err != nil {
		return nil, memory.BackendUnavailableError("redisvec", err)
	}

	results := make([]memory.MemorySearchResult, 0, len(docs))
	for _, doc := range docs {
		item := itemFromFields(strings.TrimPrefix(doc.id, s.collection+":"), doc.fields)
		distance, _ := strconv.ParseFloat(doc.fields["__embedding_score"], 64)
		results = append(results, memory.MemorySearchResult{Memory: item, Score: clampScore(1 - distance)})
	}
	return results, nil
}

func (s *Store) List(ctx context.Context, userID string, limit int) ([]memory.MemoryItem, error) {
	if limit <= 0 {
		limit = 100
	}

	filter := "*"
	if userID != "" {
		filter = fmt.Sprintf("@user_id:{%s}", escapeTag(userID))
	}
	args := []interface{}{
		"FT.SEARCH", s.indexName, filter,
		"SORTBY", "created_at", "DESC",
		"LIMIT", "0", strconv.Itoa(limit),
		"DIALECT", "2",
	}

	reply, err := s.client.Do(ctx, args...).Result()
	if err != nil {
		return nil, memory.BackendUnavailableError("redisvec", err)
	}

	docs, err := parseSearchReply(reply)
	if err != nil {
		return nil, memory.BackendUnavailableError("redisvec", err)
	}

	items := make([]memory.MemoryItem, 0, len(docs))
	for _, doc := range docs {
		items = append(items, itemFromFields(strings.TrimPrefix(doc.id, s.collection+":"), doc.fields))
	}
	return items, nil
}

func (s *Store) Get(ctx context.Context, id string) (memory.MemoryItem, bool, error) {
	values, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return memory.MemoryItem{}, false, memory.BackendUnavailableError("redisvec", err)
	}
	if len(values) == 0 {
		return memory.MemoryItem{}, false, nil
	}
	return itemFromFields(id, values), true, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return memory.BackendUnavailableError("redisvec", err)
	}
	return nil
}

func (s *Store) DeleteByUser(ctx context.Context, userID string) error {
	items, err := s.List(ctx, userID, 10000)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := s.Delete(ctx, item.ID); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

// encodeVector renders a float32 slice as little-endian bytes, the format
// declared for the embedding hash field's VECTOR FLOAT32 type.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

type searchDoc struct {
	id     string
	fields map[string]string
}

// parseSearchReply reads an FT.SEARCH reply of the form
// [total, id1, [field, value, ...], id2, [field, value, ...], ...].
func parseSearchReply(reply interface{}) ([]searchDoc, error) {
	items, ok := reply.([]interface{})
	if !ok || len(items) == 0 {
		return nil, nil
	}

	var docs []searchDoc
	for i := 1; i+1 < len(items); i += 2 {
		id, _ := items[i].(string)
		rawFields, ok := items[i+1].([]interface{})
		if !ok {
			continue
		}

		fields := make(map[string]string, len(rawFields)/2)
		for j := 0; j+1 < len(rawFields); j += 2 {
			k, _ := rawFields[j].(string)
			v, _ := rawFields[j+1].(string)
			fields[k] = v
		}
		docs = append(docs, searchDoc{id: id, fields: fields})
	}
	return docs, nil
}

func itemFromFields(id string, fields map[string]string) memory.MemoryItem {
	item := memory.MemoryItem{
		ID:     id,
		Data:   fields["data"],
		UserID: fields["user_id"],
		Hash:   fields["hash"],
	}
	if v, err := strconv.ParseInt(fields["created_at"], 10, 64); err == nil && v != 0 {
		item.CreatedAt = time.Unix(0, v).UTC()
	}
	if v, err := strconv.ParseInt(fields["updated_at"], 10, 64); err == nil && v != 0 {
		item.UpdatedAt = time.Unix(0, v).UTC()
	}
	if fields["metadata"] != "" {
		_ = json.Unmarshal([]byte(fields["metadata"]), &item.Metadata)
	}
	return item
}

// escapeTag escapes RediSearch TAG-field special characters so a userID
// containing them doesn't break query syntax.
func escapeTag(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case ',', '.', '<', '>', '{', '}', '[', ']', '"', '\'', ':', ';', '!',
			'@', '#', '$', '%', '^', '&', '*', '(', ')', '-', '+', '=', '~', ' ':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
