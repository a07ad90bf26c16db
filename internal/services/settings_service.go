package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"railexchange/railx/internal/config"
)

// ISettingsService defines the interface for runtime-tunable settings stored
// in Mongo and cached in memory. Instances keep their caches in sync through
// a Redis pub/sub channel.
type ISettingsService interface {
	Get(ctx context.Context, key string) (interface{}, error)
	GetInt(ctx context.Context, key string, defaultValue int) int
	GetString(ctx context.Context, key string, defaultValue string) string
	GetBool(ctx context.Context, key string, defaultValue bool) bool
	GetDuration(ctx context.Context, key string, defaultValue time.Duration) time.Duration
	GetAllPublic(ctx context.Context) (map[string]interface{}, error)
	Set(ctx context.Context, key string, value interface{}, isPublic bool) error
	Load(ctx context.Context) error
	SubscribeToChanges(ctx context.Context) error
}

const (
	settingsCollection     = "settings"
	settingsUpdateChannel  = "settings_updates"
	settingsReloadDeadline = 10 * time.Second
)

type settingsService struct {
	db    *mongo.Database
	cfg   *config.Config
	rdb   *redis.Client
	cache map[string]interface{}
	mutex sync.RWMutex
}

// NewSettingsService creates a new SettingsService, loads the cache from the
// DB and starts the pub/sub listener.
func NewSettingsService(database *mongo.Database, cfg *config.Config, rdb *redis.Client) ISettingsService {
	s := &settingsService{
		db:    database,
		cfg:   cfg,
		rdb:   rdb,
		cache: make(map[string]interface{}),
	}
	if err := s.Load(context.Background()); err != nil {
		log.Printf("WARNING: Failed to load settings from DB, using env defaults: %v", err)
	}
	go func() {
		if err := s.SubscribeToChanges(context.Background()); err != nil {
			log.Printf("Settings pub/sub listener stopped: %v", err)
		}
	}()
	return s
}

type settingEntry struct {
	Key    string      `bson:"key"`
	Value  interface{} `bson:"value"`
	Public bool        `bson:"public"`
}

// Load replaces the in-memory cache with the full settings collection.
func (s *settingsService) Load(ctx context.Context) error {
	cursor, err := s.db.Collection(settingsCollection).Find(ctx, bson.M{})
	if err != nil {
		return fmt.Errorf("failed to query settings collection: %w", err)
	}
	defer cursor.Close(ctx)

	newCache := make(map[string]interface{})
	for cursor.Next(ctx) {
		var entry settingEntry
		if err := cursor.Decode(&entry); err != nil {
			log.Printf("Warning: failed to decode setting entry: %v", err)
			continue
		}
		newCache[entry.Key] = entry.Value
	}
	if err := cursor.Err(); err != nil {
		return fmt.Errorf("error iterating settings cursor: %w", err)
	}

	s.mutex.Lock()
	s.cache = newCache
	s.mutex.Unlock()
	log.Printf("Loaded %d settings into cache", len(newCache))
	return nil
}

func (s *settingsService) Get(ctx context.Context, key string) (interface{}, error) {
	s.mutex.RLock()
	val, exists := s.cache[key]
	s.mutex.RUnlock()
	if !exists {
		return nil, fmt.Errorf("setting %q not found", key)
	}
	return val, nil
}

func (s *settingsService) GetString(ctx context.Context, key string, defaultValue string) string {
	val, err := s.Get(ctx, key)
	if err != nil {
		return defaultValue
	}
	if strVal, ok := val.(string); ok {
		return strVal
	}
	log.Printf("Warning: setting %q is not a string, using default", key)
	return defaultValue
}

func (s *settingsService) GetInt(ctx context.Context, key string, defaultValue int) int {
	val, err := s.Get(ctx, key)
	if err != nil {
		return defaultValue
	}
	// Mongo may hand back any numeric width after a round trip.
	switch v := val.(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		log.Printf("Warning: setting %q is not an integer (%T), using default", key, val)
		return defaultValue
	}
}

func (s *settingsService) GetBool(ctx context.Context, key string, defaultValue bool) bool {
	val, err := s.Get(ctx, key)
	if err != nil {
		return defaultValue
	}
	if boolVal, ok := val.(bool); ok {
		return boolVal
	}
	log.Printf("Warning: setting %q is not a boolean, using default", key)
	return defaultValue
}

// GetDuration reads a setting stored as integer seconds.
func (s *settingsService) GetDuration(ctx context.Context, key string, defaultValue time.Duration) time.Duration {
	seconds := s.GetInt(ctx, key, -1)
	if seconds < 0 {
		return defaultValue
	}
	return time.Duration(seconds) * time.Second
}

// GetAllPublic returns settings marked public, for the unauthenticated
// bootstrap endpoint.
func (s *settingsService) GetAllPublic(ctx context.Context) (map[string]interface{}, error) {
	cursor, err := s.db.Collection(settingsCollection).Find(ctx, bson.M{"public": true})
	if err != nil {
		return nil, fmt.Errorf("failed to query public settings: %w", err)
	}
	defer cursor.Close(ctx)

	public := map[string]interface{}{}
	for cursor.Next(ctx) {
		var entry settingEntry
		if err := cursor.Decode(&entry); err != nil {
			log.Printf("Warning: failed to decode public setting: %v", err)
			continue
		}
		public[entry.Key] = entry.Value
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error iterating public settings cursor: %w", err)
	}

	if _, exists := public["APP_NAME"]; !exists {
		public["APP_NAME"] = s.cfg.AppName
	}
	return public, nil
}

// Set upserts a setting and notifies other instances to reload.
func (s *settingsService) Set(ctx context.Context, key string, value interface{}, isPublic bool) error {
	opts := options.Update().SetUpsert(true)
	_, err := s.db.Collection(settingsCollection).UpdateOne(ctx,
		bson.M{"key": key},
		bson.M{"$set": bson.M{"key": key, "value": value, "public": isPublic}},
		opts)
	if err != nil {
		return fmt.Errorf("failed to upsert setting %q: %w", key, err)
	}

	s.mutex.Lock()
	s.cache[key] = value
	s.mutex.Unlock()

	if s.rdb != nil {
		if err := s.rdb.Publish(ctx, settingsUpdateChannel, key).Err(); err != nil {
			log.Printf("Warning: failed to publish settings update for %q: %v", key, err)
		}
	}
	return nil
}

// SubscribeToChanges reloads the cache whenever any instance publishes an
// update. Blocks until the subscription channel closes.
func (s *settingsService) SubscribeToChanges(ctx context.Context) error {
	if s.rdb == nil {
		log.Println("Redis client not configured, settings cache will not auto-reload")
		return nil
	}

	pubsub := s.rdb.Subscribe(ctx, settingsUpdateChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to confirm settings pub/sub subscription: %w", err)
	}

	for msg := range pubsub.Channel() {
		log.Printf("Settings update notification: %s", msg.Payload)
		reloadCtx, cancel := context.WithTimeout(context.Background(), settingsReloadDeadline)
		if err := s.Load(reloadCtx); err != nil {
			log.Printf("ERROR reloading settings after notification: %v", err)
		}
		cancel()
	}
	return nil
}
