// Package engine connects schemas to a MongoDB deployment: collection
// management, typed collection handles with cascade semantics, sessions,
// file storage and operation metrics. The schema core stays pure; everything
// that talks to the store lives here.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/reoring/monsoon"
)

// EngineError reports a usage problem: bad configuration, an operation on a
// disconnected engine, or a document handed to the wrong collection.
type EngineError struct {
	Detail string
}

func (e *EngineError) Error() string { return e.Detail }

func engineErrorf(format string, args ...any) *EngineError {
	return &EngineError{Detail: fmt.Sprintf(format, args...)}
}

func errDisconnected() error {
	return engineErrorf("engine disconnected, call Connect(...) first")
}

// forbidChars are the characters MongoDB rejects in database names.
const forbidChars = "/\\.\"$"

// Engine owns the connection to one database and tracks which collections
// have been materialized.
type Engine struct {
	cfg     Config
	log     *zap.Logger
	monitor Monitor

	client *mongo.Client
	store  Store
	// ownsStore marks a store created by Connect, as opposed to one
	// injected through WithStore. Only an owned store is dropped on
	// Disconnect.
	ownsStore bool

	mu          sync.Mutex
	collections map[string]struct{}
	locks       map[string]*sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithMonitor sets the operation monitor. The default observes nothing.
func WithMonitor(m Monitor) Option {
	return func(e *Engine) { e.monitor = m }
}

// WithStore injects a document store, bypassing the MongoDB client. Connect
// then only warms the collection cache. Intended for tests.
func WithStore(s Store) Option {
	return func(e *Engine) { e.store = s }
}

// NewEngine validates the configuration and returns an unconnected engine.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if cfg.Database == "" {
		return nil, engineErrorf("database name is required")
	}
	var forbidden []string
	for _, c := range forbidChars {
		if strings.ContainsRune(cfg.Database, c) {
			forbidden = append(forbidden, string(c))
		}
	}
	if len(forbidden) > 0 {
		return nil, engineErrorf("database name cannot contain: %s", strings.Join(forbidden, " "))
	}
	e := &Engine{
		cfg:         cfg.withDefaults(),
		log:         zap.NewNop(),
		monitor:     nopMonitor{},
		collections: make(map[string]struct{}),
		locks:       make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Connect dials the deployment, pings a primary within the configured
// timeout and caches the database's collection names. With an injected
// store it only warms the cache.
func (e *Engine) Connect(ctx context.Context) error {
	if e.store == nil {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(e.cfg.URI))
		if err != nil {
			return fmt.Errorf("connect %s: %w", e.cfg.Database, err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.PingTimeout))
		err = client.Ping(pingCtx, readpref.Primary())
		cancel()
		if err != nil {
			_ = client.Disconnect(ctx)
			return fmt.Errorf("ping %s: %w", e.cfg.Database, err)
		}
		e.client = client
		e.store = &mongoStore{db: client.Database(e.cfg.Database)}
		e.ownsStore = true
	}
	names, err := e.store.ListCollectionNames(ctx)
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	e.mu.Lock()
	for _, name := range names {
		e.collections[name] = struct{}{}
	}
	e.mu.Unlock()
	e.log.Info("connected",
		zap.String("database", e.cfg.Database),
		zap.Int("collections", len(names)))
	return nil
}

// Disconnect closes the underlying client, if any.
func (e *Engine) Disconnect(ctx context.Context) error {
	if e.client == nil {
		return nil
	}
	err := e.client.Disconnect(ctx)
	e.client = nil
	if e.ownsStore {
		e.store = nil
		e.ownsStore = false
	}
	return err
}

// Database returns the configured database name.
func (e *Engine) Database() string { return e.cfg.Database }

func (e *Engine) ensureStore() (Store, error) {
	if e.store == nil {
		return nil, errDisconnected()
	}
	return e.store, nil
}

func (e *Engine) hasCollection(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.collections[name]
	return ok
}

func (e *Engine) markCollection(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.collections[name] = struct{}{}
}

// collectionLock returns the materialization lock for one collection name.
func (e *Engine) collectionLock(name string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[name] = lock
	}
	return lock
}

// EnsureCollection creates the schema's collection and indexes if they do
// not exist yet. Concurrent calls for the same collection are serialized; a
// collection created by another process in the meantime is treated as
// existing.
func (e *Engine) EnsureCollection(ctx context.Context, s *monsoon.Schema) error {
	if s.Embedded() {
		return engineErrorf("document %s is embedded and has no collection", s.Name())
	}
	name := s.Collection()
	if e.hasCollection(name) {
		return nil
	}
	lock := e.collectionLock(name)
	lock.Lock()
	defer lock.Unlock()
	if e.hasCollection(name) {
		return nil
	}
	store, err := e.ensureStore()
	if err != nil {
		return err
	}

	createOpts := options.CreateCollection()
	if capped := s.Capped(); capped != nil {
		createOpts.SetCapped(true).SetSizeInBytes(capped.SizeBytes)
		if capped.MaxDocuments > 0 {
			createOpts.SetMaxDocuments(capped.MaxDocuments)
		}
	}
	if ts := s.Timeseries(); ts != nil {
		tsOpts := options.TimeSeries().SetTimeField(ts.TimeField)
		if ts.MetaField != "" {
			tsOpts.SetMetaField(ts.MetaField)
		}
		if ts.Granularity != "" {
			tsOpts.SetGranularity(ts.Granularity)
		}
		createOpts.SetTimeSeriesOptions(tsOpts)
		if ts.ExpireAfter > 0 {
			createOpts.SetExpireAfterSeconds(int64(ts.ExpireAfter / time.Second))
		}
	}
	if err := store.CreateCollection(ctx, name, createOpts); err != nil {
		var cmdErr mongo.CommandError
		if !errors.As(err, &cmdErr) || cmdErr.Code != 48 { // NamespaceExists
			return fmt.Errorf("create collection %s: %w", name, err)
		}
	}

	models, err := s.Indexes()
	if err != nil {
		return err
	}
	if len(models) > 0 {
		if err := store.CreateIndexes(ctx, name, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", name, err)
		}
	}
	e.markCollection(name)
	e.log.Info("collection materialized",
		zap.String("collection", name),
		zap.Int("indexes", len(models)))
	return nil
}

// observe feeds the monitor and emits a debug line for one operation.
func (e *Engine) observe(op, collection string, start time.Time, err error) {
	elapsed := time.Since(start)
	e.monitor.Observe(op, collection, elapsed, err)
	if err != nil {
		e.log.Debug("operation failed",
			zap.String("op", op),
			zap.String("collection", collection),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return
	}
	e.log.Debug("operation done",
		zap.String("op", op),
		zap.String("collection", collection),
		zap.Duration("elapsed", elapsed))
}
