// Copyright 2025 Tusk Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/uploadkit/tusk/pkg/debug"
	"github.com/uploadkit/tusk/pkg/hooks"
	"github.com/uploadkit/tusk/pkg/locking"
	"github.com/uploadkit/tusk/pkg/logger"
	"github.com/uploadkit/tusk/pkg/storage/backend"
	"github.com/uploadkit/tusk/pkg/storage/index"
	"github.com/uploadkit/tusk/pkg/storage/store"
	"github.com/uploadkit/tusk/pkg/taskqueue"
	"github.com/uploadkit/tusk/pkg/tus"
	"github.com/uploadkit/tusk/pkg/types"
	"github.com/uploadkit/tusk/pkg/upload"

	"github.com/dustin/go-humanize"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ServeOpts holds all configuration for the upload server.
type ServeOpts struct {
	ListenAddr string
	DebugAddr  string
	BasePath   string

	StorageDir  string
	BackendKind string
	IndexKind   string

	LockerKind    string
	RedisAddr     string
	LockStaleness time.Duration

	MaxUploadSize    string
	ExpirationPeriod time.Duration
	CleanupInterval  time.Duration

	OwnerKeyHeader     string
	IDFactory          string
	DisabledExtensions []string

	HookURL       string
	HookTimeout   time.Duration
	HookWorkers   int
	HookQueueSize int
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the upload server",
	Long: `Start the tus upload server. Uploads are created with POST, appended
with PATCH, queried with HEAD and downloaded with GET once complete.`,
	Run: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()

	f.String("listen_addr", ":1080", "Address to bind the upload endpoint (host:port)")
	f.String("debug_addr", ":1090", "Address to bind the debug/metrics endpoint (host:port)")
	f.String("base_path", "/files", "URL path uploads live under")

	f.String("storage_dir", filepath.Join(os.TempDir(), "tusk"), "Directory for payloads, the record index and lock files")
	f.String("backend", "local", "Payload backend (local, memory)")
	f.String("index", "leveldb", "Upload record index (leveldb, memory)")

	f.String("locker", "memory", "Upload locker (memory, disk, redis)")
	f.String("redis_addr", "localhost:6379", "Redis address for the redis locker")
	f.Duration("lock_staleness", locking.DefaultStaleThreshold, "Age after which a disk lock is presumed abandoned")

	f.String("max_size", "0", "Maximum size of a single upload (e.g. 5GB, 0 = unlimited)")
	f.Duration("expiration_period", 0, "How long an inactive upload is kept (0 = forever)")
	f.Duration("cleanup_interval", 5*time.Minute, "How often stale locks and expired uploads are swept")

	f.String("owner_key_header", "", "Request header whose value partitions uploads per caller (empty = disabled)")
	f.String("id_factory", "uuid", "Upload id scheme (uuid, time)")
	f.StringSlice("disable_extensions", nil, "Protocol extensions to disable (creation, checksum, termination, expiration, concatenation, download)")

	f.String("hook_url", "", "Webhook endpoint for upload lifecycle events (empty = disabled)")
	f.Duration("hook_timeout", hooks.DefaultWebhookTimeout, "Timeout for one webhook delivery attempt")
	f.Int("hook_workers", taskqueue.DefaultConcurrency, "Concurrent webhook delivery workers")
	f.Int("hook_queue_size", 1024, "Pending hook event capacity before new events are dropped")

	viper.BindPFlags(f)
}

func loadServeOpts(cmd *cobra.Command) ServeOpts {
	f := NewFlagLoader(cmd)
	return ServeOpts{
		ListenAddr:         f.String("listen_addr"),
		DebugAddr:          f.String("debug_addr"),
		BasePath:           f.String("base_path"),
		StorageDir:         f.String("storage_dir"),
		BackendKind:        f.String("backend"),
		IndexKind:          f.String("index"),
		LockerKind:         f.String("locker"),
		RedisAddr:          f.String("redis_addr"),
		LockStaleness:      f.Duration("lock_staleness"),
		MaxUploadSize:      f.String("max_size"),
		ExpirationPeriod:   f.Duration("expiration_period"),
		CleanupInterval:    f.Duration("cleanup_interval"),
		OwnerKeyHeader:     f.String("owner_key_header"),
		IDFactory:          f.String("id_factory"),
		DisabledExtensions: f.StringSlice("disable_extensions"),
		HookURL:            f.String("hook_url"),
		HookTimeout:        f.Duration("hook_timeout"),
		HookWorkers:        f.Int("hook_workers"),
		HookQueueSize:      f.Int("hook_queue_size"),
	}
}

func runServe(cmd *cobra.Command, args []string) {
	opts := loadServeOpts(cmd)

	debug.SetNotReady()

	maxSize := int64(0)
	if opts.MaxUploadSize != "" && opts.MaxUploadSize != "0" {
		n, err := humanize.ParseBytes(opts.MaxUploadSize)
		if err != nil {
			logger.Fatal().Err(err).Str("max_size", opts.MaxUploadSize).Msg("invalid max_size")
		}
		maxSize = int64(n)
	}

	ids := newIDFactory(opts)
	st := newStore(opts, maxSize, ids)
	locker := newLocker(opts)
	emitter, hookWorker := newHooks(opts)

	svc, err := tus.NewService(tus.Config{
		Store:              st,
		Locker:             locker,
		IDs:                ids,
		Hooks:              emitter,
		BasePath:           opts.BasePath,
		DisabledExtensions: opts.DisabledExtensions,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create upload service")
	}

	logger.Info().
		Str("base_path", opts.BasePath).
		Str("backend", opts.BackendKind).
		Str("index", opts.IndexKind).
		Str("locker", opts.LockerKind).
		Int64("max_size", maxSize).
		Dur("expiration_period", opts.ExpirationPeriod).
		Msg("upload server configuration")

	mux := http.NewServeMux()
	handler := svc.Handler(opts.OwnerKeyHeader)
	mux.Handle(opts.BasePath, handler)
	mux.Handle(opts.BasePath+"/", handler)

	httpServer := startHTTPServer(mux, opts.ListenAddr)
	debugServer := startHTTPServer(debug.Handler(), opts.DebugAddr)

	cleanupCtx, stopCleanup := context.WithCancel(context.Background())
	go runCleanupLoop(cleanupCtx, svc, opts.CleanupInterval)
	if hookWorker != nil {
		hookWorker.Start(cleanupCtx)
	}

	debug.SetReady()

	waitForShutdown()

	debug.SetNotReady()
	stopCleanup()
	if hookWorker != nil {
		hookWorker.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	httpServer.Shutdown(shutdownCtx)
	debugServer.Shutdown(shutdownCtx)
}

func newStore(opts ServeOpts, maxSize int64, ids upload.IDFactory) *store.UploadStore {
	be, err := backend.New(types.BackendConfig{
		Type: types.StorageType(opts.BackendKind),
		Path: filepath.Join(opts.StorageDir, "data"),
	})
	if err != nil {
		logger.Fatal().Err(err).Str("backend", opts.BackendKind).Msg("failed to create payload backend")
	}

	var idx index.Indexer[types.UploadID, types.UploadInfo]
	switch opts.IndexKind {
	case "memory":
		idx = index.NewMemoryIndexer[types.UploadID, types.UploadInfo]()
	case "leveldb":
		idx, err = index.NewLevelDBIndexer[types.UploadID, types.UploadInfo](
			filepath.Join(opts.StorageDir, "index"),
			func(id types.UploadID) []byte { return []byte(id) },
			func(b []byte) (types.UploadID, error) { return types.UploadID(b), nil },
		)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open upload record index")
		}
	default:
		logger.Fatal().Str("index", opts.IndexKind).Msg("unknown index kind")
	}

	st, err := store.New(store.Config{
		Backend:          be,
		Index:            idx,
		IDs:              ids,
		MaxUploadSize:    maxSize,
		ExpirationPeriod: opts.ExpirationPeriod,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create upload store")
	}
	return st
}

func newLocker(opts ServeOpts) locking.Locker {
	switch opts.LockerKind {
	case "memory":
		return locking.NewMemoryLocker()
	case "disk":
		l, err := locking.NewDiskLocker(filepath.Join(opts.StorageDir, "locks"), opts.LockStaleness)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create disk locker")
		}
		return l
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: opts.RedisAddr})
		return locking.NewRedisLocker(client, locking.DefaultLeaseTTL)
	default:
		logger.Fatal().Str("locker", opts.LockerKind).Msg("unknown locker kind")
		return nil
	}
}

// newHooks builds the webhook delivery pipeline when hook_url is set.
// The returned worker is nil when hooks are disabled.
func newHooks(opts ServeOpts) (*hooks.Emitter, *taskqueue.Worker) {
	if opts.HookURL == "" {
		return hooks.NoopEmitter(), nil
	}

	queue := taskqueue.NewMemoryQueue(opts.HookQueueSize)
	worker := taskqueue.NewWorker(taskqueue.WorkerConfig{
		ID:          "hooks",
		Queue:       queue,
		Concurrency: opts.HookWorkers,
	})
	worker.RegisterHandler(hooks.NewWebhookHandler(opts.HookURL, opts.HookTimeout))

	emitter := hooks.NewEmitter(hooks.EmitterConfig{Queue: queue, Enabled: true})
	logger.Info().Str("hook_url", opts.HookURL).Int("workers", opts.HookWorkers).Msg("webhook delivery enabled")
	return emitter, worker
}

func newIDFactory(opts ServeOpts) upload.IDFactory {
	switch opts.IDFactory {
	case "time":
		return upload.NewTimeBasedFactory(opts.BasePath)
	default:
		return upload.NewUUIDFactory(opts.BasePath)
	}
}

func runCleanupLoop(ctx context.Context, svc *tus.Service, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := svc.Cleanup(ctx); err != nil {
				logger.Warn().Err(err).Msg("cleanup sweep failed")
			}
		}
	}
}

func startHTTPServer(handler http.Handler, addr string) *http.Server {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", addr).Msg("failed to create HTTP listener")
	}

	httpServer := &http.Server{Handler: handler}
	go func() {
		logger.Info().Str("http_addr", addr).Msg("Starting HTTP server")
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("failed to start HTTP server")
		}
	}()
	return httpServer
}

func waitForShutdown() {
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	<-stopChan
}
