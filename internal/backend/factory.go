package backend

import (
	"context"
	"fmt"

	"lifesync/internal/amqp"
	"lifesync/internal/core"
	"lifesync/internal/log"
	"lifesync/internal/store/firestore"
	"lifesync/internal/store/memory"
	"lifesync/internal/store/sqlite"
	"lifesync/internal/worker"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentBackend),
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		return f.createSQLiteBackend(config)
	case FirestoreBackend:
		return f.createFirestoreBackend(ctx, config)
	case MemoryBackend:
		return f.createMemoryBackend()
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*BackendResult, error) {
	st, err := sqlite.New(config.SQLiteDBPath, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
	}

	result := &BackendResult{
		Store:  st,
		Worker: worker.NewChangeWorker(st, core.Collections, config.SyncInterval, f.logger),
	}

	// Initialize AMQP client (optional)
	var amqpClient *amqp.Client
	if config.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(config.AMQPURL, config.AMQPExchange, f.logger)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing with periodic refresh only", log.FieldError, err)
		} else {
			st.SetPublisher(amqpClient)
			result.Feed = amqpClient
			f.logger.Info("Initialized AMQP change feed", "exchange", config.AMQPExchange)
		}
	}

	result.Cleanup = func() error {
		if amqpClient != nil {
			amqpClient.Close()
		}
		return st.Close()
	}

	f.logger.Info("Initialized SQLite backend",
		"db_path", config.SQLiteDBPath,
		"amqp_enabled", amqpClient != nil)

	return result, nil
}

func (f *DefaultFactory) createFirestoreBackend(ctx context.Context, config Config) (*BackendResult, error) {
	st, err := firestore.New(ctx, firestore.Config{
		ProjectID:       config.FirestoreProjectID,
		CredentialsFile: config.FirestoreCredentialsFile,
	}, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firestore client: %w", err)
	}

	f.logger.Info("Initialized Firestore backend", "project_id", config.FirestoreProjectID)

	return &BackendResult{
		Store:   st,
		Cleanup: st.Close,
	}, nil
}

func (f *DefaultFactory) createMemoryBackend() (*BackendResult, error) {
	st := memory.New()

	f.logger.Info("Initialized memory backend")

	return &BackendResult{
		Store:   st,
		Cleanup: st.Close,
	}, nil
}
