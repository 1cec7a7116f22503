package storage

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	storageconfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

const moduleName = "storage"

// Registry opens and caches the connections named in the "storage" section of the
// configuration, delegating to the Provider registered for each entry's type.
type Registry struct {
	entries     map[string]interface{}
	providers   map[string]Provider
	connections map[string]Connection
	mu          sync.Mutex
}

var _ Resolver = (*Registry)(nil)

// NewRegistry creates a Registry for the raw storage entries, keyed by name.
func NewRegistry(entries map[string]interface{}, providers ...Provider) *Registry {
	r := &Registry{
		entries:     entries,
		providers:   make(map[string]Provider, len(providers)),
		connections: make(map[string]Connection),
	}
	for _, p := range providers {
		r.providers[p.Type()] = p
	}
	return r
}

// GetConnection retrieves an existing connection or opens a new one.
func (r *Registry) GetConnection(name string) (Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.connections[name]; ok {
		return conn, nil
	}
	raw, ok := r.entries[name]
	if !ok {
		return nil, exception.NewBatchErrorf(exception.KindConfiguration, moduleName, "storage configuration '%s' not found", name)
	}
	cfg, err := storageconfig.Decode(raw)
	if err != nil {
		return nil, exception.NewBatchError(exception.KindConfiguration, moduleName, fmt.Sprintf("failed to decode storage config for '%s'", name), err)
	}
	p, ok := r.providers[cfg.Type]
	if !ok {
		return nil, exception.NewBatchErrorf(exception.KindConfiguration, moduleName, "no storage provider registered for type '%s' (entry '%s')", cfg.Type, name)
	}
	conn, err := p.Open(name, cfg)
	if err != nil {
		return nil, exception.NewBatchError(exception.KindItemStream, moduleName, fmt.Sprintf("failed to open storage '%s'", name), err)
	}
	r.connections[name] = conn
	logger.Infof("Opened storage connection: %s (%s)", name, cfg.Type)
	return conn, nil
}

// Register stores an already opened connection under its name.
func (r *Registry) Register(conn Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[conn.Name()] = conn
}

// CloseAll closes all connections opened by this registry.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs *multierror.Error
	for name, conn := range r.connections {
		if err := conn.Close(); err != nil {
			logger.Errorf("Failed to close storage connection '%s': %v", name, err)
			errs = multierror.Append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(r.connections, name)
	}
	return errs.ErrorOrNil()
}
