// Package gorm implements the database connections on GORM. Dialects register
// themselves from the mysql, postgres and sqlite subpackages.
package gorm

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"gorm.io/gorm"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/config"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

const moduleName = "gorm"

// DialectorFactory generates a gorm.Dialector from a dbconfig.DatabaseConfig.
type DialectorFactory func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error)

var (
	dialectorRegistry = make(map[string]DialectorFactory)
	dialectorMutex    sync.RWMutex
)

// RegisterDialector registers a DialectorFactory for the given database type.
func RegisterDialector(dbType string, factory DialectorFactory) {
	dialectorMutex.Lock()
	defer dialectorMutex.Unlock()
	if _, exists := dialectorRegistry[dbType]; exists {
		logger.Warnf("Dialector for type '%s' already registered. Overwriting.", dbType)
	}
	dialectorRegistry[dbType] = factory
}

// GetDialectorFactory retrieves the DialectorFactory corresponding to the specified DB type.
func GetDialectorFactory(dbType string) (DialectorFactory, error) {
	dialectorMutex.RLock()
	defer dialectorMutex.RUnlock()
	factory, ok := dialectorRegistry[dbType]
	if !ok {
		return nil, fmt.Errorf("no dialector registered for database type: %s", dbType)
	}
	return factory, nil
}

// Provider opens and caches the connections named in the "database" section of the configuration.
type Provider struct {
	entries     map[string]interface{}
	connections map[string]*Connection
	mu          sync.Mutex
}

var _ database.DBProvider = (*Provider)(nil)

// NewProvider creates a Provider for the raw database entries, keyed by name.
func NewProvider(entries map[string]interface{}) *Provider {
	return &Provider{
		entries:     entries,
		connections: make(map[string]*Connection),
	}
}

// GetConnection retrieves an existing connection or establishes a new one.
func (p *Provider) GetConnection(name string) (database.DBConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.connections[name]; ok {
		return conn, nil
	}
	return p.createAndStoreConnection(name)
}

// Register stores an already opened connection under its name. It replaces any
// connection of the same name without closing it.
func (p *Provider) Register(conn *Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connections[conn.Name()] = conn
}

// createAndStoreConnection must be called with p.mu held.
func (p *Provider) createAndStoreConnection(name string) (*Connection, error) {
	raw, ok := p.entries[name]
	if !ok {
		return nil, exception.NewBatchErrorf(exception.KindConfiguration, moduleName, "database configuration '%s' not found", name)
	}
	dbConfig, err := dbconfig.Decode(raw)
	if err != nil {
		return nil, exception.NewBatchError(exception.KindConfiguration, moduleName, fmt.Sprintf("failed to decode database config for '%s'", name), err)
	}

	gormDB, err := Open(dbConfig)
	if err != nil {
		return nil, exception.NewBatchError(exception.KindRepository, moduleName, fmt.Sprintf("failed to open database '%s'", name), err)
	}

	conn := NewConnection(name, dbConfig, gormDB)
	p.connections[name] = conn
	logger.Infof("Established new DB connection: %s (%s)", name, dbConfig.Type)
	return conn, nil
}

// ForceReconnect closes an existing connection, if any, and opens it again.
func (p *Provider) ForceReconnect(name string) (database.DBConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.connections[name]; ok {
		if err := existing.Close(); err != nil {
			logger.Warnf("Failed to close existing connection '%s' before reconnect: %v", name, err)
		}
		delete(p.connections, name)
	}
	conn, err := p.createAndStoreConnection(name)
	if err != nil {
		return nil, err
	}
	logger.Infof("Re-established DB connection: %s", name)
	return conn, nil
}

// CloseAll closes all connections managed by this provider.
func (p *Provider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs *multierror.Error
	for name, conn := range p.connections {
		if err := conn.Close(); err != nil {
			logger.Errorf("Failed to close connection '%s': %v", name, err)
			errs = multierror.Append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(p.connections, name)
	}
	return errs.ErrorOrNil()
}

// Open establishes a GORM connection based on dbConfig and applies its pool settings.
func Open(dbConfig dbconfig.DatabaseConfig) (*gorm.DB, error) {
	dialectorFactory, err := GetDialectorFactory(dbConfig.Type)
	if err != nil {
		return nil, err
	}
	dialector, err := dialectorFactory(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create dialector for %s: %w", dbConfig.Type, err)
	}
	return OpenDialector(dialector, dbConfig)
}

// OpenDialector opens a GORM connection on an existing dialector.
func OpenDialector(dialector gorm.Dialector, dbConfig dbconfig.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 NewGormLogger(dbConfig.LogLevel),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open GORM connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if dbConfig.Pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(dbConfig.Pool.MaxOpenConns)
	}
	if dbConfig.Pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(dbConfig.Pool.MaxIdleConns)
	}
	if dbConfig.Pool.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(dbConfig.Pool.ConnMaxLifetimeMinutes) * time.Minute)
	}
	return db, nil
}
