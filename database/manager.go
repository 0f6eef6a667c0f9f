/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/extra/bundebug"
)

type defaultDatabaseManager struct {
	config  *ConnectionConfig
	migrate DataMigrateConfig
	logger  Logger

	mu             sync.RWMutex
	db             *bun.DB
	sqlDB          *sql.DB
	guard          *AssignmentGuardHook
	connected      bool
	lastError      error
	reconnectTries int
	stopMonitor    context.CancelFunc
}

// NewDatabaseManager returns an AbstractDatabaseManager backed by Bun.
// A nil config falls back to DefaultConfig.
func NewDatabaseManager(cfg *Config) AbstractDatabaseManager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	conn := cfg.ConnectionConfig
	conn.withDefaults()
	return &defaultDatabaseManager{
		config:  &conn,
		migrate: cfg.DataMigrateConfig,
		logger:  GetLogger(),
	}
}

func (dm *defaultDatabaseManager) isSQLite() bool {
	typ, _ := canonicalType(dm.config.Type)
	return typ == "sqlite"
}

func (dm *defaultDatabaseManager) Connect(ctx context.Context) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.connected && dm.db != nil {
		return nil
	}

	sqlDB, db, err := openDatabase(dm.config)
	if err != nil {
		dm.lastError = err
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	dm.configurePool(sqlDB)

	pingCtx, cancel := context.WithTimeout(ctx, dm.config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		dm.lastError = err
		_ = db.Close()
		return fmt.Errorf("database connection test failed: %w", err)
	}
	if dm.isSQLite() {
		if _, err := db.ExecContext(pingCtx, "PRAGMA foreign_keys = ON"); err != nil {
			dm.lastError = err
			_ = db.Close()
			return fmt.Errorf("failed to enable sqlite foreign keys: %w", err)
		}
	}

	dm.installHooks(db)
	dm.db, dm.sqlDB = db, sqlDB
	dm.connected = true
	dm.lastError = nil
	dm.reconnectTries = 0
	if dm.config.HealthCheckInterval > 0 {
		dm.startMonitor()
	}

	dm.logger.Info("Database connected", "type", dm.config.Type, "dbname", dm.config.DBName)
	return nil
}

// installHooks adds the statement guard, env-driven bundebug output and the
// optional query and slow query logs.
func (dm *defaultDatabaseManager) installHooks(db *bun.DB) {
	dm.guard = NewAssignmentGuardHook(dm.logger)
	db.AddQueryHook(dm.guard)
	db.AddQueryHook(bundebug.NewQueryHook(
		bundebug.WithEnabled(false),
		bundebug.FromEnv("BUNDEBUG"),
	))
	if dm.config.EnableQueryLog {
		db.AddQueryHook(NewQueryHook(os.Stdout))
	}
	if dm.config.SlowQueryTime > 0 {
		db.AddQueryHook(NewSlowQueryHook(dm.config.SlowQueryTime, dm.logger))
	}
}

func (dm *defaultDatabaseManager) configurePool(sqlDB *sql.DB) {
	// One connection that is never recycled: pragmas and :memory: databases
	// live as long as the manager.
	if dm.isSQLite() {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
		sqlDB.SetConnMaxIdleTime(0)
		return
	}
	sqlDB.SetMaxIdleConns(dm.config.MaxIdleConns)
	sqlDB.SetMaxOpenConns(dm.config.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(dm.config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(dm.config.ConnMaxIdleTime)
}

func (dm *defaultDatabaseManager) Disconnect() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.disconnectLocked()
}

func (dm *defaultDatabaseManager) disconnectLocked() error {
	if dm.stopMonitor != nil {
		dm.stopMonitor()
		dm.stopMonitor = nil
	}
	if dm.db == nil {
		return nil
	}

	err := dm.db.Close()
	dm.db, dm.sqlDB = nil, nil
	dm.connected = false
	if err != nil {
		dm.logger.Error("Failed to close database connection", "error", err)
		return err
	}
	dm.logger.Info("Database connection closed")
	return nil
}

func (dm *defaultDatabaseManager) Reconnect(ctx context.Context) error {
	dm.logger.Info("Reconnecting to the database")
	if err := dm.Disconnect(); err != nil {
		dm.logger.Warn("Error closing the previous connection", "error", err)
	}
	return dm.Connect(ctx)
}

func (dm *defaultDatabaseManager) Ping(ctx context.Context) error {
	db := dm.GetDB()
	if db == nil {
		return fmt.Errorf("database not connected")
	}
	return db.PingContext(ctx)
}

func (dm *defaultDatabaseManager) GetDB() *bun.DB {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.db
}

func (dm *defaultDatabaseManager) GetSQLDB() *sql.DB {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.sqlDB
}

func (dm *defaultDatabaseManager) HealthCheck(ctx context.Context) *HealthStatus {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	start := time.Now()
	status := &HealthStatus{LastCheckTime: start, Connected: dm.connected}
	if dm.db == nil {
		status.LastError = "Database not initialized"
		if dm.lastError != nil {
			status.LastError = dm.lastError.Error()
		}
		return status
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := dm.db.PingContext(pingCtx)
	status.ResponseTime = time.Since(start)
	if err != nil {
		status.Connected = false
		status.LastError = err.Error()
	} else {
		status.Healthy = true
		status.Connected = true
	}
	dm.lastError = err

	stats := dm.sqlDB.Stats()
	status.ActiveConns = stats.InUse
	status.IdleConns = stats.Idle
	status.MaxOpenConns = stats.MaxOpenConnections
	return status
}

// startMonitor checks health every HealthCheckInterval and reconnects an
// unhealthy database when EnableReconnect is set. Callers hold dm.mu.
func (dm *defaultDatabaseManager) startMonitor() {
	ctx, cancel := context.WithCancel(context.Background())
	dm.stopMonitor = cancel
	go func() {
		ticker := time.NewTicker(dm.config.HealthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				checkCtx, cancelCheck := context.WithTimeout(ctx, 10*time.Second)
				status := dm.HealthCheck(checkCtx)
				cancelCheck()
				if !status.Healthy && dm.config.EnableReconnect {
					dm.tryReconnect(ctx)
				}
			}
		}
	}()
}

func (dm *defaultDatabaseManager) tryReconnect(ctx context.Context) {
	dm.mu.Lock()
	if dm.reconnectTries >= dm.config.MaxReconnectTries {
		dm.mu.Unlock()
		dm.logger.Error("Max reconnect attempts reached", "tries", dm.config.MaxReconnectTries)
		return
	}
	dm.reconnectTries++
	try := dm.reconnectTries
	dm.mu.Unlock()

	select {
	case <-ctx.Done():
		return
	case <-time.After(dm.config.ReconnectInterval):
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), dm.config.ConnectTimeout)
	defer cancel()
	if err := dm.Reconnect(connectCtx); err != nil {
		dm.logger.Error("Reconnect failed", "error", err, "try", try)
		return
	}
	dm.logger.Info("Reconnect succeeded", "try", try)
}

func (dm *defaultDatabaseManager) GetStats() *DBStats {
	dm.mu.RLock()
	sqlDB, guard := dm.sqlDB, dm.guard
	dm.mu.RUnlock()

	out := &DBStats{}
	if guard != nil {
		out.UpdatesInspected = guard.Inspected()
		out.DuplicateAssignments = guard.Duplicates()
	}
	if sqlDB == nil {
		return out
	}
	stats := sqlDB.Stats()
	out.MaxOpenConns = stats.MaxOpenConnections
	out.OpenConns = stats.OpenConnections
	out.InUse = stats.InUse
	out.Idle = stats.Idle
	out.WaitCount = stats.WaitCount
	out.WaitDuration = stats.WaitDuration
	out.MaxIdleClosed = stats.MaxIdleClosed
	out.MaxLifetimeClosed = stats.MaxLifetimeClosed
	return out
}

func (dm *defaultDatabaseManager) migrations() (*MigrationManager, error) {
	db := dm.GetDB()
	if db == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	return NewMigrationManager(db, dm.logger, dm.migrate), nil
}

func (dm *defaultDatabaseManager) RunMigrations(ctx context.Context) error {
	mm, err := dm.migrations()
	if err != nil {
		return err
	}
	return mm.RunMigrations(ctx)
}

func (dm *defaultDatabaseManager) DropSchema(ctx context.Context) error {
	mm, err := dm.migrations()
	if err != nil {
		return err
	}
	return mm.DropSchema(ctx)
}

func (dm *defaultDatabaseManager) SetLogger(logger Logger) {
	if logger == nil {
		return
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.logger = logger
}
