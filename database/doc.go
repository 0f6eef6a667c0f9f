// Package database provides connection management, configuration loading,
// schema setup and teardown, foreign key handling, query hooks and logging
// built on top of Bun.
package database
