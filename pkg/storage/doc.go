// Package storage provides persistence for scheduled items.
//
// This package includes:
//   - GormStorage: a GORM-based implementation of core.Store for SQLite and PostgreSQL
//   - Open / Dialector: DSN handling and connection pool configuration
//
// Claiming is a single conditional UPDATE, so any number of engines may
// share one database without double-dispatching an item.
//
// Most users should import the root package github.com/jdziat/simple-scheduled-mail
// which provides NewGormStorage() to create storage instances.
package storage
