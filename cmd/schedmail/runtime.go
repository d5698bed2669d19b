package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/urfave/cli"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/simple-scheduled-mail/internal/config"
	"github.com/jdziat/simple-scheduled-mail/pkg/notify"
	"github.com/jdziat/simple-scheduled-mail/pkg/queue"
	"github.com/jdziat/simple-scheduled-mail/pkg/storage"
)

// session holds what every command needs.
type session struct {
	cfg         *config.Config
	logger      *slog.Logger
	db          *gorm.DB
	queue       *queue.Queue
	attachments *notify.Attachments
}

func setup(c *cli.Context) (*session, error) {
	cfg, err := config.Load(c.GlobalString("config"), c.GlobalString("env-file"))
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cfg.Log, c.App.ErrWriter)
	if err != nil {
		return nil, err
	}

	var pool []storage.PoolOption
	if cfg.Database.MaxOpenConns > 0 {
		pool = append(pool, storage.MaxOpenConns(cfg.Database.MaxOpenConns))
	}
	if cfg.Database.MaxIdleConns > 0 {
		pool = append(pool, storage.MaxIdleConns(cfg.Database.MaxIdleConns))
	}
	db, err := storage.Open(cfg.Database.DSN, logger.Silent, pool...)
	if err != nil {
		return nil, err
	}

	store := storage.NewGormStorage(db)
	if err := store.Migrate(context.Background()); err != nil {
		closeDB(db)
		return nil, fmt.Errorf("migrate: %w", err)
	}

	attachments := notify.NewAttachments(nil)
	q := queue.New(store)
	q.SetAttachmentResolver(attachments)

	return &session{cfg: cfg, logger: log, db: db, queue: q, attachments: attachments}, nil
}

func (e *session) Close() {
	closeDB(e.db)
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// newLogger builds a slog logger from the log config. A nil w means stderr.
func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	if w == nil {
		w = cli.ErrWriter
	}
	var level slog.Level
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("log format: unknown %q", cfg.Format)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
