package relay

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/astromechza/groupmap/pkg/store/docstore"
)

// Init creates the table and loads every stored namespace into memory.
func (s *Server) Init(ctx context.Context) error {
	if _, err := s.database.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS stores (
		id text not null primary key,
		content text
		)`,
	); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	res, err := s.database.QueryContext(ctx, `SELECT id, content FROM stores`)
	if err != nil {
		return fmt.Errorf("failed to query: %w", err)
	}
	defer func(res *sql.Rows) {
		if err := res.Close(); err != nil {
			s.logger.Error("failed to close rows", "err", err)
		}
	}(res)
	for res.Next() {
		var storeId string
		var rawSave string
		if err := res.Scan(&storeId, &rawSave); err != nil {
			return fmt.Errorf("failed to scan: %w", err)
		}
		raw, err := base64.StdEncoding.DecodeString(rawSave)
		if err != nil {
			return fmt.Errorf("failed to decode %s: %w", storeId, err)
		}
		st, err := docstore.Load(raw, docstore.WithLogger(s.logger))
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", storeId, err)
		}
		s.cache.Store(storeId, st)
		s.logger.Info("restored store", "store", storeId)
	}
	return res.Err()
}

func (s *Server) insert(ctx context.Context, id string, content []byte) error {
	if _, err := s.database.ExecContext(ctx,
		`INSERT OR IGNORE INTO stores (id, content) VALUES (?, ?)`,
		id, base64.StdEncoding.EncodeToString(content),
	); err != nil {
		return fmt.Errorf("failed to insert store %s: %w", id, err)
	}
	return nil
}

// Backup writes every namespace whose document changed since the last backup.
func (s *Server) Backup(ctx context.Context) error {
	var firstErr error
	s.cache.Range(func(storeId, raw any) bool {
		st := raw.(*docstore.Store)
		newContent := base64.StdEncoding.EncodeToString(st.Save())
		res, err := s.database.ExecContext(ctx,
			`UPDATE stores SET content = ? WHERE id = ? AND content != ?`,
			newContent, storeId, newContent,
		)
		if err != nil {
			s.logger.Error("failed to backup doc in database", "store", storeId, "err", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to backup %s: %w", storeId, err)
			}
			return true
		}
		if r, _ := res.RowsAffected(); r > 0 {
			s.logger.Info("backed up", "store", storeId, "heads", st.Heads())
		}
		return true
	})
	return firstErr
}

// RunBackups calls Backup every interval until ctx is done.
func (s *Server) RunBackups(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = s.Backup(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Stores calls fn for every namespace.
func (s *Server) Stores(fn func(id string, st *docstore.Store)) {
	s.cache.Range(func(id, raw any) bool {
		fn(id.(string), raw.(*docstore.Store))
		return true
	})
}
