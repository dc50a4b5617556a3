// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package keystore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteSource polls an externally-populated, read-only SQLite
// database of observed decryption keys (§6.2) and feeds newly-seen
// rows into a Keystore. The engine never writes to this database;
// some other out-of-scope tool owns ingestion.
type SQLiteSource struct {
	db  *sql.DB
	ks  *Keystore
	// high-water marks, one per polled table (§6.2: "tracking a
	// per-table high-water mark").
	textHWM  int64
	assetHWM int64
}

// OpenSQLiteSource opens path (a SQLite file) read-only and prepares
// it for polling into ks.
func OpenSQLiteSource(path string, ks *Keystore) (*SQLiteSource, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, fmt.Errorf("keystore: opening key database: %w", err)
	}
	return &SQLiteSource{db: db, ks: ks}, nil
}

func (s *SQLiteSource) Close() error {
	return s.db.Close()
}

// pollInterval is the ~1 Hz cadence §6.2 calls for.
const pollInterval = time.Second

// Run polls the database on pollInterval until ctx is cancelled. It
// is meant to be registered with a dgroup.Group as a named goroutine,
// mirroring how the teacher supervises its long-running workers.
func (s *SQLiteSource) Run(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if err := s.pollOnce(ctx); err != nil {
			dlog.Errorf(ctx, "keystore: poll failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunIn registers Run under name in grp.
func (s *SQLiteSource) RunIn(grp *dgroup.Group, name string) {
	grp.Go(name, s.Run)
}

func (s *SQLiteSource) pollOnce(ctx context.Context) error {
	if err := s.pollTexts(ctx); err != nil {
		return fmt.Errorf("Texts: %w", err)
	}
	if err := s.pollAssets(ctx); err != nil {
		return fmt.Errorf("Assets: %w", err)
	}
	return nil
}

func (s *SQLiteSource) pollTexts(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT rowid, TextID, Key, Time, Session, Map, ClientX, ClientY, ClientZ, ClientFacing
		 FROM Texts WHERE rowid > ? ORDER BY rowid`, s.textHWM)
	if err != nil {
		return err
	}
	defer rows.Close()

	var maxRowID = s.textHWM
	var n uint32
	for rows.Next() {
		var rowID int64
		var textID uint32
		var key uint64
		var unixTime int64
		var session, mapID uint32
		var x, y, z, facing float64
		if err := rows.Scan(&rowID, &textID, &key, &unixTime, &session, &mapID, &x, &y, &z, &facing); err != nil {
			return err
		}
		s.ks.AddTextKey(textID, TextKeyRecord{
			Key:                 key,
			Time:                time.Unix(unixTime, 0).UTC(),
			Session:             session,
			Map:                 mapID,
			Position:            [4]float32{float32(x), float32(y), float32(z), float32(facing)},
			InsertionOrderIndex: n,
		})
		n++
		if rowID > maxRowID {
			maxRowID = rowID
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	s.textHWM = maxRowID
	return nil
}

func (s *SQLiteSource) pollAssets(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT rowid, AssetType, AssetID, Key FROM Assets WHERE rowid > ? ORDER BY rowid`, s.assetHWM)
	if err != nil {
		return err
	}
	defer rows.Close()

	var maxRowID = s.assetHWM
	for rows.Next() {
		var rowID int64
		var kind, id uint32
		var key uint64
		if err := rows.Scan(&rowID, &kind, &id, &key); err != nil {
			return err
		}
		s.ks.AddAssetKey(kind, id, key)
		if rowID > maxRowID {
			maxRowID = rowID
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	s.assetHWM = maxRowID
	return nil
}
