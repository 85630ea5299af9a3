// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/dgraph-io/badger/v4"

	"github.com/jinterlante1206/proverbatch/services/strategy/codec"
	bstore "github.com/jinterlante1206/proverbatch/services/strategy/storage/badger"
)

// DirName is the name of the history store inside a data directory.
const DirName = "strat_history"

const tablePrefix = "freq/"

// record is the persisted form of one frequency table.
type record struct {
	// Seq is the key's position in first-observed order.
	Seq     int           `json:"seq"`
	Entries []recordEntry `json:"entries"`
}

type recordEntry struct {
	Kind      string          `json:"kind"`
	Literal   string          `json:"literal,omitempty"`
	Heuristic codec.Heuristic `json:"heuristic,omitempty"`
	Count     int             `json:"count"`
}

// Store loads and saves the history of one data directory.
//
// # Description
//
// Each Load and Save opens the badger store, does its work and closes it
// again, so no process keeps the store open between learning cycles.
//
// # Example
//
//	store := history.NewStore(dataDir, logger)
//	h, err := store.Load(ctx)
//	...
//	h.Merge(cfg)
//	err = store.Save(ctx, h)
type Store struct {
	dataDir string
	logger  *slog.Logger
}

// NewStore returns a store for dataDir. A nil logger uses slog.Default.
func NewStore(dataDir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dataDir: dataDir, logger: logger}
}

// Path returns the store directory.
func (s *Store) Path() string {
	return filepath.Join(s.dataDir, DirName)
}

// Load returns the persisted history, or an empty one if none exists.
func (s *Store) Load(ctx context.Context) (*History, error) {
	ok, err := bstore.Exists(s.Path())
	if err != nil {
		return nil, err
	}
	if !ok {
		return New(), nil
	}

	db, err := bstore.Open(s.config())
	if err != nil {
		return nil, err
	}
	defer s.close(db)

	return ReadFrom(ctx, db)
}

// Save replaces the persisted history with h.
func (s *Store) Save(ctx context.Context, h *History) error {
	db, err := bstore.Open(s.config())
	if err != nil {
		return err
	}
	defer s.close(db)

	return WriteTo(ctx, db, h)
}

// Reset deletes the persisted history.
func (s *Store) Reset() error {
	return bstore.Remove(s.Path())
}

func (s *Store) config() bstore.Config {
	cfg := bstore.DefaultConfig(s.Path())
	cfg.Logger = s.logger
	return cfg
}

func (s *Store) close(db *bstore.DB) {
	if err := db.Close(); err != nil {
		s.logger.Warn("closing history store", slog.String("path", s.Path()), slog.String("error", err.Error()))
	}
}

// ReadFrom decodes a history from an open store.
func ReadFrom(ctx context.Context, db *bstore.DB) (*History, error) {
	type keyed struct {
		key string
		rec record
	}
	var recs []keyed

	err := db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(tablePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(item.Key()[len(prefix):])
			var rec record
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode history table %q: %w", key, err)
			}
			recs = append(recs, keyed{key: key, rec: rec})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(recs, func(i, j int) bool { return recs[i].rec.Seq < recs[j].rec.Seq })

	h := New()
	for _, r := range recs {
		t := NewFrequencyTable()
		for _, e := range r.rec.Entries {
			v, err := decodeValue(e)
			if err != nil {
				return nil, fmt.Errorf("decode history table %q: %w", r.key, err)
			}
			t.Add(v, e.Count)
		}
		h.SetTable(r.key, t)
	}
	return h, nil
}

// WriteTo replaces the contents of db with h in a single transaction. Tables
// absent from h are deleted in that same transaction, so a failed write leaves
// the previous history intact.
func WriteTo(ctx context.Context, db *bstore.DB, h *History) error {
	keep := make(map[string]struct{}, h.Len())
	for _, key := range h.Keys() {
		keep[tablePrefix+key] = struct{}{}
	}

	return db.WithTxn(ctx, func(txn *badger.Txn) error {
		var stale [][]byte
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(tablePrefix)
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			if _, ok := keep[string(key)]; !ok {
				stale = append(stale, key)
			}
		}
		it.Close()

		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return fmt.Errorf("clear history table %q: %w", key, err)
			}
		}

		for seq, key := range h.Keys() {
			rec := record{Seq: seq}
			for _, e := range h.Table(key).Entries() {
				rec.Entries = append(rec.Entries, encodeValue(e))
			}
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("encode history table %q: %w", key, err)
			}
			if err := txn.Set([]byte(tablePrefix+key), data); err != nil {
				return fmt.Errorf("write history table %q: %w", key, err)
			}
		}
		return nil
	})
}

func encodeValue(e Entry) recordEntry {
	re := recordEntry{Kind: e.Value.Kind.String(), Count: e.Count}
	if e.Value.Kind == codec.KindHeuristic {
		re.Heuristic = e.Value.Heuristic
		if re.Heuristic == nil {
			re.Heuristic = codec.Heuristic{}
		}
	} else {
		re.Literal = e.Value.Literal()
	}
	return re
}

func decodeValue(e recordEntry) (codec.Value, error) {
	kind, err := codec.ParseKind(e.Kind)
	if err != nil {
		return codec.Value{}, err
	}
	switch kind {
	case codec.KindBool:
		b, err := strconv.ParseBool(e.Literal)
		if err != nil {
			return codec.Value{}, err
		}
		return codec.BoolValue(b), nil
	case codec.KindInt:
		i, err := strconv.ParseInt(e.Literal, 10, 64)
		if err != nil {
			return codec.Value{}, err
		}
		return codec.IntValue(i), nil
	case codec.KindFloat:
		f, err := strconv.ParseFloat(e.Literal, 64)
		if err != nil {
			return codec.Value{}, err
		}
		return codec.FloatValue(f), nil
	case codec.KindHeuristic:
		return codec.HeuristicValue(e.Heuristic), nil
	default:
		return codec.StringValue(e.Literal), nil
	}
}
