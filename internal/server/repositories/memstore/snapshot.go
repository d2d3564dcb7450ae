package memstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/dmitrijs2005/feedkeeper/internal/filex"
	"github.com/dmitrijs2005/feedkeeper/internal/server/models"
	"github.com/klauspost/compress/gzip"
)

type snapshotData struct {
	Entries    []*models.EntryRecord    `json:"entries"`
	Aggregates []*models.AggregateEntry `json:"aggregates"`
	Sequences  map[string]int64         `json:"sequences"`
}

// Open returns a Store persisted to path as gzip-compressed JSON. An
// existing snapshot is loaded; every successful Write rewrites it.
func Open(path string, lockTimeout time.Duration) (*Store, error) {
	s := New(lockTimeout)
	s.snapshot = path

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	if err := s.load(f); err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) load(r io.Reader) error {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer zr.Close()

	var data snapshotData
	if err := json.NewDecoder(zr).Decode(&data); err != nil {
		return err
	}
	for _, rec := range data.Entries {
		s.setEntry(rec.Identity.Key(), rec)
	}
	for _, agg := range data.Aggregates {
		s.setAggregate(aggregateKey{agg.Join, agg.JoinKey}, agg)
	}
	for scope, v := range data.Sequences {
		s.sequences[scope] = v
	}
	return nil
}

func (s *Store) save() error {
	data := snapshotData{
		Entries:   make([]*models.EntryRecord, 0, len(s.entries)),
		Sequences: s.sequences,
	}
	for _, rec := range s.entries {
		data.Entries = append(data.Entries, rec)
	}
	for _, agg := range s.aggregates {
		data.Aggregates = append(data.Aggregates, agg)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(&data); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compress snapshot: %w", err)
	}
	if err := filex.WriteFileAtomic(s.snapshot, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}
