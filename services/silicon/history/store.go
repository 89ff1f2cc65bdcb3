// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history persists per-run attempt records in an embedded
// BadgerDB so runs can be audited after the fact.
//
// Keys are `run/<id>/attempt/<seq>` with zero-padded sequences, so a
// prefix scan over one run returns attempts in order.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianSilicon/services/silicon/agent"
)

// ErrRunNotFound is returned when a run has no persisted attempts.
var ErrRunNotFound = errors.New("run not found")

// AttemptRecord is the persisted summary of one attempt. It is a
// summary, not the full Attempt: source text stays in the workspace and
// full diagnosis tables are reproducible from the trace artifact.
type AttemptRecord struct {
	Sequence      int       `json:"sequence"`
	Passed        bool      `json:"passed"`
	ExitCode      int       `json:"exit_code"`
	TimedOut      bool      `json:"timed_out"`
	FailingCycles []uint64  `json:"failing_cycles,omitempty"`
	LogExcerpt    string    `json:"log_excerpt,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// logExcerptBytes caps how much build log is persisted per attempt.
const logExcerptBytes = 2048

// Config holds configuration for the audit store.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory
	// is true.
	Path string

	// InMemory enables in-memory mode. Useful for testing.
	InMemory bool

	// Logger receives BadgerDB's internal logging. If nil, BadgerDB
	// logging is disabled.
	Logger *slog.Logger
}

// Store is the BadgerDB-backed audit store.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens the audit store.
//
// Outputs:
//
//	*Store - The opened store. Caller must call Close() when done.
//	error - Non-nil if the database cannot be opened.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger.With(slog.String("component", "audit_store"))}, nil
}

// OpenInMemory opens an in-memory store for testing.
func OpenInMemory() (*Store, error) {
	return Open(Config{InMemory: true})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func attemptKey(runID string, seq int) []byte {
	return []byte(fmt.Sprintf("run/%s/attempt/%06d", runID, seq))
}

func runPrefix(runID string) []byte {
	return []byte(fmt.Sprintf("run/%s/attempt/", runID))
}

// Record implements agent.AttemptRecorder, summarizing the attempt and
// persisting it under the run's key prefix.
func (s *Store) Record(ctx context.Context, runID string, attempt agent.Attempt) error {
	rec := AttemptRecord{
		Sequence:  attempt.Sequence,
		Timestamp: attempt.Timestamp,
	}
	if attempt.Outcome != nil {
		rec.Passed = attempt.Outcome.Passed
		rec.ExitCode = attempt.Outcome.ExitCode
		rec.TimedOut = attempt.Outcome.TimedOut
		rec.LogExcerpt = tail(attempt.Outcome.Log, logExcerptBytes)
	}
	if attempt.Diagnosis != nil {
		rec.FailingCycles = attempt.Diagnosis.FailingCycles
	}
	return s.Append(ctx, runID, rec)
}

// Append persists one attempt record.
func (s *Store) Append(ctx context.Context, runID string, rec AttemptRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal attempt record: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(attemptKey(runID, rec.Sequence), payload)
	})
	if err != nil {
		return fmt.Errorf("persist attempt %d of run %s: %w", rec.Sequence, runID, err)
	}

	s.logger.Debug("Attempt record persisted",
		slog.String("run_id", runID),
		slog.Int("sequence", rec.Sequence),
	)
	return nil
}

// List returns a run's attempt records in sequence order.
//
// Outputs:
//
//	[]AttemptRecord - The records, ascending by sequence.
//	error - ErrRunNotFound if the run has no records.
func (s *Store) List(ctx context.Context, runID string) ([]AttemptRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	var records []AttemptRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		prefix := runPrefix(runID)
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec AttemptRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return fmt.Errorf("decode attempt record %s: %w", it.Item().Key(), err)
				}
				records = append(records, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return records, nil
}

// Runs returns the IDs of all persisted runs, sorted.
func (s *Store) Runs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	seen := make(map[string]bool)
	var runs []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte("run/")
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			rest := strings.TrimPrefix(key, "run/")
			id, _, ok := strings.Cut(rest, "/")
			if !ok || seen[id] {
				continue
			}
			seen[id] = true
			runs = append(runs, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// tail returns at most n trailing bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
