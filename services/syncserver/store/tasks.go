// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianSync/pkg/datatypes"
)

// ErrNotFound is returned when no task has the requested ID.
var ErrNotFound = errors.New("task not found")

const (
	taskPrefix  = "task/"
	sequenceKey = "seq/task"
)

// TaskStore is the persistent task collection.
//
// # Description
//
// Mutations are serialized. Each returns the task exactly as committed so
// the caller can announce it. UpdatedAt strictly increases across the
// mutations of one task, even if the wall clock steps backwards.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type TaskStore interface {
	// Create inserts a new task. An empty status becomes pending.
	Create(ctx context.Context, in datatypes.TaskInput) (datatypes.Task, error)

	// Get returns one task or ErrNotFound.
	Get(ctx context.Context, id int64) (datatypes.Task, error)

	// List returns every task ordered by ID.
	List(ctx context.Context) ([]datatypes.Task, error)

	// Update replaces title and description, and status when non-empty.
	// Returns ErrNotFound for an unknown ID.
	Update(ctx context.Context, id int64, in datatypes.TaskInput) (datatypes.Task, error)

	// SetStatus changes only the status. Returns ErrNotFound for an unknown ID.
	SetStatus(ctx context.Context, id int64, status datatypes.Status) (datatypes.Task, error)

	// Delete removes a task. The bool reports whether a row was removed.
	Delete(ctx context.Context, id int64) (bool, error)

	// Close releases the database.
	Close() error
}

// badgerTaskStore implements TaskStore on BadgerDB.
type badgerTaskStore struct {
	db  *badger.DB
	seq *badger.Sequence
	gc  *gcRunner
	now func() time.Time

	// writeMu serializes read-modify-write cycles so UpdatedAt and IDs are
	// assigned in commit order.
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// Open opens a TaskStore backed by BadgerDB.
//
// # Description
//
// Opens the database, leases the task ID sequence and, for persistent
// databases with GCInterval > 0, starts value log GC.
//
// # Inputs
//
//   - cfg: Database configuration.
//
// # Outputs
//
//   - TaskStore: Ready for use. Caller must Close it.
//   - error: Non-nil if the database or sequence cannot be opened.
func Open(cfg Config) (TaskStore, error) {
	return open(cfg, time.Now)
}

func open(cfg Config, now func() time.Time) (*badgerTaskStore, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	bandwidth := cfg.SequenceBandwidth
	if bandwidth == 0 {
		bandwidth = 100
	}
	seq, err := db.GetSequence([]byte(sequenceKey), bandwidth)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open task id sequence: %w", err)
	}

	s := &badgerTaskStore{db: db, seq: seq, now: now}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		if err != nil {
			_ = seq.Release()
			db.Close()
			return nil, fmt.Errorf("create GC runner: %w", err)
		}
		s.gc = runner
		runner.start()
	}

	return s, nil
}

func taskKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", taskPrefix, id))
}

func (s *badgerTaskStore) Create(ctx context.Context, in datatypes.TaskInput) (datatypes.Task, error) {
	if err := ctx.Err(); err != nil {
		return datatypes.Task{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	n, err := s.seq.Next()
	if err != nil {
		return datatypes.Task{}, fmt.Errorf("allocate task id: %w", err)
	}

	status := in.Status
	if status == "" {
		status = datatypes.StatusPending
	}
	now := s.now().UTC()
	task := datatypes.Task{
		ID:          int64(n) + 1,
		Title:       in.Title,
		Description: in.Description,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.db.Update(func(txn *badger.Txn) error {
		return putTask(txn, task)
	}); err != nil {
		return datatypes.Task{}, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

func (s *badgerTaskStore) Get(ctx context.Context, id int64) (datatypes.Task, error) {
	if err := ctx.Err(); err != nil {
		return datatypes.Task{}, err
	}

	var task datatypes.Task
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		task, err = getTask(txn, id)
		return err
	})
	if err != nil {
		return datatypes.Task{}, err
	}
	return task, nil
}

func (s *badgerTaskStore) List(ctx context.Context) ([]datatypes.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tasks := make([]datatypes.Task, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(taskPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var task datatypes.Task
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &task)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			tasks = append(tasks, task)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	// Keys are zero-padded so iteration is already ordered; keep the
	// guarantee explicit for callers.
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, nil
}

func (s *badgerTaskStore) Update(ctx context.Context, id int64, in datatypes.TaskInput) (datatypes.Task, error) {
	return s.modify(ctx, id, func(task *datatypes.Task) {
		task.Title = in.Title
		task.Description = in.Description
		if in.Status != "" {
			task.Status = in.Status
		}
	})
}

func (s *badgerTaskStore) SetStatus(ctx context.Context, id int64, status datatypes.Status) (datatypes.Task, error) {
	return s.modify(ctx, id, func(task *datatypes.Task) {
		task.Status = status
	})
}

// modify runs a read-modify-write cycle and bumps UpdatedAt monotonically.
func (s *badgerTaskStore) modify(ctx context.Context, id int64, mutate func(*datatypes.Task)) (datatypes.Task, error) {
	if err := ctx.Err(); err != nil {
		return datatypes.Task{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var task datatypes.Task
	err := s.db.Update(func(txn *badger.Txn) error {
		var err error
		task, err = getTask(txn, id)
		if err != nil {
			return err
		}

		prev := task.UpdatedAt
		mutate(&task)

		now := s.now().UTC()
		if !now.After(prev) {
			now = prev.Add(time.Microsecond)
		}
		task.UpdatedAt = now

		return putTask(txn, task)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return datatypes.Task{}, err
		}
		return datatypes.Task{}, fmt.Errorf("update task %d: %w", id, err)
	}
	return task, nil
}

func (s *badgerTaskStore) Delete(ctx context.Context, id int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deleted := false
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(taskKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		deleted = true
		return txn.Delete(taskKey(id))
	})
	if err != nil {
		return false, fmt.Errorf("delete task %d: %w", id, err)
	}
	return deleted, nil
}

// Close releases the ID lease, stops GC and closes the database.
// Safe to call more than once.
func (s *badgerTaskStore) Close() error {
	s.closeOnce.Do(func() {
		if s.gc != nil {
			s.gc.stop()
		}
		releaseErr := s.seq.Release()
		closeErr := s.db.Close()
		s.closeErr = errors.Join(releaseErr, closeErr)
	})
	return s.closeErr
}

func getTask(txn *badger.Txn, id int64) (datatypes.Task, error) {
	item, err := txn.Get(taskKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return datatypes.Task{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return datatypes.Task{}, fmt.Errorf("read task %d: %w", id, err)
	}

	var task datatypes.Task
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &task)
	}); err != nil {
		return datatypes.Task{}, fmt.Errorf("decode task %d: %w", id, err)
	}
	return task, nil
}

func putTask(txn *badger.Txn, task datatypes.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task %d: %w", task.ID, err)
	}
	return txn.Set(taskKey(task.ID), data)
}
