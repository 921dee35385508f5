// Package storage implements the metadata storage actor: the single
// writer that sequences every mutation through the WAL, then memory, then
// (on a timer) a snapshot and WAL rotation/compaction.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/keeprun/keep/internal/model"
	"github.com/keeprun/keep/internal/queue"
	"github.com/keeprun/keep/internal/snapshot"
	"github.com/keeprun/keep/internal/wal"
)

const (
	DefaultMailboxDepth   = 128
	DefaultSnapshotPeriod = 60 * time.Second
	DefaultCleanupPeriod  = 180 * time.Second
	DefaultMaxSnapshots   = 10
	DefaultMaxWals        = 10
)

type Config struct {
	Root            string
	MailboxDepth    int
	SnapshotPeriod  time.Duration
	CleanupPeriod   time.Duration
	MaxSnapshots    int
	MaxWals         int
}

func (c Config) withDefaults() Config {
	if c.MailboxDepth == 0 {
		c.MailboxDepth = DefaultMailboxDepth
	}
	if c.SnapshotPeriod == 0 {
		c.SnapshotPeriod = DefaultSnapshotPeriod
	}
	if c.CleanupPeriod == 0 {
		c.CleanupPeriod = DefaultCleanupPeriod
	}
	if c.MaxSnapshots == 0 {
		c.MaxSnapshots = DefaultMaxSnapshots
	}
	if c.MaxWals == 0 {
		c.MaxWals = DefaultMaxWals
	}
	return c
}

// Manager is the metadata storage actor. All mutation flows through Submit;
// readers (GetByID, GetByName, All, List, Summary) take a snapshot under
// the InnerState's own read lock rather than going through the mailbox.
type Manager struct {
	cfg      Config
	wal      *wal.Manager
	snap     *snapshot.Manager
	state    *model.InnerState
	mailbox  *queue.Mailbox[model.Operation, error]
	walIndex int // number of ops written since the last compaction point

	stop chan struct{}
	done chan struct{}
}

// Open recovers state from disk (newest snapshot + WAL replay) and starts
// the worker goroutine. Callers must call Close to drain cleanly.
func Open(ctx context.Context, cfg Config) (*Manager, error) {
	cfg = cfg.withDefaults()
	walDir := filepath.Join(cfg.Root, "containermetas", "wal")
	snapDir := filepath.Join(cfg.Root, "containermetas", "snapshots")

	wm, err := wal.NewManager(walDir, cfg.MaxWals)
	if err != nil {
		return nil, err
	}
	sm, err := snapshot.NewManager(snapDir, cfg.MaxSnapshots)
	if err != nil {
		return nil, err
	}

	state := model.NewInnerState()
	if newest, err := sm.Newest(); err != nil {
		return nil, err
	} else if newest != "" {
		if err := snapshot.Load(newest, state); err != nil {
			return nil, err
		}
	}

	ops, err := wm.ReadOperations()
	if err != nil {
		return nil, fmt.Errorf("%w: replay: %v", model.ErrRecoveryFailed, err)
	}
	for _, op := range ops {
		// Recovery replay is idempotent against the empty/snapshot state
		// only; a Create hitting an already-registered id from the
		// snapshot is expected and not an error worth surfacing.
		_ = state.Apply(op)
	}

	m := &Manager{
		cfg:      cfg,
		wal:      wm,
		snap:     sm,
		state:    state,
		mailbox:  queue.NewMailbox[model.Operation, error](cfg.MailboxDepth),
		walIndex: len(ops),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go m.run(ctx)
	return m, nil
}

// Submit enqueues op for the worker and waits for the committed result.
func (m *Manager) Submit(ctx context.Context, op model.Operation) error {
	commitErr, err := m.mailbox.Send(ctx, op)
	if err != nil {
		return err
	}
	return commitErr
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	snapTicker := time.NewTicker(m.cfg.SnapshotPeriod)
	cleanupTicker := time.NewTicker(m.cfg.CleanupPeriod)
	defer snapTicker.Stop()
	defer cleanupTicker.Stop()

	for {
		select {
		case env := <-m.mailbox.Recv():
			env.Ack <- m.commit(env.Req)
		case now := <-snapTicker.C:
			if _, err := m.snap.Write(m.state, now.Unix()); err != nil {
				slog.ErrorContext(ctx, "storage: snapshot failed", "error", err)
			} else {
				m.walIndex = 0
			}
		case now := <-cleanupTicker.C:
			if err := m.snap.PurgeOld(); err != nil {
				slog.ErrorContext(ctx, "storage: purge snapshots failed", "error", err)
			}
			if err := m.wal.Rotate(now.Unix()); err != nil {
				slog.ErrorContext(ctx, "storage: wal rotate failed", "error", err)
			}
			if err := m.wal.PurgeOldArchives(); err != nil {
				slog.ErrorContext(ctx, "storage: purge archives failed", "error", err)
			}
		case <-m.stop:
			for {
				select {
				case env := <-m.mailbox.Recv():
					env.Ack <- m.commit(env.Req)
				default:
					return
				}
			}
		}
	}
}

// commit runs steps 2-4 of the actor worker loop: WAL append, apply,
// acknowledge. Memory state is never mutated if the WAL write failed.
func (m *Manager) commit(op model.Operation) error {
	if err := m.wal.WriteOperation(op); err != nil {
		return err
	}
	m.walIndex++
	if err := m.state.Apply(op); err != nil {
		return err
	}
	return nil
}

// Close stops the worker after it drains its current mailbox queue.
func (m *Manager) Close() {
	close(m.stop)
	<-m.done
}

func (m *Manager) GetByID(id string) (model.ContainerMeta, bool)   { return m.state.GetByID(id) }
func (m *Manager) GetByName(name string) (model.ContainerMeta, bool) { return m.state.GetByName(name) }
func (m *Manager) All() []model.ContainerMeta                      { return m.state.All() }

func (m *Manager) List(f model.Filter) []model.ContainerMeta {
	return f.Apply(m.state.All())
}

func (m *Manager) Summary() model.ResourceSummary {
	return model.Summarize(m.state.All())
}

// VerifyIntegrity re-reads the current WAL and validates every entry.
func (m *Manager) VerifyIntegrity() (wal.IntegrityReport, error) {
	return m.wal.VerifyIntegrity()
}

// Compact rewrites the WAL keeping only entries after the last snapshot.
func (m *Manager) Compact() error {
	return m.wal.Compact(m.walIndex)
}
