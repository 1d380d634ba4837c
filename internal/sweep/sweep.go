// Package sweep evicts cache files older than their per-kind TTL. One
// sweeper owns both cache trees; passes never overlap, and triggers that
// arrive while a pass runs coalesce into a single rerun.
package sweep

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/mlundh/tilegate/internal/observability"
	"github.com/mlundh/tilegate/internal/store"
)

// Target is one cache tree with its eviction TTL. TTL <= 0 means infinite:
// the kind is skipped entirely.
type Target struct {
	Kind store.Kind
	Root string
	TTL  time.Duration
}

// Config controls sweep behavior.
type Config struct {
	// Interval is the pause between passes, measured from pass completion
	// so a slow pass does not cause back-to-back passes.
	Interval time.Duration
	// MaxDeletes caps deletions per pass; 0 is unbounded. Traversal stops
	// early once the cap is reached.
	MaxDeletes int
	// PruneDirs removes directories left empty by deletions, bottom-up,
	// never the tree root.
	PruneDirs bool
	// Exclude lists absolute paths that are never deleted, regardless of
	// age (the blank/error tile assets).
	Exclude []string
}

// Stats summarizes one pass.
type Stats struct {
	Deleted int
	Pruned  int
}

// Sweeper runs eviction passes over the cache trees.
type Sweeper struct {
	logger  *slog.Logger
	targets []Target
	cfg     Config
	exclude map[string]struct{}

	mu      sync.Mutex
	running bool
	pending bool

	kick chan struct{}

	now    func() time.Time           // for tests
	passFn func(context.Context) Stats // for tests
}

func New(logger *slog.Logger, targets []Target, cfg Config) *Sweeper {
	s := &Sweeper{
		logger:  logger,
		targets: targets,
		cfg:     cfg,
		exclude: make(map[string]struct{}, len(cfg.Exclude)),
		kick:    make(chan struct{}, 1),
		now:     time.Now,
	}
	for _, p := range cfg.Exclude {
		s.exclude[p] = struct{}{}
	}
	s.passFn = s.sweepOnce
	return s
}

// Trigger requests a pass. While a pass is running it only sets the
// pending flag; the running pass reruns once on completion instead of two
// passes running concurrently.
func (s *Sweeper) Trigger() {
	s.mu.Lock()
	if s.running {
		s.pending = true
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Run owns the sweep schedule until ctx is done. Each pass is followed by
// a full interval of idle time; a trigger cuts the wait short.
func (s *Sweeper) Run(ctx context.Context) {
	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-s.kick:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
		s.runPasses(ctx)
		timer.Reset(s.cfg.Interval)
	}
}

// runPasses executes one pass plus any coalesced rerun.
func (s *Sweeper) runPasses(ctx context.Context) {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	for {
		st := s.passFn(ctx)
		observability.IncSweepPass()
		s.logger.Info("sweep pass complete", "deleted", st.Deleted, "pruned", st.Pruned)

		s.mu.Lock()
		if s.pending && ctx.Err() == nil {
			s.pending = false
			s.mu.Unlock()
			continue
		}
		s.running = false
		s.pending = false
		s.mu.Unlock()
		return
	}
}

// sweepOnce walks every finite-TTL target and deletes expired files. The
// traversal uses an explicit directory stack so arbitrarily deep trees
// cannot exhaust the goroutine stack.
func (s *Sweeper) sweepOnce(ctx context.Context) Stats {
	var st Stats
	now := s.now()

	for _, t := range s.targets {
		if t.TTL <= 0 {
			continue
		}
		deleted, pruned := s.sweepTree(ctx, t, now, &st)
		observability.AddSweepDeletions(t.Kind.String(), deleted)
		st.Deleted += deleted
		st.Pruned += pruned
		if s.capReached(st.Deleted) {
			break
		}
	}
	return st
}

func (s *Sweeper) sweepTree(ctx context.Context, t Target, now time.Time, total *Stats) (deleted, pruned int) {
	stack := []string{t.Root}
	var visited []string

	for len(stack) > 0 {
		if ctx.Err() != nil {
			return deleted, pruned
		}
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		visited = append(visited, dir)

		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				s.logger.Warn("sweep read dir", "dir", dir, "err", err)
			}
			continue
		}
		for _, e := range entries {
			p := filepath.Join(dir, e.Name())
			if e.IsDir() {
				stack = append(stack, p)
				continue
			}
			if _, skip := s.exclude[p]; skip {
				continue
			}
			fi, err := e.Info()
			if err != nil {
				continue
			}
			if now.Sub(fi.ModTime()) <= t.TTL {
				continue
			}
			if err := os.Remove(p); err != nil {
				if !os.IsNotExist(err) {
					s.logger.Warn("sweep delete", "path", p, "err", err)
				}
				continue
			}
			deleted++
			if s.capReached(total.Deleted + deleted) {
				s.logger.Info("sweep deletion cap reached", "cap", s.cfg.MaxDeletes)
				pruned += s.pruneEmpty(visited, t.Root)
				return deleted, pruned
			}
		}
	}

	pruned = s.pruneEmpty(visited, t.Root)
	return deleted, pruned
}

// pruneEmpty removes visited directories that deletions left empty,
// deepest first. The tree root is never removed. os.Remove refuses
// non-empty directories, which is exactly the check we need.
func (s *Sweeper) pruneEmpty(visited []string, root string) int {
	if !s.cfg.PruneDirs {
		return 0
	}
	sort.Slice(visited, func(i, j int) bool {
		return len(visited[i]) > len(visited[j])
	})
	pruned := 0
	for _, dir := range visited {
		if dir == root {
			continue
		}
		if err := os.Remove(dir); err == nil {
			pruned++
		}
	}
	return pruned
}

func (s *Sweeper) capReached(deleted int) bool {
	return s.cfg.MaxDeletes > 0 && deleted >= s.cfg.MaxDeletes
}
