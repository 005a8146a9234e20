package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// DefaultSweepMaxAge is how old a leftover file must be before it is swept.
// Uploads in progress keep their temp file for at most this long.
const DefaultSweepMaxAge = time.Hour

const tempFilePrefix = ".upload-"

var sweepParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// TempSweeper removes what interrupted filesystem uploads leave behind:
// temporary object and sidecar files, and sidecars whose object was never
// renamed into place.
type TempSweeper struct {
	backend *FilesystemBackend
	maxAge  time.Duration
	cron    *cron.Cron
	now     func() time.Time
}

// NewTempSweeper runs the sweep on a cron schedule such as "@hourly" or
// "*/30 * * * *". A non-positive maxAge selects DefaultSweepMaxAge.
func NewTempSweeper(backend *FilesystemBackend, schedule string, maxAge time.Duration) (*TempSweeper, error) {
	sched, err := sweepParser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("parsing sweep schedule: %w", err)
	}
	if maxAge <= 0 {
		maxAge = DefaultSweepMaxAge
	}

	s := &TempSweeper{
		backend: backend,
		maxAge:  maxAge,
		cron:    cron.New(cron.WithParser(sweepParser)),
		now:     time.Now,
	}
	s.cron.Schedule(sched, cron.FuncJob(s.run))
	return s, nil
}

func (s *TempSweeper) Start() {
	s.cron.Start()
	log.Info().
		Dur("max_age", s.maxAge).
		Str("root", s.backend.root).
		Msg("Temp file sweeper started")
}

// Stop waits for a running sweep to finish.
func (s *TempSweeper) Stop() {
	<-s.cron.Stop().Done()
	log.Info().Msg("Temp file sweeper stopped")
}

func (s *TempSweeper) run() {
	removed, err := s.RunOnce(context.Background())
	if err != nil {
		log.Error().Err(err).Msg("Failed to sweep temp files")
	} else if removed > 0 {
		log.Info().Int("removed", removed).Msg("Swept leftover upload files")
	}
}

// RunOnce sweeps once and returns how many files were removed.
func (s *TempSweeper) RunOnce(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.maxAge)
	objects := filepath.Join(s.backend.root, "objects")
	metas := filepath.Join(s.backend.root, "meta")

	removed := 0
	var errs []error

	remove := func(path string) {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Str("path", path).Msg("Failed to remove leftover file")
			errs = append(errs, err)
			return
		}
		log.Debug().Str("path", path).Msg("Removed leftover file")
		removed++
	}

	stale := func(d fs.DirEntry) bool {
		info, err := d.Info()
		return err == nil && info.ModTime().Before(cutoff)
	}

	err := walkFiles(ctx, objects, func(path string, d fs.DirEntry) {
		if strings.HasPrefix(d.Name(), tempFilePrefix) && stale(d) {
			remove(path)
		}
	})
	if err != nil {
		return removed, err
	}

	err = walkFiles(ctx, metas, func(path string, d fs.DirEntry) {
		if strings.HasPrefix(d.Name(), tempFilePrefix) {
			if stale(d) {
				remove(path)
			}
			return
		}
		rel, err := filepath.Rel(metas, path)
		if err != nil || !strings.HasSuffix(rel, ".json") || !stale(d) {
			return
		}
		object := filepath.Join(objects, strings.TrimSuffix(rel, ".json"))
		if _, err := os.Stat(object); errors.Is(err, fs.ErrNotExist) {
			remove(path)
		}
	})
	if err != nil {
		return removed, err
	}

	if len(errs) > 0 {
		return removed, fmt.Errorf("sweep completed with %d errors (removed %d files)", len(errs), removed)
	}
	return removed, nil
}

// walkFiles calls fn for every regular file under root. A missing root is
// not an error.
func walkFiles(ctx context.Context, root string, fn func(string, fs.DirEntry)) error {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.Type().IsRegular() {
			fn(path, d)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walking %s: %w", root, err)
	}
	return nil
}
