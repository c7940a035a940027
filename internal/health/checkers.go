package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Pinger is the part of a connection pool readiness checks need.
// [pgxpool.Pool] satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Database returns a checker that pings the given pool.
func Database(name string, p Pinger) Checker {
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			return p.Ping(ctx)
		},
	}
}

// DirWritable returns a checker that verifies dir exists and accepts writes
// by creating and removing a probe file. Used for the corpus and quarantine
// directories, where a full or read-only volume should flip readiness before
// a shard append fails mid-session.
func DirWritable(name, dir string) Checker {
	return Checker{
		Name: name,
		Check: func(_ context.Context) error {
			info, err := os.Stat(dir)
			if err != nil {
				return err
			}
			if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", dir)
			}
			probe := filepath.Join(dir, ".writable")
			f, err := os.Create(probe)
			if err != nil {
				return err
			}
			f.Close()
			return os.Remove(probe)
		},
	}
}
