package commands

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapdbt/internal/engine"
	"github.com/leapstack-labs/leapdbt/pkg/cancel"
)

// watchDebounce is how long the watcher waits after the last file event
// before rebuilding, so editors that write several files in a burst
// trigger one cycle instead of five.
const watchDebounce = 300 * time.Millisecond

// NewWatchCommand creates the watch command.
func NewWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Recompile the project whenever a source file changes",
		Long: `Watch the project's model, seed, and macro files and rerun parse and
compile on every change. A change arriving mid-compile cancels the
running cycle; only the latest state of the project is ever compiled.`,
		Example: `  # Watch the project in the current directory
  leapdbt watch`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd)
		},
	}
}

// watchSession holds the state shared between the event loop and the
// rebuild goroutines it spawns.
type watchSession struct {
	eng    *engine.Engine
	out    io.Writer
	logger *slog.Logger
	src    *cancel.Source

	// buildMu serializes rebuilds; a superseded cycle drains out under
	// the lock before the next one starts.
	buildMu sync.Mutex
}

func runWatch(cmd *cobra.Command) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	sigCtx, stopSignals := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	s := &watchSession{
		eng:    cmdCtx.Engine,
		out:    cmd.OutOrStdout(),
		logger: cmdCtx.Logger,
		src:    cancel.NewSource(),
	}

	var inflight sync.WaitGroup
	defer inflight.Wait()
	defer s.src.Close()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Initial build. Errors are reported, not fatal: the point of watch
	// is to sit there while the user fixes them.
	s.rebuild(s.src.Token(), "")

	if err := s.addWatches(watcher, cmdCtx.Cfg.ProjectDir); err != nil {
		return err
	}

	fmt.Fprintf(s.out, "Watching %s for changes. Press Ctrl+C to stop.\n", cmdCtx.Cfg.ProjectDir)

	// The timer starts drained; every relevant event rewinds it.
	debounce := time.NewTimer(watchDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	var trigger string
	pending := false

	for {
		select {
		case <-sigCtx.Done():
			fmt.Fprintln(s.out, "\nStopping watch.")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// New directories join the watch so files created inside
			// them fire events too.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = s.watchTree(watcher, event.Name, s.skipPrefixes())
					continue
				}
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !watchRelevant(event.Name) {
				continue
			}
			s.logger.Debug("change detected", "path", event.Name, "op", event.Op.String())
			trigger = filepath.Base(event.Name)
			pending = true
			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
			debounce.Reset(watchDebounce)

		case <-debounce.C:
			if !pending {
				continue
			}
			pending = false
			s.src.Cancel()
			token := s.src.Token()
			changed := trigger
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				s.rebuild(token, changed)
			}()

		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("watcher error", "error", werr)
		}
	}
}

// rebuild runs one parse-and-compile cycle. It holds buildMu for the
// duration, so a cancelled cycle finishes unwinding before its successor
// touches the engine.
func (s *watchSession) rebuild(token cancel.Token, trigger string) {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	// Superseded while waiting for the previous cycle to drain.
	if token.IsCancelled() {
		return
	}

	if trigger != "" {
		fmt.Fprintf(s.out, "\nChange detected: %s\n", trigger)
	}

	started := time.Now()
	result, err := s.eng.Parse()
	if err != nil {
		fmt.Fprintf(s.out, "Parse failed: %v\n", err)
		return
	}
	for _, perr := range result.Errors {
		fmt.Fprintf(s.out, "  %v\n", perr)
	}

	compiled, err := s.eng.Compile(token)
	if err != nil {
		if cancel.IsCancelled(err) {
			s.logger.Debug("compile cycle superseded")
			return
		}
		fmt.Fprintf(s.out, "Compile failed: %v\n", err)
		return
	}

	fmt.Fprintf(s.out, "Compiled %d models in %s\n",
		len(compiled.Nodes), time.Since(started).Round(roundTo))
}

// addWatches registers every package directory with the watcher. Before
// the first successful parse there are no packages to enumerate, so the
// whole project directory is watched instead.
func (s *watchSession) addWatches(watcher *fsnotify.Watcher, projectDir string) error {
	skip := s.skipPrefixes()

	project := s.eng.Project()
	if project == nil {
		return s.watchTree(watcher, projectDir, skip)
	}
	for _, dir := range project.PackageDirs {
		if err := s.watchTree(watcher, dir, skip); err != nil {
			return err
		}
	}
	return nil
}

// skipPrefixes returns the absolute directories the watcher must ignore,
// chiefly each package's target path: compile writes there, and watching
// our own output would rebuild forever.
func (s *watchSession) skipPrefixes() []string {
	project := s.eng.Project()
	if project == nil {
		return nil
	}
	var skip []string
	for name, dir := range project.PackageDirs {
		pkg, ok := project.Packages[name]
		if !ok || pkg.TargetPath == "" {
			continue
		}
		skip = append(skip, filepath.Join(dir, pkg.TargetPath))
	}
	return skip
}

// watchTree adds dir and every subdirectory to the watcher, skipping
// hidden directories and the given prefixes.
func (s *watchSession) watchTree(watcher *fsnotify.Watcher, dir string, skip []string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != dir && strings.HasPrefix(name, ".") {
			return filepath.SkipDir
		}
		for _, prefix := range skip {
			if path == prefix || strings.HasPrefix(path, prefix+string(filepath.Separator)) {
				return filepath.SkipDir
			}
		}
		return watcher.Add(path)
	})
}

// watchRelevant reports whether a change to the given file can affect the
// compiled project.
func watchRelevant(path string) bool {
	switch filepath.Ext(path) {
	case ".sql", ".star", ".csv", ".yml", ".yaml":
		return true
	}
	return false
}
