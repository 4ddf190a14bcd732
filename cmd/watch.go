package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/karrick/godirwalk"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/unicode/norm"

	"github.com/TFMV/vigil/notify"
)

var (
	// Watch command options
	watchEvents        []string
	watchRecursive     bool
	watchPattern       string
	watchIgnore        string
	watchTimeout       time.Duration
	watchIncludeHidden bool
)

// watcher is the slice of the engine surface the command needs; both the
// native channel and the fsnotify fallback provide it.
type watcher interface {
	AddWatch(path string, mask notify.Mask) (int32, error)
	Path(wd int32) (string, bool)
	Watches() map[int32]string
	Close() error
	Serve(ctx context.Context, sink notify.Sink) error
}

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Watch for filesystem changes",
	Long: `Watch for filesystem changes and print each event as it is delivered.

Examples:
  vigil watch /path/to/watch
  vigil watch --events=create,delete /path/to/watch
  vigil watch --recursive --pattern="*.go" /path/to/watch
  vigil watch --backend=fsnotify --timeout=30s /path/to/watch`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Get the directory to watch
		var watchDir string
		if len(args) > 0 {
			watchDir = args[0]
		} else {
			var err error
			watchDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("error getting current directory: %w", err)
			}
		}
		return runWatch(watchDir)
	},
}

func runWatch(watchDir string) error {
	mask, unknown := notify.ParseMask(strings.Join(watchEvents, ","))
	for _, name := range unknown {
		fmt.Fprintf(os.Stderr, "Unknown event type: %s\n", name)
	}
	if mask == 0 {
		mask = notify.AllEvents
	}

	opts := notify.Options{LogLevel: logLevel()}

	w, err := openBackend(viper.GetString("backend"), opts)
	if err != nil {
		return err
	}
	defer w.Close()

	// Register the root, then one watch per subdirectory when recursive.
	// The engine itself watches single paths only; recursion is assembled
	// here from individual watches.
	if _, err := w.AddWatch(watchDir, mask); err != nil {
		return fmt.Errorf("error watching %s: %w", watchDir, err)
	}
	if watchRecursive {
		err := godirwalk.Walk(watchDir, &godirwalk.Options{
			Unsorted: true,
			Callback: func(path string, de *godirwalk.Dirent) error {
				if !de.IsDir() || path == watchDir {
					return nil
				}
				if !watchIncludeHidden && isHiddenName(de.Name()) {
					return filepath.SkipDir
				}
				if _, err := w.AddWatch(path, mask); err != nil {
					// Log the error but continue
					fmt.Fprintf(os.Stderr, "Error watching directory %s: %v\n", path, err)
				}
				return nil
			},
		})
		if err != nil {
			return fmt.Errorf("error walking directory tree: %w", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if watchTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, watchTimeout)
		defer cancel()
	}

	// Closing the session is the engine's shutdown path; do it as soon as
	// the context ends so the blocked dispatch loop wakes up.
	go func() {
		<-ctx.Done()
		w.Close()
	}()

	fmt.Printf("Watching %s for %s events (%d watches)...\n",
		watchDir, mask, len(w.Watches()))
	fmt.Println("Press Ctrl+C to exit.")

	var dispatched atomic.Int64
	err = w.Serve(ctx, func(_ context.Context, ev notify.Event) error {
		if !matchName(ev.Name) {
			return nil
		}
		dispatched.Add(1)
		dir, _ := w.Path(ev.WD)
		if ev.Name != "" {
			fmt.Printf("%s: %s\n", strings.ToUpper(ev.Mask.String()), filepath.Join(dir, ev.Name))
		} else {
			fmt.Printf("%s: %s\n", strings.ToUpper(ev.Mask.String()), dir)
		}
		return nil
	})

	p := message.NewPrinter(language.English)
	p.Printf("\n%d events dispatched\n", dispatched.Load())
	return err
}

// openBackend picks the notification backend. The native engine is the
// default; platforms without it fall back to fsnotify.
func openBackend(backend string, opts notify.Options) (watcher, error) {
	switch backend {
	case "", "native":
		w, err := notify.Open(opts)
		if errors.Is(err, notify.ErrUnsupported) {
			fmt.Fprintln(os.Stderr, "Native notification unavailable, using fsnotify backend")
			return notify.NewFallbackWatcher(opts)
		}
		if err != nil {
			return nil, err
		}
		return w, nil
	case "fsnotify":
		return notify.NewFallbackWatcher(opts)
	default:
		return nil, fmt.Errorf("unknown backend: %s", backend)
	}
}

// matchName applies the --pattern and --ignore globs to an event's name.
// Names are NFC-normalized before matching so composed and decomposed
// spellings compare equal.
func matchName(name string) bool {
	if name == "" {
		return true
	}
	normalized := norm.NFC.String(name)

	if !watchIncludeHidden && isHiddenName(normalized) {
		return false
	}
	if watchPattern != "" {
		matched, err := filepath.Match(norm.NFC.String(watchPattern), normalized)
		if err != nil || !matched {
			return false
		}
	}
	if watchIgnore != "" {
		matched, err := filepath.Match(norm.NFC.String(watchIgnore), normalized)
		if err == nil && matched {
			return false
		}
	}
	return true
}

func isHiddenName(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}

func logLevel() notify.LogLevel {
	if viper.GetBool("verbose") {
		return notify.LogLevelDebug
	}
	if viper.GetBool("silent") {
		return notify.LogLevelError
	}
	return notify.LogLevelWarn
}

func init() {
	rootCmd.AddCommand(watchCmd)

	// Define flags for the watch command
	watchCmd.Flags().StringSliceVar(&watchEvents, "events", []string{}, "Events to watch for (create, modify, delete, move, attrib, ...)")
	watchCmd.Flags().BoolVar(&watchRecursive, "recursive", false, "Watch subdirectories recursively")
	watchCmd.Flags().StringVar(&watchPattern, "pattern", "", "File pattern to match (e.g., *.go)")
	watchCmd.Flags().StringVar(&watchIgnore, "ignore", "", "File pattern to ignore")
	watchCmd.Flags().DurationVar(&watchTimeout, "timeout", 0, "Duration to watch before exiting (e.g., 1h, 30m)")
	watchCmd.Flags().BoolVar(&watchIncludeHidden, "include-hidden", false, "Include hidden files and directories")
	watchCmd.Flags().String("backend", "native", "Notification backend (native|fsnotify)")

	viper.BindPFlag("backend", watchCmd.Flags().Lookup("backend"))
}
