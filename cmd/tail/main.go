package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/seedtray/tailf"
	"github.com/seedtray/tailf/internal/config"
	"github.com/seedtray/tailf/internal/logging"
	"github.com/seedtray/tailf/watch"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CLI is the tail command line.
type CLI struct {
	Follow       string        `short:"f" required:"" placeholder:"PATH" help:"Follow PATH, printing lines as they are appended."`
	Poll         bool          `default:"${config_poll}" help:"Stat the file on an interval instead of using change notifications."`
	PollInterval time.Duration `default:"${config_poll_interval}" help:"Stat interval used with --poll."`
	Buffer       int           `default:"${config_buffer}" help:"Capacity of the change event queue."`
	LogLevel     string        `default:"${config_log_level}" enum:"debug,info,warn,error" help:"Level of diagnostics written to stderr."`
	Quiet        bool          `short:"q" help:"Do not print the 'tail -f' banner."`
}

// Validate rejects flag values the engine cannot run with.
func (c *CLI) Validate() error {
	if c.Buffer <= 0 {
		return fmt.Errorf("--buffer must be positive, got %d", c.Buffer)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("--poll-interval must be positive, got %s", c.PollInterval)
	}
	return nil
}

func vars(cfg *config.Config) kong.Vars {
	backend, _ := watch.ParseBackend(cfg.Backend)
	return kong.Vars{
		"config_poll":          strconv.FormatBool(backend == watch.Poll),
		"config_poll_interval": cfg.PollInterval.String(),
		"config_buffer":        strconv.Itoa(cfg.Buffer),
		"config_log_level":     cfg.LogLevel,
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
		cfg = config.Default()
	}

	var c CLI
	ctx := kong.Parse(&c,
		kong.Name("tail"),
		kong.Description("Print lines appended to a file until it is deleted."),
		kong.UsageOnError(),
		vars(cfg),
	)
	if err := ctx.Run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "tail: %v\n", err)
		os.Exit(1)
	}
}

// Run follows the file until it is deleted or the process is interrupted.
func (c *CLI) Run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return c.run(ctx, cfg, os.Stdout, os.Stderr)
}

func (c *CLI) run(ctx context.Context, cfg *config.Config, stdout io.Writer, stderr *os.File) error {
	log, err := logging.New(c.LogLevel, stderr)
	if err != nil {
		return err
	}
	defer log.Sync()
	if path := config.ConfigFile(); path != "" {
		log.Debug("config loaded", zap.String("file", path))
	}

	backend := watch.Notify
	if c.Poll {
		backend = watch.Poll
	}
	w, err := watch.New(backend,
		watch.WithLogger(log),
		watch.WithBuffer(c.Buffer),
		watch.WithInterval(c.PollInterval),
	)
	if err != nil {
		return err
	}
	t, err := tailf.New(c.Follow, tailf.WithWatcher(w), tailf.WithLogger(log))
	if err != nil {
		return err
	}
	defer t.Close()

	out := bufio.NewWriter(stdout)
	if cfg.Banner && !c.Quiet {
		fmt.Fprintf(out, "tail -f %s\n", c.Follow)
		if err := out.Flush(); err != nil {
			return err
		}
	}

	// The printer batches writes while lines are queued and flushes as soon
	// as the queue drains, so bursts cost one write and quiet periods none.
	lines := make(chan string, c.Buffer)
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		defer close(lines)
		for line, err := range t.Lines(ctx) {
			if err != nil {
				return err
			}
			select {
			case lines <- line.Text:
			case <-ctx.Done():
				return nil
			}
		}
		return nil
	})
	group.Go(func() error {
		for line := range lines {
			out.WriteString(line)
			out.WriteByte('\n')
			if len(lines) > 0 {
				continue
			}
			if err := out.Flush(); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
		}
		return out.Flush()
	})
	return group.Wait()
}
