package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"adamantium/internal/config"
	"adamantium/internal/logger"
	"adamantium/internal/notify"
	"adamantium/internal/processor"
	"adamantium/internal/tui"
)

var notifier notify.Notifier = notify.Desktop{}

func runClean(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath, cmd.Flags())
	if err != nil {
		return &exitError{code: exitUsage, err: err}
	}

	closeLog, err := setupLogging(cfg, cmd.ErrOrStderr())
	if err != nil {
		return &exitError{code: exitUsage, err: err}
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mode := processor.ModeClean
	if cfg.DryRun {
		mode = processor.ModeDryRun
	}
	controller := processor.New(processor.Options{
		Mode:        mode,
		Workers:     cfg.Workers,
		PreserveICC: cfg.PreserveICC,
		Insights:    cfg.DryRun,
	})
	logger.Debugf("starting run over %d paths with %d workers (dry run: %v)", len(args), cfg.Workers, cfg.DryRun)

	var (
		updates chan processor.ProgressUpdate
		uiDone  chan struct{}
	)
	if showProgress(cfg, cmd.ErrOrStderr()) {
		updates = make(chan processor.ProgressUpdate, 64)
		uiDone = make(chan struct{})
		program := tea.NewProgram(tui.NewModel(updates, cfg.DryRun),
			tea.WithOutput(cmd.ErrOrStderr()),
			tea.WithInput(nil),
			tea.WithoutSignalHandler(),
		)
		go func() {
			defer close(uiDone)
			if _, err := program.Run(); err != nil {
				logger.Warningf("progress view: %v", err)
			}
			// keep the controller unblocked if the view exits early
			for range updates {
			}
		}()
	}

	summary, results, err := controller.Run(ctx, args, updates)
	if updates != nil {
		close(updates)
		<-uiDone
	}
	if err != nil {
		logFailures(results)
		return &exitError{code: exitUsage, err: err}
	}
	if ctx.Err() != nil {
		logger.Warningf("run interrupted, %d paths were not started", countCanceled(results))
	}

	out := cmd.OutOrStdout()
	if cfg.JSON {
		if err := writeJSON(out, cfg.DryRun, summary, results); err != nil {
			return &exitError{code: exitUsage, err: err}
		}
	} else {
		writeText(out, cfg.DryRun, results)
		fmt.Fprintln(out, tui.RenderSummary(tui.SummaryRows(summary, cfg.DryRun)))
	}

	logFailures(results)

	if cfg.Notify {
		if err := notify.Send(notifier, summary, cfg.DryRun); err != nil {
			logger.Warningf("%v", err)
		}
	}

	if code := summary.ExitCode(); code != exitOK {
		return &exitError{code: exitPartial}
	}
	return nil
}

// setupLogging points the logger at stderr or the log file and applies the
// color and verbosity settings. The returned func closes the log file.
func setupLogging(cfg config.Config, stderr io.Writer) (func(), error) {
	if cfg.Verbose {
		logger.SetLevel(logger.LevelDebug)
	} else {
		logger.SetLevel(logger.LevelWarning)
	}

	if cfg.NoColor {
		color.NoColor = true
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	if cfg.LogFile == "" {
		logger.Initialize(stderr)
		if cfg.NoColor || !isTerminal(stderr) {
			logger.DisableColors()
		} else {
			logger.EnableColors()
		}
		return func() {}, nil
	}

	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	logger.Initialize(f)
	logger.DisableColors()
	return func() {
		logger.Initialize(stderr)
		_ = f.Close()
	}, nil
}

func showProgress(cfg config.Config, stderr io.Writer) bool {
	return !cfg.JSON && !cfg.NoProgress && isTerminal(stderr)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func logFailures(results []processor.Result) {
	for _, res := range results {
		if res.Outcome == processor.OutcomeFailed {
			logger.Errorf("%v", res.Err)
		}
	}
}

func countCanceled(results []processor.Result) int {
	n := 0
	for _, res := range results {
		if kind, ok := processor.KindOf(res.Err); ok && kind == processor.ErrCanceled {
			n++
		}
	}
	return n
}
