package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// exitError carries a process exit code out of a command. A nil err means
// the command already reported everything it had to say.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

const (
	exitOK      = 0
	exitPartial = 1
	exitUsage   = 2
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "adamantium [flags] <path> [<path> ...]",
		Short: "adamantium - strip identifying metadata from files",
		Long: "adamantium removes embedded metadata (EXIF, XMP, ID3, document properties, archive\n" +
			"comments and timestamps) from images, audio, video, documents and archives.\n" +
			"Files are replaced atomically and only after the cleaned copy has been verified.",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runClean,
	}
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	flags := rootCmd.Flags()
	flags.Bool("dry-run", false, "report metadata without modifying any file")
	flags.Bool("notify", false, "send a desktop notification when the run finishes")
	flags.Bool("json", false, "print a machine readable report on stdout")
	flags.IntP("workers", "w", runtime.NumCPU(), "number of files processed concurrently")
	flags.Bool("preserve-icc", false, "keep embedded ICC color profiles")
	flags.Bool("no-progress", false, "disable the progress view")
	flags.StringP("config", "c", "", "config file (default $XDG_CONFIG_HOME/adamantium/config.yaml)")
	flags.BoolP("verbose", "v", false, "enable debug logging")
	flags.Bool("no-color", false, "disable colored output")
	flags.String("log-file", "", "append logs to this file instead of stderr")

	return rootCmd
}

// ExecuteArgs runs the command line args and returns the exit code.
func ExecuteArgs(args []string, stdout, stderr io.Writer) int {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.Execute()
	if err == nil {
		return exitOK
	}

	var exit *exitError
	if errors.As(err, &exit) {
		if exit.err != nil {
			fmt.Fprintln(stderr, "Error:", exit.err)
		}
		return exit.code
	}
	fmt.Fprintln(stderr, "Error:", err)
	fmt.Fprintln(stderr, rootCmd.UsageString())
	return exitUsage
}

func Execute() {
	os.Exit(ExecuteArgs(os.Args[1:], os.Stdout, os.Stderr))
}
