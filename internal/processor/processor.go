package processor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"adamantium/internal/formats"
	"adamantium/internal/logger"
	"adamantium/pkg/sniff"
)

// Controller runs one invocation over a set of paths.
type Controller struct {
	opts    Options
	lookup  func(sniff.Kind) (formats.Handler, bool)
	workers int
}

func New(opts Options) *Controller {
	c := &Controller{opts: opts, lookup: opts.Lookup, workers: opts.Workers}
	if c.lookup == nil {
		c.lookup = formats.Lookup
	}
	if c.workers <= 0 {
		c.workers = runtime.NumCPU()
	}
	return c
}

func (c *Controller) formatOptions() formats.Options {
	return formats.Options{PreserveICC: c.opts.PreserveICC}
}

// Run processes paths and returns one Result per file in the order the
// files were discovered. A canceled ctx stops new files from starting;
// files already being stripped finish their write sequence, the rest are
// reported as canceled. When no argument can be stat'ed Run returns
// ErrNoReadablePaths along with the per-path failures.
func (c *Controller) Run(ctx context.Context, paths []string, updates chan<- ProgressUpdate) (Summary, []Result, error) {
	summary := Summary{}
	if len(paths) == 0 {
		return summary, nil, ErrNoPaths
	}

	jobs := make(chan Job)
	results := make(chan Result)

	var wg sync.WaitGroup
	wg.Add(c.workers)
	for i := 0; i < c.workers; i++ {
		go func() {
			defer wg.Done()
			c.worker(ctx, jobs, results, updates)
		}()
	}

	var collected []Result
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		for res := range results {
			summary.add(res)
			collected = append(collected, res)
			if updates != nil {
				update := ProgressUpdate{
					ProcessedDelta:  1,
					FieldDelta:      res.Fields(),
					BytesSavedDelta: res.BytesSaved,
					Current:         res.Display,
				}
				if res.Outcome == OutcomeFailed {
					update.FailedDelta = 1
				}
				updates <- update
			}
		}
	}()

	var unreadable int
	producerDone := make(chan struct{})
	go func() {
		defer close(producerDone)
		defer close(jobs)
		unreadable = c.produce(ctx, paths, jobs, results, updates)
	}()

	<-producerDone
	wg.Wait()
	close(results)
	<-collectorDone

	sort.SliceStable(collected, func(i, j int) bool {
		return collected[i].seq < collected[j].seq
	})
	if unreadable == len(paths) {
		return summary, collected, ErrNoReadablePaths
	}
	return summary, collected, nil
}

// produce feeds jobs and returns how many arguments could not be stat'ed.
func (c *Controller) produce(ctx context.Context, paths []string, jobs chan<- Job, results chan<- Result, updates chan<- ProgressUpdate) int {
	unreadable := 0
	seq := 0
	seen := make(map[string]bool)
	canceled := false

	emit := func(res Result) {
		res.seq = seq
		seq++
		if updates != nil {
			updates <- ProgressUpdate{TotalDelta: 1}
		}
		results <- res
	}
	send := func(job Job) {
		if abs, err := filepath.Abs(job.Path); err == nil {
			if seen[abs] {
				logger.Debugf("skipping duplicate path %s", job.Path)
				return
			}
			seen[abs] = true
		}
		job.seq = seq
		seq++
		if !canceled {
			select {
			case jobs <- job:
				return
			case <-ctx.Done():
				canceled = true
			}
		}
		res := canceledResult(job)
		res.seq = job.seq
		if updates != nil {
			updates <- ProgressUpdate{TotalDelta: 1}
		}
		results <- res
	}

	for _, path := range paths {
		if ctx.Err() != nil {
			canceled = true
		}
		if canceled {
			send(Job{Path: path, Display: path, Explicit: true})
			continue
		}

		info, err := os.Stat(path)
		if err != nil {
			unreadable++
			emit(failedResult(Result{Path: path, Display: path}, ErrRead, err))
			continue
		}
		if !info.IsDir() {
			send(Job{Path: path, Display: path, Explicit: true})
			continue
		}

		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				emit(failedResult(Result{Path: p, Display: p}, ErrRead, walkErr))
				if d != nil && d.IsDir() && p != path {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			if ctx.Err() != nil {
				// nothing further under this root has been discovered, so the
				// root itself is what never started
				return ctx.Err()
			}
			send(Job{Path: p, Display: p})
			return nil
		})
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			canceled = true
			send(Job{Path: path, Display: path, Explicit: true})
		} else if err != nil {
			emit(failedResult(Result{Path: path, Display: path}, ErrRead, err))
		}
	}
	return unreadable
}

func (c *Controller) worker(ctx context.Context, jobs <-chan Job, results chan<- Result, updates chan<- ProgressUpdate) {
	for job := range jobs {
		if ctx.Err() != nil {
			res := canceledResult(job)
			if updates != nil {
				updates <- ProgressUpdate{TotalDelta: 1}
			}
			results <- res
			continue
		}

		res, ok := c.process(job)
		if !ok {
			continue
		}
		res.seq = job.seq
		if updates != nil {
			updates <- ProgressUpdate{TotalDelta: 1, Current: job.Display}
		}
		results <- res
	}
}

// process drives one file through the state machine. ok is false for
// files found by walking a directory whose format is not handled.
func (c *Controller) process(job Job) (Result, bool) {
	res := Result{Path: job.Path, Display: job.Display, State: StateSniffing}

	file, err := os.Open(job.Path)
	if err != nil {
		return failedResult(res, ErrRead, err), true
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return failedResult(res, ErrRead, err), true
	}
	if !info.Mode().IsRegular() {
		if !job.Explicit {
			return res, false
		}
		return unsupportedResult(res, "not a regular file"), true
	}

	sniffed, err := sniff.SniffReader(file, filepath.Ext(job.Path))
	if errors.Is(err, sniff.ErrTooShort) {
		if !job.Explicit {
			return res, false
		}
		return unsupportedResult(res, "unrecognized format: file too short"), true
	}
	if err != nil {
		return failedResult(res, ErrRead, err), true
	}
	res.MIME = sniffed.MIME

	handler, ok := c.lookup(sniffed.Kind)
	if !sniffed.Known() || !ok {
		if !job.Explicit {
			return res, false
		}
		if sniffed.MIME != "" {
			return unsupportedResult(res, fmt.Sprintf("unsupported format (%s)", sniffed.MIME)), true
		}
		return unsupportedResult(res, "unrecognized format"), true
	}
	res.Format = sniffed.Kind
	res.Family = handler.Family()

	res.State = StateExtracting
	rep, err := handler.Extract(file)
	if err != nil {
		return failedResult(res, classify(err), err), true
	}
	res.Report = rep
	if c.opts.Insights {
		res.Insights = buildInsights(rep)
	}

	if c.opts.Mode == ModeDryRun {
		res.State = StateDryRunReport
		res.Outcome = OutcomeReported
		return res, true
	}

	opts := c.formatOptions()
	if len(formats.Residual(rep, opts)) == 0 {
		res.State = StateDone
		res.Outcome = OutcomeAlreadyClean
		return res, true
	}

	res.State = StateStripping
	plan, err := handler.Plan(file, rep, opts)
	if errors.Is(err, formats.ErrNotStrippable) {
		return unsupportedResult(res, err.Error()), true
	}
	if err != nil {
		return failedResult(res, classify(err), err), true
	}
	if plan.Empty() {
		res.State = StateDone
		res.Outcome = OutcomeAlreadyClean
		return res, true
	}

	saved, err := c.strip(file, job.Path, handler, plan, &res)
	if err != nil {
		var fe *FileError
		if errors.As(err, &fe) {
			return failedResult(res, fe.Kind, fe.Err), true
		}
		return failedResult(res, ErrWrite, err), true
	}

	logger.Debugf("cleaned %s: %d fields, %d bytes saved", job.Path, rep.Len(), saved)
	res.State = StateDone
	res.Outcome = OutcomeCleaned
	res.BytesSaved = saved
	return res, true
}

func classify(err error) ErrorKind {
	var pe *formats.ParseError
	if errors.As(err, &pe) {
		return ErrParse
	}
	return ErrRead
}

func failedResult(res Result, kind ErrorKind, err error) Result {
	fe := &FileError{Kind: kind, Path: res.Path, Err: err}
	res.State = StateFailed
	res.Outcome = OutcomeFailed
	res.Err = fe
	res.Reason = fe.reason()
	return res
}

func unsupportedResult(res Result, reason string) Result {
	res.State = StateDone
	res.Outcome = OutcomeUnsupported
	res.Reason = reason
	return res
}

func canceledResult(job Job) Result {
	res := Result{Path: job.Path, Display: job.Display, seq: job.seq}
	return failedResult(res, ErrCanceled, nil)
}
