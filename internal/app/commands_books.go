package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/readaloud/client/internal/books"
	"github.com/readaloud/client/internal/models"
	"github.com/readaloud/client/internal/progress"
)

func (e *env) submitCommand() *cobra.Command {
	var (
		background bool
		workers    int
		pdfURL     string
		watch      bool
	)
	cmd := &cobra.Command{
		Use:   "submit [FILE...]",
		Short: "Upload PDFs and queue them for conversion",
		Long:  `submit uploads each PDF to object storage and asks the backend to convert it. Use --url to submit a PDF that is already hosted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if pdfURL == "" && len(args) == 0 {
				return errors.New("submit needs at least one FILE or --url")
			}

			a, err := e.newClientApp(ctx)
			if err != nil {
				return err
			}
			if err := a.requireLogin(); err != nil {
				return err
			}

			var submitted []string
			if pdfURL != "" {
				name := filepath.Base(pdfURL)
				if len(args) == 1 {
					name = args[0]
				}
				resp, err := a.api.SubmitBook(ctx, models.SubmitBookRequest{PDFURL: pdfURL, OriginalFilename: name, BackgroundAudio: background})
				if err != nil {
					return fmt.Errorf("submit %s: %w", name, err)
				}
				a.inv.Invalidate(books.TagBooks, books.TagUser)
				fmt.Fprintf(e.out, "%s: %s (%s)\n", name, resp.Message, resp.BookID)
				submitted = append(submitted, resp.BookID)
			} else {
				ids, err := e.submitFiles(ctx, a, args, background, workers)
				submitted = ids
				if err != nil && len(ids) == 0 {
					return err
				}
			}

			if watch && len(submitted) > 0 {
				return e.watch(ctx, a, submitted)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&background, "background-audio", "b", false, "Mix a background track into the narration")
	cmd.Flags().IntVarP(&workers, "workers", "w", 2, "Uploads to run in parallel")
	cmd.Flags().StringVar(&pdfURL, "url", "", "Submit an already uploaded PDF by URL; FILE, if given, names it")
	cmd.Flags().BoolVar(&watch, "watch", false, "Follow conversion progress after submitting")
	return cmd
}

func (e *env) submitFiles(ctx context.Context, a *clientApp, paths []string, background bool, workers int) ([]string, error) {
	uploader, err := e.newUploader(ctx, e.cfg.ObjectStore)
	if err != nil {
		return nil, err
	}

	files := make([]books.File, 0, len(paths))
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		var size int64
		if info, err := f.Stat(); err == nil {
			size = info.Size()
		}
		name := filepath.Base(path)
		files = append(files, books.File{
			Name:            name,
			Body:            f,
			Size:            size,
			BackgroundAudio: background,
			Progress:        e.uploadProgress(name),
		})
	}

	submitter := books.NewSubmitter(uploader, a.api, a.inv, a.metrics, e.logger)
	var (
		ids    []string
		failed int
	)
	for _, res := range submitter.SubmitAll(ctx, files, workers) {
		if res.Err != nil {
			failed++
			fmt.Fprintf(e.out, "%s: failed: %v\n", res.Name, res.Err)
			continue
		}
		fmt.Fprintf(e.out, "%s: %s (%s)\n", res.Name, res.Response.Message, res.Response.BookID)
		ids = append(ids, res.Response.BookID)
	}
	if failed > 0 {
		return ids, fmt.Errorf("%d of %d submissions failed", failed, len(files))
	}
	return ids, nil
}

func (e *env) uploadProgress(name string) func(int) {
	return func(percent int) {
		e.errMu.Lock()
		defer e.errMu.Unlock()
		fmt.Fprintf(e.errOut, "%s: uploading %d%%\n", name, percent)
	}
}

func (e *env) booksCommand() *cobra.Command {
	var filter string
	cmd := &cobra.Command{
		Use:   "books",
		Short: "List your books",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := e.newClientApp(ctx)
			if err != nil {
				return err
			}
			if err := a.requireLogin(); err != nil {
				return err
			}

			jobs, err := a.books.List(ctx)
			if err != nil {
				return err
			}
			switch filter {
			case "", "all":
			case "in-progress":
				jobs = books.InProgress(jobs)
			case "completed":
				jobs = books.Completed(jobs)
			case "failed":
				jobs = books.Failed(jobs)
			default:
				return fmt.Errorf("unknown filter %q", filter)
			}

			if len(jobs) == 0 {
				fmt.Fprintln(e.out, "No books yet")
				return nil
			}
			printJobs(e.out, jobs)
			return nil
		},
	}
	cmd.Flags().StringVarP(&filter, "filter", "f", "all", "all, in-progress, completed or failed")
	return cmd
}

func (e *env) watchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [ID...]",
		Short: "Follow conversion progress until the books finish",
		Long:  `watch polls every in-progress book, or the given ones, until each completes or fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := e.newClientApp(ctx)
			if err != nil {
				return err
			}
			if err := a.requireLogin(); err != nil {
				return err
			}
			return e.watch(ctx, a, args)
		},
	}
}

// watch tracks ids, or every in-progress book when ids is empty, and blocks
// until they all reach a terminal step or ctx ends.
func (e *env) watch(ctx context.Context, a *clientApp, ids []string) error {
	var jobs []models.Job
	if len(ids) == 0 {
		inProgress, err := a.books.InProgress(ctx)
		if err != nil {
			return err
		}
		jobs = inProgress
	} else {
		for _, id := range ids {
			job, err := a.api.BookDetails(ctx, id)
			if err != nil {
				return fmt.Errorf("book %s: %w", id, err)
			}
			jobs = append(jobs, job)
		}
	}

	names := make(map[string]string, len(jobs))
	for _, job := range jobs {
		names[job.ID] = job.OriginalFilename
	}
	var mu sync.Mutex
	printLine := func(jobID string, d progress.Display) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(e.out, "%-24s %3d%%  %s\n", names[jobID], d.Percent, d.Label)
	}

	board := progress.NewBoard(a.api, a.inv, a.pollerOptions(printLine))
	board.SetFocused(true)

	tracked := 0
	for _, job := range jobs {
		if board.Track(ctx, job) {
			tracked++
			continue
		}
		printLine(job.ID, progress.DisplayProgress(job, nil))
	}
	if tracked == 0 {
		fmt.Fprintln(e.out, "Nothing in progress")
		return nil
	}

	done := make(chan struct{})
	go func() {
		board.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		board.Close()
		return ctx.Err()
	}
	if board.SessionEnded() {
		return errNotLoggedIn
	}

	completed, err := a.books.Completed(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "%d book(s) ready\n", len(completed))
	return nil
}

func (e *env) showCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show a book and its processing history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := e.newClientApp(ctx)
			if err != nil {
				return err
			}
			if err := a.requireLogin(); err != nil {
				return err
			}

			job, err := a.api.BookDetails(ctx, args[0])
			if err != nil {
				return err
			}
			d := progress.DisplayProgress(job, nil)
			fmt.Fprintf(e.out, "%s (%s)\n", job.OriginalFilename, job.ID)
			fmt.Fprintf(e.out, "Status:   %s, %d%% %s\n", job.Status, d.Percent, d.Label)
			if job.TotalCharacters > 0 {
				fmt.Fprintf(e.out, "Length:   %d characters\n", job.TotalCharacters)
			}
			if job.EstimatedDuration != nil {
				fmt.Fprintf(e.out, "Duration: %s\n", time.Duration(*job.EstimatedDuration)*time.Second)
			}
			if job.ErrorMessage != nil {
				fmt.Fprintf(e.out, "Error:    %s\n", *job.ErrorMessage)
			}

			tw := tabwriter.NewWriter(e.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tSTEP\tPROGRESS\tMESSAGE")
			for _, ev := range job.Events {
				fmt.Fprintf(tw, "%s\t%s\t%d%%\t%s\n", ev.CreatedAt.Local().Format(time.TimeOnly), ev.Step, ev.Progress, ev.Message)
			}
			return tw.Flush()
		},
	}
}

func (e *env) audioCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "audio ID",
		Short: "Print the playback URL of a finished book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := e.newClientApp(ctx)
			if err != nil {
				return err
			}
			if err := a.requireLogin(); err != nil {
				return err
			}

			audio, err := a.api.BookAudio(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(e.out, audio.URL)
			if audio.BackgroundTrack != nil {
				fmt.Fprintf(e.out, "Background track: %s\n", *audio.BackgroundTrack)
			}
			return nil
		},
	}
}

func printJobs(w io.Writer, jobs []models.Job) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tPROGRESS\tCREATED")
	for _, job := range jobs {
		d := progress.DisplayProgress(job, nil)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d%% %s\t%s\n", job.ID, job.OriginalFilename, job.Status, d.Percent, d.Label, job.CreatedAt.Local().Format(time.DateTime))
	}
	_ = tw.Flush()
}
