package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/chriskillpack/blurb"
	"github.com/chriskillpack/blurb/captioner"
	"github.com/chriskillpack/blurb/internal/imgproc"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
)

const maxBatchErrors = 5

var lameduck atomic.Bool

type batchOptions struct {
	Dir         string
	Mode        captioner.Mode
	Count       int // -1 for all
	Concurrency int
	MaxImageDim int
	MaxPixels   int64
	Out         io.Writer
	Progress    io.Writer // nil hides the progress bar
}

type batchResult struct {
	Path    string
	Caption *blurb.Caption
	Err     error
}

func findImageFiles(root string) ([]string, error) {
	var photos []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() && imgproc.AllowedFile(path) {
			photos = append(photos, path)
		}

		return nil
	})

	return photos, err
}

func captionFile(ctx context.Context, gen *blurb.Generator, path string, opts batchOptions) (*blurb.Caption, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := imgproc.Normalize(data, imgproc.Options{MaxDim: opts.MaxImageDim, MaxPixels: opts.MaxPixels})
	if err != nil {
		return nil, err
	}
	return gen.Generate(ctx, img, opts.Mode)
}

// runBatch captions every image under opts.Dir. Work stops early once
// lameduck is set, the context is cancelled or too many files fail.
func runBatch(ctx context.Context, gen *blurb.Generator, db *blurb.DB, opts batchOptions) ([]batchResult, error) {
	photos, err := findImageFiles(opts.Dir)
	if err != nil {
		return nil, err
	}
	if opts.Count > -1 {
		photos = photos[:min(len(photos), opts.Count)]
	}
	fmt.Fprintf(opts.Out, "%d images to process\n", len(photos))

	progress := opts.Progress
	if progress == nil {
		progress = io.Discard
	}
	bar := progressbar.NewOptions(len(photos),
		progressbar.OptionSetWriter(progress),
		progressbar.OptionSetDescription("captioning"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetVisibility(opts.Progress != nil),
		progressbar.OptionClearOnFinish(),
	)

	results := make([]batchResult, len(photos))
	var errcnt atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Concurrency, 1))
	for i, path := range photos {
		if lameduck.Load() || gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			defer bar.Add(1)

			results[i].Path = path
			c, err := captionFile(gctx, gen, path, opts)
			if err != nil {
				results[i].Err = err
				if errcnt.Add(1) >= maxBatchErrors {
					return fmt.Errorf("too many errors, last: %w", err)
				}
				return nil
			}
			results[i].Caption = c

			if db != nil {
				rec := &blurb.Record{
					Filename:   filepath.Base(path),
					Mode:       string(c.Mode),
					Caption:    c.Text,
					Captioner:  c.Captioner,
					Model:      c.Model,
					Cached:     c.Cached,
					DurationMS: c.Duration.Milliseconds(),
				}
				if err := db.InsertCaption(gctx, rec); err != nil {
					fmt.Fprintf(opts.Out, "error recording %s: %s\n", path, err)
				}
			}
			return nil
		})
	}
	err = g.Wait()
	bar.Finish()

	// Drop slots that were never started.
	done := results[:0]
	for _, r := range results {
		if r.Path != "" {
			done = append(done, r)
		}
	}

	for _, r := range done {
		if r.Err != nil {
			fmt.Fprintf(opts.Out, "%s: error: %s\n", r.Path, r.Err)
			continue
		}
		fmt.Fprintf(opts.Out, "%s: %s (%s)\n", r.Path, r.Caption.Text, r.Caption.Duration.Round(time.Millisecond))
	}

	return done, err
}

func sighandler(ch chan os.Signal, cancel context.CancelFunc) {
	for {
		<-ch
		if lameduck.Load() {
			// Already in lame duck, hard stop
			fmt.Println("Exiting")
			cancel()
			return
		} else {
			fmt.Println("SIGINT received, stopping...")
			lameduck.Store(true)
		}
	}
}
