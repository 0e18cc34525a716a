/**
 * KanGen CLI
 *
 * Turns photos of kanji study sheets into an Anki deck:
 * OCR -> spatial anchoring -> dictionary validation -> LLM polish -> .apkg.
 * With -enqueue the images are handed to the sheet worker instead, and
 * -status reports on a job the worker has recorded.
 */

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/kangen/kangen/internal/anki"
	"github.com/kangen/kangen/internal/config"
	"github.com/kangen/kangen/internal/enhance"
	"github.com/kangen/kangen/internal/flashcard"
	"github.com/kangen/kangen/internal/layout"
	"github.com/kangen/kangen/internal/logging"
	"github.com/kangen/kangen/internal/processor"
	"github.com/kangen/kangen/internal/queue"
)

type options struct {
	output     string
	force      bool
	configPath string
	debugDir   string
	enqueue    bool
	status     string
	inputs     []string
}

func main() {
	opts := parseFlags()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "kangen: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.output, "o", "", "output .apkg path (default from config, output_deck.apkg)")
	flag.BoolVar(&o.force, "force", false, "overwrite an existing output file")
	flag.StringVar(&o.configPath, "config", "", "path to a YAML config file")
	flag.StringVar(&o.debugDir, "debug-json", "", "write each image's analysis as JSON into this directory")
	flag.BoolVar(&o.enqueue, "enqueue", false, "submit images to the worker queue instead of processing locally")
	flag.StringVar(&o.status, "status", "", "print the stored status of a worker job and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: kangen [flags] <image or directory>...\n       kangen -status <job-id>\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	o.inputs = flag.Args()
	return o
}

func run(ctx context.Context, o options) error {
	if len(o.inputs) == 0 && o.status == "" {
		flag.Usage()
		return errors.New("no input images")
	}

	_ = godotenv.Load()

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.status != "" {
		return showStatus(ctx, os.Stdout, cfg, o.status)
	}
	logger := logging.NewLogger(cfg.Log)

	paths, err := expandInputs(o.inputs)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return errors.New("no images found in the given inputs")
	}

	if o.enqueue {
		return enqueue(ctx, cfg, paths)
	}

	out := o.output
	if out == "" {
		out = cfg.Anki.OutputPath
	}
	if _, err := os.Stat(out); err == nil && !o.force {
		return fmt.Errorf("%s exists, use -force to overwrite", out)
	}
	if o.debugDir != "" {
		if err := os.MkdirAll(o.debugDir, 0o755); err != nil {
			return fmt.Errorf("debug dir: %w", err)
		}
	}

	proc, err := processor.NewFromConfig(cfg, nil, logger)
	if err != nil {
		return err
	}

	reqs := make([]*processor.ProcessRequest, len(paths))
	for i, p := range paths {
		reqs[i] = &processor.ProcessRequest{Filename: filepath.Base(p), ImagePath: p}
	}

	var entries []layout.Entry
	failed := 0
	for _, br := range proc.ProcessBatch(ctx, reqs) {
		path := br.Request.ImagePath
		if br.Err != nil {
			failed++
			fmt.Printf("FAIL %s: %v\n", path, br.Err)
			continue
		}
		res := br.Result
		fmt.Printf("ok   %s: %d entries (%d flagged), %d orphans, confidence %.2f\n",
			path, len(res.Entries), countFlagged(res.Entries), len(res.Analysis.Orphans), res.Confidence)
		entries = append(entries, res.Entries...)

		if o.debugDir != "" {
			if err := writeDebug(o.debugDir, path, res); err != nil {
				logger.Warn("failed to write analysis dump", "image", path, "error", err)
			}
		}
	}

	merged := layout.MergeEntries(cfg.Anchoring.Options(), entries...)
	cards := flashcard.Build(ctx, merged, newEnhancer(cfg, logger), cfg.LLM.BatchSize, logger)

	deck := anki.NewDeck(cfg.Anki, logger)
	for _, c := range cards {
		deck.Add(c)
	}
	stats := deck.Stats()

	fmt.Printf("\n%d images (%d failed), %d entries, %d cards created, %d skipped\n",
		len(paths), failed, len(merged), stats.Created, stats.Skipped)

	if err := deck.WritePackage(ctx, out); err != nil {
		return fmt.Errorf("no deck written: %w", err)
	}
	fmt.Printf("deck written to %s\n", out)
	return nil
}

func newEnhancer(cfg *config.Config, logger *slog.Logger) flashcard.Enhancer {
	if cfg.LLM.APIKey == "" {
		logger.Info("ANTHROPIC_API_KEY not set, cards are not polished")
		return enhance.Passthrough{}
	}
	a, err := enhance.NewAnthropic(cfg.LLM, logger)
	if err != nil {
		logger.Warn("LLM enhancer unavailable, cards are not polished", "error", err)
		return enhance.Passthrough{}
	}
	return a
}

func enqueue(ctx context.Context, cfg *config.Config, paths []string) error {
	producer, err := queue.NewProducer(cfg.Worker)
	if err != nil {
		return err
	}
	defer producer.Close()

	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		job := &queue.SheetJob{
			JobID:       uuid.NewString(),
			Filename:    filepath.Base(p),
			ImageBuffer: data,
		}
		id, err := producer.Enqueue(ctx, job)
		if err != nil {
			return err
		}
		fmt.Printf("queued %s as %s\n", p, id)
	}
	return nil
}

func writeDebug(dir, path string, res *processor.ProcessResult) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, debugName(path)), data, 0o644)
}

func countFlagged(entries []layout.Entry) int {
	n := 0
	for _, e := range entries {
		if e.Flagged() {
			n++
		}
	}
	return n
}
