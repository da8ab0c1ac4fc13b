// Package prepare builds a corpus directory from raw speech.
//
// A labeled input tree looks like
//
//	<input>/<speaker>/<name>.pcm
//
// and an unlabeled one keeps every .pcm file directly under <input>. Each
// clip is 16-bit little-endian mono PCM. Clips are resampled to the
// filterbank rate, turned into log mel frames, and written as feature
// files next to the index files pkg/corpus reads.
package prepare

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/haivivi/spkid/pkg/corpus"
	"github.com/haivivi/spkid/pkg/fbank"
	"github.com/haivivi/spkid/pkg/features"
	"github.com/haivivi/spkid/pkg/storage"
)

// Ext is the extension of raw audio clips.
const Ext = ".pcm"

// ErrNoAudio is returned when the input tree holds no usable clip.
var ErrNoAudio = errors.New("prepare: no audio found")

// Options configures a Run.
type Options struct {
	// InputDir is a local directory laid out as described in the package doc.
	InputDir string

	// Output receives feature files and index files.
	Output storage.FileStore

	// SampleRate of the input clips. Zero means the filterbank rate.
	SampleRate int

	// Unlabeled writes testdata.json instead of metadata.json and mapping.json.
	Unlabeled bool

	// Workers bounds concurrent extraction. Zero or less means 1.
	Workers int

	// Fbank overrides fbank.DefaultConfig when NumMels is non-zero.
	Fbank fbank.Config

	Logger *slog.Logger

	// Progress, if set, is called once per finished clip from worker
	// goroutines.
	Progress func()
}

// Result summarizes a Run.
type Result struct {
	Speakers   int
	Utterances int
	Skipped    int
}

// Clip is one raw audio file found under the input directory.
type Clip struct {
	Path    string // on disk
	Rel     string // relative to the input directory, forward slashes
	Speaker string // empty when unlabeled
}

// Scan lists the clips Run would process, in the order they are written
// to the index.
func Scan(inputDir string, unlabeled bool) ([]Clip, error) {
	if unlabeled {
		return scanDir(inputDir, "", "")
	}
	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return nil, fmt.Errorf("prepare: %w", err)
	}
	var clips []Clip
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		found, err := scanDir(filepath.Join(inputDir, e.Name()), e.Name(), e.Name())
		if err != nil {
			return nil, err
		}
		clips = append(clips, found...)
	}
	return clips, nil
}

func scanDir(dir, relDir, speaker string) ([]Clip, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("prepare: %w", err)
	}
	var clips []Clip
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), Ext) {
			continue
		}
		rel := e.Name()
		if relDir != "" {
			rel = relDir + "/" + e.Name()
		}
		clips = append(clips, Clip{Path: filepath.Join(dir, e.Name()), Rel: rel, Speaker: speaker})
	}
	return clips, nil
}

// FeaturePath returns the feature file name for a clip at rel. Names are
// stable across runs so re-running prepare overwrites instead of
// duplicating.
func FeaturePath(rel string) string {
	return "uttr-" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(rel)).String() + ".mpk"
}

type extracted struct {
	entry   corpus.Entry
	skipped bool
}

// Run converts every clip under opts.InputDir and writes the index.
func Run(ctx context.Context, opts Options) (Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Fbank
	if cfg.NumMels == 0 {
		cfg = fbank.DefaultConfig()
	}
	rate := cmp.Or(opts.SampleRate, cfg.SampleRate)
	if opts.Output == nil {
		return Result{}, errors.New("prepare: no output store")
	}
	if _, err := fbank.New(cfg); err != nil {
		return Result{}, err
	}

	clips, err := Scan(opts.InputDir, opts.Unlabeled)
	if err != nil {
		return Result{}, err
	}
	if len(clips) == 0 {
		return Result{}, fmt.Errorf("%w under %s", ErrNoAudio, opts.InputDir)
	}
	logger.Info("prepare: scanned input", "dir", opts.InputDir, "clips", len(clips), "unlabeled", opts.Unlabeled)

	out := make([]extracted, len(clips))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, opts.Workers))
	for i, c := range clips {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ex, err := fbank.New(cfg)
			if err != nil {
				return err
			}
			res, err := convert(gctx, ex, opts.Output, c, rate)
			if err != nil {
				return err
			}
			if res.skipped {
				logger.Warn("prepare: clip too short, skipped", "clip", c.Rel)
			}
			out[i] = res
			if opts.Progress != nil {
				opts.Progress()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var res Result
	if opts.Unlabeled {
		td := corpus.Testdata{NumMels: cfg.NumMels}
		for _, x := range out {
			if x.skipped {
				res.Skipped++
				continue
			}
			td.Utterances = append(td.Utterances, x.entry)
		}
		if len(td.Utterances) == 0 {
			return Result{}, fmt.Errorf("%w: every clip was shorter than one window", ErrNoAudio)
		}
		res.Utterances = len(td.Utterances)
		if err := corpus.WriteUnlabeled(ctx, opts.Output, td); err != nil {
			return Result{}, err
		}
		logger.Info("prepare: wrote unlabeled index", "utterances", res.Utterances, "skipped", res.Skipped)
		return res, nil
	}

	md := corpus.Metadata{NumMels: cfg.NumMels, Speakers: map[string][]corpus.Entry{}}
	for i, x := range out {
		if x.skipped {
			res.Skipped++
			continue
		}
		name := clips[i].Speaker
		md.Speakers[name] = append(md.Speakers[name], x.entry)
		res.Utterances++
	}
	if len(md.Speakers) == 0 {
		return Result{}, fmt.Errorf("%w: every clip was shorter than one window", ErrNoAudio)
	}
	names := make([]string, 0, len(md.Speakers))
	for name := range md.Speakers {
		names = append(names, name)
	}
	slices.Sort(names)
	mapping, err := corpus.NewMapping(names)
	if err != nil {
		return Result{}, err
	}
	if err := corpus.WriteLabeled(ctx, opts.Output, md, mapping); err != nil {
		return Result{}, err
	}
	res.Speakers = len(names)
	logger.Info("prepare: wrote labeled index", "speakers", res.Speakers, "utterances", res.Utterances, "skipped", res.Skipped)
	return res, nil
}

func convert(ctx context.Context, ex *fbank.Extractor, out storage.FileStore, c Clip, rate int) (extracted, error) {
	pcm, err := os.ReadFile(c.Path)
	if err != nil {
		return extracted{}, fmt.Errorf("prepare: %w", err)
	}
	seq, err := ex.FromPCM16(pcm, rate)
	if errors.Is(err, fbank.ErrTooShort) {
		return extracted{skipped: true}, nil
	}
	if err != nil {
		return extracted{}, fmt.Errorf("prepare: %s: %w", c.Rel, err)
	}
	name := FeaturePath(c.Rel)
	if err := features.Save(ctx, out, name, seq); err != nil {
		return extracted{}, err
	}
	return extracted{entry: corpus.Entry{FeaturePath: name, MelLen: seq.Len()}}, nil
}
