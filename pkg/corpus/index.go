package corpus

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/haivivi/spkid/pkg/storage"
)

// Entry is one utterance record in metadata.json or testdata.json.
type Entry struct {
	FeaturePath string `json:"feature_path"`
	MelLen      int    `json:"mel_len"`
}

// Metadata is the layout of metadata.json.
type Metadata struct {
	NumMels  int                `json:"n_mels"`
	Speakers map[string][]Entry `json:"speakers"`
}

// Testdata is the layout of testdata.json.
type Testdata struct {
	NumMels    int     `json:"n_mels,omitempty"`
	Utterances []Entry `json:"utterances"`
}

// LoadMapping reads mapping.json from store.
func LoadMapping(ctx context.Context, store storage.FileStore) (*Mapping, error) {
	var f mappingFile
	if err := readJSON(ctx, store, MappingFile, &f); err != nil {
		return nil, err
	}
	return mappingFromFile(f)
}

// Load reads mapping.json and metadata.json and builds the labeled corpus.
//
// Speakers are visited in name order and their utterances in file order,
// so the utterance order (and thus every seeded split) is stable across
// runs. Every speaker in metadata.json must appear in mapping.json.
func Load(ctx context.Context, store storage.FileStore) (*Corpus, error) {
	mapping, err := LoadMapping(ctx, store)
	if err != nil {
		return nil, err
	}
	var md Metadata
	if err := readJSON(ctx, store, MetadataFile, &md); err != nil {
		return nil, err
	}
	if len(md.Speakers) == 0 {
		return nil, fmt.Errorf("%w: %s has no speakers", ErrMalformedIndex, MetadataFile)
	}

	c := &Corpus{NumMels: md.NumMels, Mapping: mapping}
	names := make([]string, 0, len(md.Speakers))
	for name := range md.Speakers {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		id, ok := mapping.ID(name)
		if !ok {
			return nil, fmt.Errorf("%w: speaker %q is not in %s", ErrMalformedIndex, name, MappingFile)
		}
		for _, e := range md.Speakers[name] {
			if e.FeaturePath == "" {
				return nil, fmt.Errorf("%w: speaker %q has an entry without feature_path", ErrMalformedIndex, name)
			}
			c.Utterances = append(c.Utterances, Utterance{FeaturePath: e.FeaturePath, Frames: e.MelLen, Speaker: id})
		}
	}
	if len(c.Utterances) == 0 {
		return nil, fmt.Errorf("%w: %s has no utterances", ErrMalformedIndex, MetadataFile)
	}
	return c, nil
}

// LoadUnlabeled reads testdata.json. Returned utterances carry Speaker -1
// and keep file order.
func LoadUnlabeled(ctx context.Context, store storage.FileStore) ([]Utterance, error) {
	var td Testdata
	if err := readJSON(ctx, store, TestdataFile, &td); err != nil {
		return nil, err
	}
	out := make([]Utterance, len(td.Utterances))
	for i, e := range td.Utterances {
		if e.FeaturePath == "" {
			return nil, fmt.Errorf("%w: %s entry %d has no feature_path", ErrMalformedIndex, TestdataFile, i)
		}
		out[i] = Utterance{FeaturePath: e.FeaturePath, Frames: e.MelLen, Speaker: -1}
	}
	return out, nil
}

// WriteLabeled writes metadata.json and mapping.json.
func WriteLabeled(ctx context.Context, store storage.FileStore, md Metadata, mapping *Mapping) error {
	if err := writeJSON(ctx, store, MetadataFile, md); err != nil {
		return err
	}
	return writeJSON(ctx, store, MappingFile, mapping.file())
}

// WriteUnlabeled writes testdata.json.
func WriteUnlabeled(ctx context.Context, store storage.FileStore, td Testdata) error {
	return writeJSON(ctx, store, TestdataFile, td)
}

func readJSON(ctx context.Context, store storage.FileStore, name string, v any) error {
	rc, err := store.Read(ctx, name)
	if err != nil {
		return fmt.Errorf("corpus: open %s: %w", name, err)
	}
	defer rc.Close()
	if err := json.NewDecoder(rc).Decode(v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedIndex, name, err)
	}
	return nil
}

func writeJSON(ctx context.Context, store storage.FileStore, name string, v any) error {
	w, err := store.Write(ctx, name)
	if err != nil {
		return fmt.Errorf("corpus: create %s: %w", name, err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		storage.Abort(w, err)
		return fmt.Errorf("corpus: write %s: %w", name, err)
	}
	return w.Close()
}
