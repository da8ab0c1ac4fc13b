package features

import (
	"context"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/haivivi/spkid/pkg/storage"
)

// fileFormat is the on-disk layout of a feature file: a row-major float32
// matrix with its shape.
type fileFormat struct {
	Frames int       `msgpack:"frames"`
	Dim    int       `msgpack:"dim"`
	Data   []float32 `msgpack:"data"`
}

// Encode writes seq to w as a msgpack feature file.
func Encode(w io.Writer, seq Sequence) error {
	if seq.Len() == 0 {
		return ErrEmptySequence
	}
	ff := fileFormat{Frames: seq.Len(), Dim: seq.Dim()}
	ff.Data = make([]float32, 0, ff.Frames*ff.Dim)
	for _, frame := range seq {
		if len(frame) != ff.Dim {
			return ErrDimMismatch
		}
		ff.Data = append(ff.Data, frame...)
	}
	return msgpack.NewEncoder(w).Encode(&ff)
}

// Decode reads a msgpack feature file from r.
func Decode(r io.Reader) (Sequence, error) {
	var ff fileFormat
	if err := msgpack.NewDecoder(r).Decode(&ff); err != nil {
		return nil, fmt.Errorf("features: decode: %w", err)
	}
	if ff.Frames <= 0 || ff.Dim <= 0 {
		return nil, ErrEmptySequence
	}
	if len(ff.Data) != ff.Frames*ff.Dim {
		return nil, fmt.Errorf("features: corrupt file: %d values for %dx%d", len(ff.Data), ff.Frames, ff.Dim)
	}
	seq := make(Sequence, ff.Frames)
	for t := range seq {
		seq[t] = ff.Data[t*ff.Dim : (t+1)*ff.Dim : (t+1)*ff.Dim]
	}
	return seq, nil
}

// Load reads and decodes the feature file at path. Every call reads the
// store; nothing is cached.
func Load(ctx context.Context, store storage.FileStore, path string) (Sequence, error) {
	rc, err := store.Read(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("features: open %s: %w", path, err)
	}
	defer rc.Close()
	seq, err := Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return seq, nil
}

// Save encodes seq and writes it to path, replacing any existing file.
func Save(ctx context.Context, store storage.FileStore, path string, seq Sequence) error {
	w, err := store.Write(ctx, path)
	if err != nil {
		return fmt.Errorf("features: create %s: %w", path, err)
	}
	if err := Encode(w, seq); err != nil {
		storage.Abort(w, err)
		return err
	}
	return w.Close()
}
