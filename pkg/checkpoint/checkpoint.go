// Package checkpoint captures, persists, and restores classifier
// parameters.
//
// A checkpoint file is a 4-byte magic "SPK1" followed by a msgpack-encoded
// Snapshot:
//
//	[4B magic "SPK1"] [msgpack Snapshot]
//
// Snapshot carries the architecture alongside the weights so that
// inference can rebuild a network of the right shape before restoring.
package checkpoint

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/mat"

	"github.com/haivivi/spkid/pkg/model"
	"github.com/haivivi/spkid/pkg/storage"
)

var magic = [4]byte{'S', 'P', 'K', '1'}

// Version is the snapshot format version written by Encode.
const Version = 2

// Sentinel errors.
var (
	ErrBadMagic     = errors.New("checkpoint: not a checkpoint file")
	ErrVersion      = errors.New("checkpoint: unsupported version")
	ErrIncompatible = errors.New("checkpoint: parameters do not match model")
)

// Tensor is one parameter's values in row-major order.
type Tensor struct {
	Name string    `msgpack:"name"`
	Rows int       `msgpack:"rows"`
	Cols int       `msgpack:"cols"`
	Data []float64 `msgpack:"data"`
}

// Snapshot is a deep copy of model parameters taken at a validation step.
type Snapshot struct {
	Version     int        `msgpack:"version"`
	Step        int        `msgpack:"step"`
	Accuracy    float64    `msgpack:"accuracy"`
	NumSpeakers int        `msgpack:"n_spks"`
	Arch        model.Arch `msgpack:"arch"`
	Params      []Tensor   `msgpack:"params"`
}

// Capture deep-copies the current parameters of m. Later updates to m do
// not affect the snapshot.
func Capture(step int, accuracy float64, m model.Model) *Snapshot {
	s := &Snapshot{
		Version:     Version,
		Step:        step,
		Accuracy:    accuracy,
		NumSpeakers: m.NumSpeakers(),
	}
	if a, ok := m.(interface{ Arch() model.Arch }); ok {
		s.Arch = a.Arch()
	}
	for _, p := range m.Parameters() {
		r, c := p.Value.Dims()
		data := make([]float64, 0, r*c)
		for i := range r {
			data = append(data, p.Value.RawRowView(i)...)
		}
		s.Params = append(s.Params, Tensor{Name: p.Name, Rows: r, Cols: c, Data: data})
	}
	return s
}

// Restore copies the snapshot into m's parameters. Names and shapes must
// match one to one.
func (s *Snapshot) Restore(m model.Model) error {
	params := m.Parameters()
	if len(params) != len(s.Params) {
		return fmt.Errorf("%w: model has %d tensors, snapshot has %d", ErrIncompatible, len(params), len(s.Params))
	}
	for i, p := range params {
		t := s.Params[i]
		r, c := p.Value.Dims()
		if t.Name != p.Name || t.Rows != r || t.Cols != c || len(t.Data) != r*c {
			return fmt.Errorf("%w: %s %dx%d vs snapshot %s %dx%d", ErrIncompatible, p.Name, r, c, t.Name, t.Rows, t.Cols)
		}
	}
	for i, p := range params {
		p.Value.Copy(mat.NewDense(s.Params[i].Rows, s.Params[i].Cols, s.Params[i].Data))
	}
	return nil
}

// NewModel builds a reference classifier shaped by the snapshot and
// restores its weights.
func (s *Snapshot) NewModel() (*model.Classifier, error) {
	c, err := model.NewClassifier(s.Arch, 0)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}
	if err := s.Restore(c); err != nil {
		return nil, err
	}
	c.SetTraining(false)
	return c, nil
}

// Encode writes the snapshot with its magic header.
func (s *Snapshot) Encode(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(magic[:]); err != nil {
		return fmt.Errorf("checkpoint: write magic: %w", err)
	}
	if err := msgpack.NewEncoder(bw).Encode(s); err != nil {
		return fmt.Errorf("checkpoint: encode: %w", err)
	}
	return bw.Flush()
}

// Decode reads a snapshot written by Encode.
func Decode(r io.Reader) (*Snapshot, error) {
	br := bufio.NewReader(r)
	var head [4]byte
	if _, err := io.ReadFull(br, head[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMagic, err)
	}
	if !bytes.Equal(head[:], magic[:]) {
		return nil, ErrBadMagic
	}
	var s Snapshot
	if err := msgpack.NewDecoder(br).Decode(&s); err != nil {
		return nil, fmt.Errorf("checkpoint: decode: %w", err)
	}
	if s.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, s.Version)
	}
	return &s, nil
}

// Save writes the snapshot to path, replacing the previous checkpoint.
// The store's Write publishes the file only once it is complete.
func (s *Snapshot) Save(ctx context.Context, store storage.FileStore, path string) error {
	w, err := store.Write(ctx, path)
	if err != nil {
		return fmt.Errorf("checkpoint: create %s: %w", path, err)
	}
	if err := s.Encode(w); err != nil {
		storage.Abort(w, err)
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("checkpoint: close %s: %w", path, err)
	}
	return nil
}

// Load reads the checkpoint at path.
func Load(ctx context.Context, store storage.FileStore, path string) (*Snapshot, error) {
	rc, err := store.Read(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open %s: %w", path, err)
	}
	defer rc.Close()
	return Decode(rc)
}
