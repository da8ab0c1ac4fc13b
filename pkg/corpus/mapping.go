package corpus

import (
	"fmt"
	"slices"
	"strconv"
)

// Mapping is the bijection between speaker names and class ids [0, n).
type Mapping struct {
	ids   map[string]int
	names []string
}

// NewMapping assigns ids to names in the given order.
func NewMapping(names []string) (*Mapping, error) {
	m := &Mapping{ids: make(map[string]int, len(names)), names: slices.Clone(names)}
	for i, name := range names {
		if _, dup := m.ids[name]; dup {
			return nil, fmt.Errorf("%w: duplicate speaker %q", ErrMalformedIndex, name)
		}
		m.ids[name] = i
	}
	return m, nil
}

// Len returns the number of speakers.
func (m *Mapping) Len() int { return len(m.names) }

// ID returns the class id for name.
func (m *Mapping) ID(name string) (int, bool) {
	id, ok := m.ids[name]
	return id, ok
}

// Name returns the speaker name for a class id.
func (m *Mapping) Name(id int) (string, bool) {
	if id < 0 || id >= len(m.names) {
		return "", false
	}
	return m.names[id], true
}

// Names returns speaker names in id order.
func (m *Mapping) Names() []string { return slices.Clone(m.names) }

type mappingFile struct {
	Speaker2ID map[string]int    `json:"speaker2id"`
	ID2Speaker map[string]string `json:"id2speaker"`
}

func (m *Mapping) file() mappingFile {
	f := mappingFile{
		Speaker2ID: make(map[string]int, len(m.names)),
		ID2Speaker: make(map[string]string, len(m.names)),
	}
	for id, name := range m.names {
		f.Speaker2ID[name] = id
		f.ID2Speaker[strconv.Itoa(id)] = name
	}
	return f
}

// mappingFromFile checks that both directions agree and cover [0, n).
func mappingFromFile(f mappingFile) (*Mapping, error) {
	n := len(f.ID2Speaker)
	if n == 0 {
		return nil, fmt.Errorf("%w: %s has no speakers", ErrMalformedIndex, MappingFile)
	}
	if len(f.Speaker2ID) != 0 && len(f.Speaker2ID) != n {
		return nil, fmt.Errorf("%w: %s: speaker2id has %d entries, id2speaker has %d",
			ErrMalformedIndex, MappingFile, len(f.Speaker2ID), n)
	}
	names := make([]string, n)
	for key, name := range f.ID2Speaker {
		id, err := strconv.Atoi(key)
		if err != nil || id < 0 || id >= n {
			return nil, fmt.Errorf("%w: %s: bad id %q", ErrMalformedIndex, MappingFile, key)
		}
		names[id] = name
	}
	for name, id := range f.Speaker2ID {
		if id < 0 || id >= n || names[id] != name {
			return nil, fmt.Errorf("%w: %s: speaker2id[%q]=%d disagrees with id2speaker",
				ErrMalformedIndex, MappingFile, name, id)
		}
	}
	return NewMapping(names)
}
