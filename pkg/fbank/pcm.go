package fbank

import (
	"encoding/binary"
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/haivivi/spkid/pkg/features"
)

// DecodePCM16 converts little-endian signed 16-bit mono PCM to samples in
// [-1, 1). A trailing odd byte is ignored.
func DecodePCM16(pcm []byte) []float64 {
	out := make([]float64, len(pcm)/2)
	for i := range out {
		out[i] = float64(int16(binary.LittleEndian.Uint16(pcm[2*i:]))) / 32768
	}
	return out
}

// Resample converts mono samples from rate `from` to rate `to`. Equal
// rates return the input unchanged.
func Resample(samples []float64, from, to int) ([]float64, error) {
	if from == to {
		return samples, nil
	}
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("fbank: bad sample rates %d -> %d", from, to)
	}
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("fbank: create resampler: %w", err)
	}
	out, err := rs.Process(samples)
	if err != nil {
		return nil, fmt.Errorf("fbank: resample: %w", err)
	}
	return out, nil
}

// FromPCM16 decodes PCM16 audio at sampleRate, resamples it to the
// extractor's rate, and extracts frames.
func (e *Extractor) FromPCM16(pcm []byte, sampleRate int) (features.Sequence, error) {
	samples, err := Resample(DecodePCM16(pcm), sampleRate, e.cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	return e.Extract(samples)
}
