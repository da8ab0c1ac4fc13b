// Package fbank turns raw speech into log mel filterbank frames, the
// feature representation the speaker classifier consumes.
//
// Defaults follow the usual 16 kHz speaker-recognition front end:
//
//	SampleRate:  16000
//	WindowSize:  400 (25 ms)
//	HopSize:     160 (10 ms)
//	FFTSize:     512
//	NumMels:     40
//	LowFreq:     20
//	HighFreq:    7600
//	PreEmphasis: 0.97
package fbank

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/haivivi/spkid/pkg/features"
)

// ErrTooShort is returned when the input holds less than one window.
var ErrTooShort = errors.New("fbank: audio shorter than one window")

// logFloor keeps silent bins finite.
const logFloor = 1e-10

// Config controls filterbank extraction.
type Config struct {
	SampleRate  int     `yaml:"sample_rate"`
	WindowSize  int     `yaml:"window_size"`
	HopSize     int     `yaml:"hop_size"`
	FFTSize     int     `yaml:"fft_size"`
	NumMels     int     `yaml:"n_mels"`
	LowFreq     float64 `yaml:"low_freq"`
	HighFreq    float64 `yaml:"high_freq"`
	PreEmphasis float64 `yaml:"pre_emphasis"`
}

// DefaultConfig returns the 40-bin, 16 kHz configuration.
func DefaultConfig() Config {
	return Config{
		SampleRate:  16000,
		WindowSize:  400,
		HopSize:     160,
		FFTSize:     512,
		NumMels:     40,
		LowFreq:     20,
		HighFreq:    7600,
		PreEmphasis: 0.97,
	}
}

func (c Config) validate() error {
	switch {
	case c.SampleRate <= 0, c.WindowSize <= 0, c.HopSize <= 0, c.NumMels <= 0:
		return fmt.Errorf("fbank: non-positive size in %+v", c)
	case c.FFTSize < c.WindowSize:
		return fmt.Errorf("fbank: fft size %d below window %d", c.FFTSize, c.WindowSize)
	case c.HighFreq <= c.LowFreq || c.HighFreq > float64(c.SampleRate)/2:
		return fmt.Errorf("fbank: bad band [%v, %v] at %d Hz", c.LowFreq, c.HighFreq, c.SampleRate)
	}
	return nil
}

// Extractor computes filterbank frames. It is not safe for concurrent use;
// give each worker its own.
type Extractor struct {
	cfg    Config
	window []float64
	bank   [][]float64
	fft    *fourier.FFT

	frame  []float64
	coeffs []complex128
}

// New returns an Extractor for cfg.
func New(cfg Config) (*Extractor, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Extractor{
		cfg:    cfg,
		window: hammingWindow(cfg.WindowSize),
		bank:   melFilterBank(cfg.NumMels, cfg.FFTSize, cfg.SampleRate, cfg.LowFreq, cfg.HighFreq),
		fft:    fourier.NewFFT(cfg.FFTSize),
		frame:  make([]float64, cfg.FFTSize),
	}, nil
}

// Config returns the extractor's configuration.
func (e *Extractor) Config() Config { return e.cfg }

// NumFrames returns how many frames n samples produce.
func (e *Extractor) NumFrames(n int) int {
	if n < e.cfg.WindowSize {
		return 0
	}
	return (n-e.cfg.WindowSize)/e.cfg.HopSize + 1
}

// Extract computes [T][NumMels] log mel energies from samples in [-1, 1]
// at cfg.SampleRate.
func (e *Extractor) Extract(samples []float64) (features.Sequence, error) {
	cfg := e.cfg
	numFrames := e.NumFrames(len(samples))
	if numFrames == 0 {
		return nil, ErrTooShort
	}

	out := make(features.Sequence, numFrames)
	for t := range out {
		start := t * cfg.HopSize
		for i := range cfg.WindowSize {
			s := samples[start+i]
			if i > 0 {
				s -= cfg.PreEmphasis * samples[start+i-1]
			}
			e.frame[i] = s * e.window[i]
		}
		clear(e.frame[cfg.WindowSize:])

		e.coeffs = e.fft.Coefficients(e.coeffs, e.frame)
		mel := make([]float32, cfg.NumMels)
		for m, filter := range e.bank {
			var sum float64
			for k, w := range filter {
				if w == 0 {
					continue
				}
				c := e.coeffs[k]
				sum += w * (real(c)*real(c) + imag(c)*imag(c))
			}
			mel[m] = float32(math.Log(math.Max(sum, logFloor)))
		}
		out[t] = mel
	}
	return out, nil
}
