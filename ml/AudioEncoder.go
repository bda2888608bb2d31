package ml

import (
	"fmt"
	"math"
	"math/rand"
	"os"

	"github.com/go-audio/wav"
	"gonum.org/v1/gonum/mat"
)

// AudioEncoder is a frozen frame-embedding featurizer over WAV input: decode
// PCM, mix to mono, normalize to [-1, 1], resample to rate, slice into
// frameLen windows every hop samples and project each window through a fixed
// random embedding. One sequence position per frame.
type AudioEncoder struct {
	width    int
	rate     int
	frameLen int
	hop      int
	proj     *mat.Dense // (frameLen, width), frozen
}

func MakeAudioEncoder(width, rate, frameLen, hop int, seed int64) (*AudioEncoder, error) {
	if width <= 0 || rate <= 0 || frameLen <= 0 || hop <= 0 {
		return nil, fmt.Errorf("%w: audio encoder width %d, rate %d, frame %d, hop %d",
			ErrConfig, width, rate, frameLen, hop)
	}
	rng := rand.New(rand.NewSource(seed))
	data := make([]float64, frameLen*width)
	s := 1 / math.Sqrt(float64(frameLen))
	for i := range data {
		data[i] = rng.NormFloat64() * s
	}
	return &AudioEncoder{width: width, rate: rate, frameLen: frameLen, hop: hop,
		proj: mat.NewDense(frameLen, width, data)}, nil
}

type audioInput struct {
	samples []float64
}

func (e *AudioEncoder) Preprocess(path string) (Input, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open audio %q: %v", ErrInputFormat, path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: %q is not a readable WAV file", ErrInputFormat, path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: decode %q: %v", ErrInputFormat, path, err)
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, fmt.Errorf("%w: %q holds no samples", ErrEmptyInput, path)
	}

	chans := 1
	srcRate := e.rate
	if buf.Format != nil {
		if buf.Format.NumChannels > 1 {
			chans = buf.Format.NumChannels
		}
		if buf.Format.SampleRate > 0 {
			srcRate = buf.Format.SampleRate
		}
	}
	scale := 1.0
	if buf.SourceBitDepth > 1 {
		scale = float64(int64(1) << (buf.SourceBitDepth - 1))
	}

	n := len(buf.Data) / chans
	mono := make([]float64, n)
	for i := 0; i < n; i++ {
		var acc float64
		for c := 0; c < chans; c++ {
			acc += float64(buf.Data[i*chans+c])
		}
		mono[i] = acc / float64(chans) / scale
	}
	return audioInput{samples: resampleLinear(mono, srcRate, e.rate)}, nil
}

// resampleLinear interpolates x from rate from to rate to. Endpoint samples
// clamp.
func resampleLinear(x []float64, from, to int) []float64 {
	if from == to || len(x) == 0 {
		return x
	}
	n := int(math.Ceil(float64(len(x)) * float64(to) / float64(from)))
	if n < 1 {
		n = 1
	}
	out := make([]float64, n)
	step := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= len(x)-1 {
			out[i] = x[len(x)-1]
			continue
		}
		frac := pos - float64(j)
		out[i] = x[j]*(1-frac) + x[j+1]*frac
	}
	return out
}

func (e *AudioEncoder) Encode(in Input) (*mat.Dense, error) {
	ai, ok := in.(audioInput)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected input type %T", ErrEncoder, in)
	}
	s := ai.samples
	if len(s) < e.frameLen {
		// short inputs still yield one zero-padded frame
		padded := make([]float64, e.frameLen)
		copy(padded, s)
		s = padded
	}
	n := 1 + (len(s)-e.frameLen)/e.hop
	frames := mat.NewDense(n, e.frameLen, nil)
	for i := 0; i < n; i++ {
		copy(frames.RawRowView(i), s[i*e.hop:i*e.hop+e.frameLen])
	}
	return matMul(frames, e.proj), nil
}

func (e *AudioEncoder) OutputWidth() int { return e.width }
func (e *AudioEncoder) Modality() string { return "audio" }
