package ml

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"
	"unicode/utf8"

	"gonum.org/v1/gonum/mat"
)

// TextEncoder is a frozen hash-bucket embedding featurizer: lowercase
// whitespace tokens hash into rows of a fixed table. It stands in for a
// pretrained text model behind the Encoder contract.
type TextEncoder struct {
	width   int
	buckets int
	table   *mat.Dense // (buckets, width), frozen at construction
}

func MakeTextEncoder(width, buckets int, seed int64) (*TextEncoder, error) {
	if width <= 0 || buckets <= 0 {
		return nil, fmt.Errorf("%w: text encoder width %d, buckets %d", ErrConfig, width, buckets)
	}
	rng := rand.New(rand.NewSource(seed))
	data := make([]float64, buckets*width)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return &TextEncoder{width: width, buckets: buckets, table: mat.NewDense(buckets, width, data)}, nil
}

type textInput struct {
	ids []int
}

func (e *TextEncoder) Preprocess(raw string) (Input, error) {
	if !utf8.ValidString(raw) {
		return nil, fmt.Errorf("%w: text is not valid UTF-8", ErrInputFormat)
	}
	fields := strings.Fields(strings.ToLower(raw))
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: blank text", ErrEmptyInput)
	}
	ids := make([]int, len(fields))
	for i, tok := range fields {
		h := fnv.New32a()
		h.Write([]byte(tok))
		ids[i] = int(h.Sum32() % uint32(e.buckets))
	}
	return textInput{ids: ids}, nil
}

func (e *TextEncoder) Encode(in Input) (*mat.Dense, error) {
	ti, ok := in.(textInput)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected input type %T", ErrEncoder, in)
	}
	out := mat.NewDense(len(ti.ids), e.width, nil)
	for i, id := range ti.ids {
		copy(out.RawRowView(i), e.table.RawRowView(id))
	}
	return out, nil
}

func (e *TextEncoder) OutputWidth() int { return e.width }
func (e *TextEncoder) Modality() string { return "text" }
