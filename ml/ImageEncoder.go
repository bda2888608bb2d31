package ml

import (
	"fmt"
	"image"
	"math"
	"math/rand"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

// ImageEncoder is a frozen patch-embedding featurizer: decode, resize to
// size x size RGB, scale to [-1, 1], split into patch x patch tiles and
// project each tile through a fixed random embedding. One sequence position
// per tile.
type ImageEncoder struct {
	width int
	size  int
	patch int
	proj  *mat.Dense // (patch*patch*3, width), frozen
}

func MakeImageEncoder(width, size, patch int, seed int64) (*ImageEncoder, error) {
	if width <= 0 || size <= 0 || patch <= 0 {
		return nil, fmt.Errorf("%w: image encoder width %d, size %d, patch %d", ErrConfig, width, size, patch)
	}
	if size%patch != 0 {
		return nil, fmt.Errorf("%w: image size %d not divisible by patch %d", ErrConfig, size, patch)
	}
	dim := patch * patch * 3
	rng := rand.New(rand.NewSource(seed))
	data := make([]float64, dim*width)
	s := 1 / math.Sqrt(float64(dim))
	for i := range data {
		data[i] = rng.NormFloat64() * s
	}
	return &ImageEncoder{width: width, size: size, patch: patch, proj: mat.NewDense(dim, width, data)}, nil
}

type imageInput struct {
	pixels *mat.Dense // (size*size, 3) in [-1, 1], rows ordered (y, x)
}

func (e *ImageEncoder) Preprocess(path string) (Input, error) {
	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		return nil, fmt.Errorf("%w: cannot decode image %q", ErrInputFormat, path)
	}
	defer img.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(img, &resized, image.Pt(e.size, e.size), 0, 0, gocv.InterpolationLinear)

	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(resized, &rgb, gocv.ColorBGRToRGB)

	px := mat.NewDense(e.size*e.size, 3, nil)
	for y := 0; y < e.size; y++ {
		for x := 0; x < e.size; x++ {
			v := rgb.GetVecbAt(y, x)
			row := px.RawRowView(y*e.size + x)
			for c := 0; c < 3; c++ {
				row[c] = float64(v[c])/127.5 - 1
			}
		}
	}
	return imageInput{pixels: px}, nil
}

func (e *ImageEncoder) Encode(in Input) (*mat.Dense, error) {
	ii, ok := in.(imageInput)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected input type %T", ErrEncoder, in)
	}
	per := e.size / e.patch
	dim := e.patch * e.patch * 3
	patches := mat.NewDense(per*per, dim, nil)
	for pr := 0; pr < per; pr++ {
		for pc := 0; pc < per; pc++ {
			row := patches.RawRowView(pr*per + pc)
			i := 0
			for dy := 0; dy < e.patch; dy++ {
				for dx := 0; dx < e.patch; dx++ {
					y := pr*e.patch + dy
					x := pc*e.patch + dx
					src := ii.pixels.RawRowView(y*e.size + x)
					row[i] = src[0]
					row[i+1] = src[1]
					row[i+2] = src[2]
					i += 3
				}
			}
		}
	}
	return matMul(patches, e.proj), nil
}

func (e *ImageEncoder) OutputWidth() int { return e.width }
func (e *ImageEncoder) Modality() string { return "image" }
