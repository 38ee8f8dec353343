// Package imaging renders fields as 8-bit PNG images and encodes them as
// base64 text for storage next to scalar columns.
package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"github.com/cgaf/gaf-engine/internal/gaf"
)

// ErrShape is returned when fields cannot be stacked into one image.
var ErrShape = errors.New("imaging: shape error")

// Permutation orders the three source fields into the R, G and B channels:
// channel c is taken from fields[p[c]].
type Permutation [3]int

// Identity keeps fields in R, G, B order.
var Identity = Permutation{0, 1, 2}

// Validate checks that p uses each of 0, 1, 2 exactly once.
func (p Permutation) Validate() error {
	var seen [3]bool
	for _, idx := range p {
		if idx < 0 || idx > 2 || seen[idx] {
			return fmt.Errorf("imaging: %v is not a permutation of {0,1,2}", [3]int(p))
		}
		seen[idx] = true
	}
	return nil
}

// ToByte maps a field value in [-1, 1] onto [0, 255].
func ToByte(v float64) uint8 {
	if math.IsNaN(v) {
		return 0
	}
	scaled := math.Round(((v + 1) / 2) * 255)
	return uint8(math.Min(math.Max(scaled, 0), 255))
}

// FieldsToImage stacks exactly three equally sized square fields into an
// RGB PNG and returns it base64 encoded.
func FieldsToImage(fields []gaf.Field, perm Permutation) (string, error) {
	if len(fields) != 3 {
		return "", fmt.Errorf("%w: need 3 fields, got %d", ErrShape, len(fields))
	}
	if err := perm.Validate(); err != nil {
		return "", err
	}
	n := fields[0].Size()
	for i, f := range fields {
		if err := checkSquare(f, n); err != nil {
			return "", fmt.Errorf("field %d: %w", i, err)
		}
	}

	img := image.NewRGBA(image.Rect(0, 0, n, n))
	r, g, b := fields[perm[0]], fields[perm[1]], fields[perm[2]]
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: ToByte(r[y][x]),
				G: ToByte(g[y][x]),
				B: ToByte(b[y][x]),
				A: 255,
			})
		}
	}
	return encode(img)
}

// FieldsToGrayscale renders a single field as a grayscale PNG.
func FieldsToGrayscale(field gaf.Field) (string, error) {
	n := field.Size()
	if err := checkSquare(field, n); err != nil {
		return "", err
	}
	img := image.NewGray(image.Rect(0, 0, n, n))
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			img.SetGray(x, y, color.Gray{Y: ToByte(field[y][x])})
		}
	}
	return encode(img)
}

// PNGBytes strips the text encoding and returns the raw PNG.
func PNGBytes(s string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("imaging: decode base64: %w", err)
	}
	return raw, nil
}

// Decode reverses the text encoding, for consumers and tests.
func Decode(s string) (image.Image, error) {
	raw, err := PNGBytes(s)
	if err != nil {
		return nil, err
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("imaging: decode png: %w", err)
	}
	return img, nil
}

func checkSquare(f gaf.Field, n int) error {
	if n == 0 || f.Size() != n {
		return fmt.Errorf("%w: expected %dx%d field, got %d rows", ErrShape, n, n, f.Size())
	}
	for i, row := range f {
		if len(row) != n {
			return fmt.Errorf("%w: row %d has %d columns, want %d", ErrShape, i, len(row), n)
		}
	}
	return nil
}

func encode(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("imaging: encode png: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
