// Package dem unpacks RGB encoded elevation tiles.
package dem

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"math"

	_ "golang.org/x/image/webp"
)

// Encoding names how elevation is packed into RGB.
type Encoding string

const (
	EncodingMapbox    Encoding = "mapbox"
	EncodingTerrarium Encoding = "terrarium"
)

// ErrNotSquare is returned for images whose width and height differ.
var ErrNotSquare = errors.New("DEM tiles must be square")

// ParseEncoding maps an empty string to EncodingMapbox and rejects unknown names.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case "", EncodingMapbox:
		return EncodingMapbox, nil
	case EncodingTerrarium:
		return EncodingTerrarium, nil
	}
	return "", fmt.Errorf("%q is not a valid encoding type, valid types include \"mapbox\" and \"terrarium\"", s)
}

func (e Encoding) unpack(r, g, b uint8) float32 {
	if e == EncodingTerrarium {
		return float32(float64(r)*256+float64(g)+float64(b)/256) - 32768
	}
	return float32((float64(r)*256*256+float64(g)*256+float64(b))/10 - 10000)
}

// Data holds the elevation samples of one tile plus a one sample border on every side.
type Data struct {
	Dim      int
	Stride   int
	Encoding Encoding
	samples  []float32
}

// Decode decodes a PNG, JPEG or WebP image and unpacks its elevation.
func Decode(buf []byte, encoding Encoding) (*Data, error) {
	img, _, err := image.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	return New(img, encoding)
}

// New unpacks img. The border is filled from the nearest edge sample until
// BackfillBorder supplies the neighbours' values.
func New(img image.Image, encoding Encoding) (*Data, error) {
	b := img.Bounds()
	if b.Dx() != b.Dy() {
		return nil, ErrNotSquare
	}
	if b.Dx() == 0 {
		return nil, errors.New("DEM tile is empty")
	}

	rgba, ok := img.(*image.NRGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) {
		rgba = image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}

	dim := b.Dx()
	d := &Data{
		Dim:      dim,
		Stride:   dim + 2,
		Encoding: encoding,
		samples:  make([]float32, (dim+2)*(dim+2)),
	}
	for y := 0; y < dim; y++ {
		for x := 0; x < dim; x++ {
			j := rgba.PixOffset(x, y)
			d.set(x, y, encoding.unpack(rgba.Pix[j], rgba.Pix[j+1], rgba.Pix[j+2]))
		}
	}

	for x := 0; x < dim; x++ {
		d.set(-1, x, d.Get(0, x))
		d.set(dim, x, d.Get(dim-1, x))
		d.set(x, -1, d.Get(x, 0))
		d.set(x, dim, d.Get(x, dim-1))
	}
	d.set(-1, -1, d.Get(0, 0))
	d.set(dim, -1, d.Get(dim-1, 0))
	d.set(-1, dim, d.Get(0, dim-1))
	d.set(dim, dim, d.Get(dim-1, dim-1))
	return d, nil
}

func (d *Data) idx(x, y int) int {
	if x < -1 || x >= d.Dim+1 || y < -1 || y >= d.Dim+1 {
		panic(fmt.Sprintf("dem: sample (%d, %d) out of range for dim %d", x, y, d.Dim))
	}
	return (y+1)*d.Stride + (x + 1)
}

func (d *Data) set(x, y int, v float32) { d.samples[d.idx(x, y)] = v }

// Get returns the elevation in meters at x, y. Both range over -1..Dim.
func (d *Data) Get(x, y int) float32 { return d.samples[d.idx(x, y)] }

// BackfillBorder copies the edge of a neighbouring tile into the border.
// dx and dy are the neighbour's offset, each in -1..1.
func (d *Data) BackfillBorder(border *Data, dx, dy int) error {
	if dx < -1 || dx > 1 || dy < -1 || dy > 1 || (dx == 0 && dy == 0) {
		return fmt.Errorf("dem: invalid neighbour offset (%d, %d)", dx, dy)
	}
	if border.Dim != d.Dim {
		return fmt.Errorf("dem: cannot backfill dim %d from dim %d", d.Dim, border.Dim)
	}
	xMin, xMax := dx*d.Dim, dx*d.Dim+d.Dim
	yMin, yMax := dy*d.Dim, dy*d.Dim+d.Dim
	switch dx {
	case -1:
		xMin = xMax - 1
	case 1:
		xMax = xMin + 1
	}
	switch dy {
	case -1:
		yMin = yMax - 1
	case 1:
		yMax = yMin + 1
	}
	ox, oy := -dx*d.Dim, -dy*d.Dim
	for y := yMin; y < yMax; y++ {
		for x := xMin; x < xMax; x++ {
			d.set(x, y, border.Get(x+ox, y+oy))
		}
	}
	return nil
}

// MinMax returns the elevation range of the tile itself, border excluded.
func (d *Data) MinMax() (lo, hi float32) {
	lo, hi = math.MaxFloat32, -math.MaxFloat32
	for y := 0; y < d.Dim; y++ {
		for x := 0; x < d.Dim; x++ {
			v := d.Get(x, y)
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}
	return lo, hi
}
