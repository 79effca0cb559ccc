package imageprep

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"

	"gondigits/mnist"
)

// shades maps intensity to characters, background first.
const shades = " .:-=+*#%@"

// Render draws a normalized 784-value vector as 28 lines of text.
func Render(w io.Writer, v []float64) error {
	if len(v) != mnist.ImageSize {
		return errors.Errorf("cannot render %d values as %dx%d", len(v), mnist.ImgSize, mnist.ImgSize)
	}
	var sb strings.Builder
	for y := 0; y < mnist.ImgSize; y++ {
		for x := 0; x < mnist.ImgSize; x++ {
			i := int(v[y*mnist.ImgSize+x] * float64(len(shades)-1))
			if i < 0 {
				i = 0
			} else if i >= len(shades) {
				i = len(shades) - 1
			}
			sb.WriteByte(shades[i])
		}
		sb.WriteByte('\n')
	}
	_, err := fmt.Fprint(w, sb.String())
	return err
}

// SavePNG writes v as a 28×28 image, dark ink on a light background.
func SavePNG(path string, v []float64) error {
	if len(v) != mnist.ImageSize {
		return errors.Errorf("cannot save %d values as %dx%d", len(v), mnist.ImgSize, mnist.ImgSize)
	}
	img := image.NewGray(image.Rect(0, 0, mnist.ImgSize, mnist.ImgSize))
	for y := 0; y < mnist.ImgSize; y++ {
		for x := 0; x < mnist.ImgSize; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(255 - v[y*mnist.ImgSize+x]*255)})
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create preview")
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return errors.Wrap(err, "encode preview")
	}
	return errors.Wrap(file.Close(), "close preview")
}
