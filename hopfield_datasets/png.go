package hopfield_datasets

import (
	"image"
	"image/color"
	"image/png"
	"io"

	"github.com/pkg/errors"

	"hopfield_recall/hopfield_core"
)

// ReadPatternPNG decodes an image and binarises its grey levels.
func ReadPatternPNG(r io.Reader) (hopfield_core.Grid, error) {
	img, err := png.Decode(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode png")
	}
	bounds := img.Bounds()
	grey := GreyImage{Width: bounds.Dx(), Height: bounds.Dy(), Pixels: make([]byte, bounds.Dx()*bounds.Dy())}
	for y := 0; y < grey.Height; y++ {
		for x := 0; x < grey.Width; x++ {
			g := color.GrayModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray)
			grey.Pixels[y*grey.Width+x] = g.Y
		}
	}
	return Binarize(grey), nil
}

// WritePatternPNG encodes +1 as white and -1 as black.
func WritePatternPNG(w io.Writer, grid hopfield_core.Grid) error {
	height, width := grid.Shape()
	if height == 0 || width == 0 {
		return errors.Wrap(hopfield_core.ErrInvalidInput, "empty grid")
	}
	img := image.NewGray(image.Rect(0, 0, width, height))
	for y, row := range grid {
		if len(row) != width {
			return errors.Wrapf(hopfield_core.ErrInvalidInput, "row %d has %d pixels, want %d", y, len(row), width)
		}
		for x, v := range row {
			switch v {
			case 1:
				img.SetGray(x, y, color.Gray{Y: 255})
			case -1:
				img.SetGray(x, y, color.Gray{Y: 0})
			default:
				return errors.Wrapf(hopfield_core.ErrInvalidInput, "pixel (%d,%d) = %d", x, y, v)
			}
		}
	}
	return errors.Wrap(png.Encode(w, img), "failed to encode png")
}
