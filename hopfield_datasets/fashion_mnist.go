// Package hopfield_datasets turns external images into bipolar pattern grids.
package hopfield_datasets

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"hopfield_recall/hopfield_core"
)

const (
	SplitTest  = "t10k"
	SplitTrain = "train"

	imagesMagic = 0x00000803
	// maxImageSide bounds the rows and columns read from an idx header.
	maxImageSide = 4096

	// BinarizeThreshold is the lowest grey level mapped to +1.
	BinarizeThreshold = 128
)

// GreyImage is one decoded 8-bit image, row-major.
type GreyImage struct {
	Width  int
	Height int
	Pixels []byte
}

func (img GreyImage) At(x, y int) byte {
	return img.Pixels[y*img.Width+x]
}

// LoadFashionMNIST reads the first count images of <dir>/<split>-images-idx3-ubyte.gz
// and returns them resized to width x height and binarised.
func LoadFashionMNIST(dir, split string, count, width, height int) ([]hopfield_core.Grid, error) {
	if split != SplitTest && split != SplitTrain {
		return nil, errors.Wrapf(hopfield_core.ErrInvalidInput, "unknown split %q", split)
	}
	if count < 1 || width < 1 || height < 1 {
		return nil, errors.Wrapf(hopfield_core.ErrInvalidInput, "count %d, size %dx%d", count, width, height)
	}

	name := filepath.Join(dir, fmt.Sprintf("%s-images-idx3-ubyte.gz", split))
	f, err := os.Open(name)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open %s", name)
	}
	defer f.Close()

	gzipReader, err := gzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "gzip file %s", name)
	}
	defer gzipReader.Close()

	images, err := DecodeImages(bufio.NewReader(gzipReader), count)
	if err != nil {
		return nil, errors.Wrap(err, name)
	}

	grids := make([]hopfield_core.Grid, len(images))
	for i, img := range images {
		grids[i] = Binarize(ResizeNearest(img, width, height))
	}
	return grids, nil
}

// DecodeImages parses an idx3 image stream and returns at most limit images;
// limit < 1 reads them all.
func DecodeImages(r io.Reader, limit int) ([]GreyImage, error) {
	var header [4]uint32
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrap(err, "idx header")
	}
	magic, total, rows, cols := header[0], int(header[1]), int(header[2]), int(header[3])
	if magic != imagesMagic {
		return nil, errors.Wrapf(hopfield_core.ErrInvalidInput, "idx magic %#08x, want %#08x", magic, imagesMagic)
	}
	if rows < 1 || cols < 1 || rows > maxImageSide || cols > maxImageSide {
		return nil, errors.Wrapf(hopfield_core.ErrInvalidInput, "idx image size %dx%d", rows, cols)
	}
	if limit < 1 || limit > total {
		limit = total
	}

	// the header count is untrusted; grow as images actually arrive
	var images []GreyImage
	for i := 0; i < limit; i++ {
		pixels := make([]byte, rows*cols)
		if _, err := io.ReadFull(r, pixels); err != nil {
			return nil, errors.Wrapf(err, "image %d", i)
		}
		images = append(images, GreyImage{Width: cols, Height: rows, Pixels: pixels})
	}
	return images, nil
}

// ResizeNearest samples the source pixel whose centre is closest to each
// destination pixel centre.
func ResizeNearest(img GreyImage, width, height int) GreyImage {
	out := GreyImage{Width: width, Height: height, Pixels: make([]byte, width*height)}
	for y := 0; y < height; y++ {
		sy := (2*y + 1) * img.Height / (2 * height)
		for x := 0; x < width; x++ {
			sx := (2*x + 1) * img.Width / (2 * width)
			out.Pixels[y*width+x] = img.At(sx, sy)
		}
	}
	return out
}

// Binarize maps pixels at or above BinarizeThreshold to +1 and the rest to -1.
func Binarize(img GreyImage) hopfield_core.Grid {
	grid := make(hopfield_core.Grid, img.Height)
	for y := range grid {
		grid[y] = make([]int, img.Width)
		for x := range grid[y] {
			if img.At(x, y) >= BinarizeThreshold {
				grid[y][x] = 1
			} else {
				grid[y][x] = -1
			}
		}
	}
	return grid
}
