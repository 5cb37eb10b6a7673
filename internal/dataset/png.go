package dataset

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/tensor"
)

// LoadImage decodes a PNG into a normalized CHW tensor. Pixels are scaled
// to [0,1] and then shifted by the per-channel mean and std.
func LoadImage(path string, mean, std [3]float32) (*tensor.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: open image: %w", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("dataset: decode image %s: %w", path, err)
	}
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	out := tensor.NewDense(3, h, w)
	plane := h * w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := y*w + x
			out.Data[i] = (float32(r>>8)/255 - mean[0]) / std[0]
			out.Data[plane+i] = (float32(g>>8)/255 - mean[1]) / std[1]
			out.Data[2*plane+i] = (float32(bl>>8)/255 - mean[2]) / std[2]
		}
	}
	return out, nil
}

// LoadLabel decodes a PNG label map into an HW int tensor. Paletted images
// contribute their palette index, grayscale their luma. A non-empty mapping
// rewrites raw ids; unmapped ids become the ignore label.
func LoadLabel(path string, mapping map[int32]int32, ignore int32) (*tensor.Ints, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: open label: %w", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("dataset: decode label %s: %w", path, err)
	}
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	out := tensor.NewInts(h, w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var v int32
			switch m := img.(type) {
			case *image.Paletted:
				v = int32(m.ColorIndexAt(b.Min.X+x, b.Min.Y+y))
			case *image.Gray:
				v = int32(m.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			default:
				r, _, _, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				v = int32(r >> 8)
			}
			if len(mapping) > 0 {
				mapped, ok := mapping[v]
				if !ok {
					mapped = ignore
				}
				v = mapped
			}
			out.Data[y*w+x] = v
		}
	}
	return out, nil
}

// SavePrediction writes an HW class map as an 8-bit grayscale PNG.
func SavePrediction(path string, pred *tensor.Ints) error {
	if len(pred.Shape) != 2 {
		return fmt.Errorf("dataset: prediction must be HW, got %v", pred.Shape)
	}
	h, w := pred.Shape[0], pred.Shape[1]
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := pred.Data[y*w+x]
			if v < 0 {
				v = 0
			}
			if v > 255 {
				v = 255
			}
			img.SetGray(x, y, color.Gray{Y: uint8(v)})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("dataset: create prediction: %w", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("dataset: encode prediction %s: %w", path, err)
	}
	return nil
}
