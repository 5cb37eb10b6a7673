package tensor

import (
	"fmt"
	"math"
)

// ArgmaxChannel reduces an NCHW tensor to an NHW map of per-pixel channel
// indices, together with the winning value.
func ArgmaxChannel(x *Dense) (*Ints, *Dense, error) {
	if len(x.Shape) != 4 {
		return nil, nil, fmt.Errorf("tensor: argmax wants NCHW, got shape %v", x.Shape)
	}
	n, c, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	idx := NewInts(n, h, w)
	val := NewDense(n, h, w)
	hw := h * w
	for b := 0; b < n; b++ {
		base := b * c * hw
		for p := 0; p < hw; p++ {
			best := x.Data[base+p]
			bestC := 0
			for k := 1; k < c; k++ {
				v := x.Data[base+k*hw+p]
				if v > best {
					best = v
					bestC = k
				}
			}
			idx.Data[b*hw+p] = int32(bestC)
			val.Data[b*hw+p] = best
		}
	}
	return idx, val, nil
}

// SoftmaxChannel returns per-pixel softmax over the channel axis of an NCHW
// tensor. The input is left untouched.
func SoftmaxChannel(x *Dense) (*Dense, error) {
	if len(x.Shape) != 4 {
		return nil, fmt.Errorf("tensor: softmax wants NCHW, got shape %v", x.Shape)
	}
	n, c, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	out := NewDense(x.Shape...)
	hw := h * w
	for b := 0; b < n; b++ {
		base := b * c * hw
		for p := 0; p < hw; p++ {
			max := x.Data[base+p]
			for k := 1; k < c; k++ {
				if v := x.Data[base+k*hw+p]; v > max {
					max = v
				}
			}
			var sum float64
			for k := 0; k < c; k++ {
				e := math.Exp(float64(x.Data[base+k*hw+p] - max))
				out.Data[base+k*hw+p] = float32(e)
				sum += e
			}
			inv := float32(1 / sum)
			for k := 0; k < c; k++ {
				out.Data[base+k*hw+p] *= inv
			}
		}
	}
	return out, nil
}

// AvgPool2D downsamples an NCHW tensor by an integer stride using mean
// pooling. Trailing rows/columns that do not fill a window are dropped.
func AvgPool2D(x *Dense, stride int) (*Dense, error) {
	if len(x.Shape) != 4 {
		return nil, fmt.Errorf("tensor: avg-pool wants NCHW, got shape %v", x.Shape)
	}
	if stride < 1 {
		return nil, fmt.Errorf("tensor: avg-pool stride %d", stride)
	}
	n, c, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	oh, ow := h/stride, w/stride
	out := NewDense(n, c, oh, ow)
	norm := float32(1) / float32(stride*stride)
	for b := 0; b < n; b++ {
		for k := 0; k < c; k++ {
			in := x.Data[(b*c+k)*h*w:]
			dst := out.Data[(b*c+k)*oh*ow:]
			for oy := 0; oy < oh; oy++ {
				for ox := 0; ox < ow; ox++ {
					var s float32
					for dy := 0; dy < stride; dy++ {
						row := (oy*stride + dy) * w
						for dx := 0; dx < stride; dx++ {
							s += in[row+ox*stride+dx]
						}
					}
					dst[oy*ow+ox] = s * norm
				}
			}
		}
	}
	return out, nil
}

// AvgPool2DBackward scatters the pooled gradient evenly over each window and
// accumulates into dx, which must have the pre-pool shape.
func AvgPool2DBackward(dy *Dense, dx *Dense, stride int) error {
	n, c, oh, ow := dy.Shape[0], dy.Shape[1], dy.Shape[2], dy.Shape[3]
	h, w := dx.Shape[2], dx.Shape[3]
	if dx.Shape[0] != n || dx.Shape[1] != c || oh != h/stride || ow != w/stride {
		return fmt.Errorf("tensor: avg-pool backward shape mismatch %v -> %v stride %d", dy.Shape, dx.Shape, stride)
	}
	norm := float32(1) / float32(stride*stride)
	for b := 0; b < n; b++ {
		for k := 0; k < c; k++ {
			src := dy.Data[(b*c+k)*oh*ow:]
			dst := dx.Data[(b*c+k)*h*w:]
			for oy := 0; oy < oh; oy++ {
				for ox := 0; ox < ow; ox++ {
					g := src[oy*ow+ox] * norm
					for dyy := 0; dyy < stride; dyy++ {
						row := (oy*stride + dyy) * w
						for dxx := 0; dxx < stride; dxx++ {
							dst[row+ox*stride+dxx] += g
						}
					}
				}
			}
		}
	}
	return nil
}

// UpsampleNearest resizes an NCHW tensor to the target height/width with
// nearest-neighbor sampling.
func UpsampleNearest(x *Dense, outH, outW int) (*Dense, error) {
	if len(x.Shape) != 4 {
		return nil, fmt.Errorf("tensor: upsample wants NCHW, got shape %v", x.Shape)
	}
	n, c, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	out := NewDense(n, c, outH, outW)
	for b := 0; b < n; b++ {
		for k := 0; k < c; k++ {
			src := x.Data[(b*c+k)*h*w:]
			dst := out.Data[(b*c+k)*outH*outW:]
			for y := 0; y < outH; y++ {
				sy := y * h / outH
				for xx := 0; xx < outW; xx++ {
					sx := xx * w / outW
					dst[y*outW+xx] = src[sy*w+sx]
				}
			}
		}
	}
	return out, nil
}

// UpsampleNearestBackward folds the upsampled gradient back onto the source
// grid, accumulating into dx.
func UpsampleNearestBackward(dy *Dense, dx *Dense) error {
	n, c, oh, ow := dy.Shape[0], dy.Shape[1], dy.Shape[2], dy.Shape[3]
	h, w := dx.Shape[2], dx.Shape[3]
	if dx.Shape[0] != n || dx.Shape[1] != c {
		return fmt.Errorf("tensor: upsample backward shape mismatch %v -> %v", dy.Shape, dx.Shape)
	}
	for b := 0; b < n; b++ {
		for k := 0; k < c; k++ {
			src := dy.Data[(b*c+k)*oh*ow:]
			dst := dx.Data[(b*c+k)*h*w:]
			for y := 0; y < oh; y++ {
				sy := y * h / oh
				for xx := 0; xx < ow; xx++ {
					sx := xx * w / ow
					dst[sy*w+sx] += src[y*ow+xx]
				}
			}
		}
	}
	return nil
}

// ConcatChannels stacks NCHW tensors along the channel axis. All inputs must
// agree on batch and spatial dimensions.
func ConcatChannels(parts ...*Dense) (*Dense, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("tensor: concat of zero tensors")
	}
	n, h, w := parts[0].Shape[0], parts[0].Shape[2], parts[0].Shape[3]
	total := 0
	for _, p := range parts {
		if len(p.Shape) != 4 || p.Shape[0] != n || p.Shape[2] != h || p.Shape[3] != w {
			return nil, fmt.Errorf("tensor: concat shape mismatch %v", p.Shape)
		}
		total += p.Shape[1]
	}
	out := NewDense(n, total, h, w)
	hw := h * w
	for b := 0; b < n; b++ {
		off := 0
		for _, p := range parts {
			c := p.Shape[1]
			copy(out.Data[(b*total+off)*hw:(b*total+off+c)*hw], p.Data[b*c*hw:(b+1)*c*hw])
			off += c
		}
	}
	return out, nil
}

// SplitChannels is the inverse of ConcatChannels: it copies the channel
// gradient back into per-part tensors of the given channel widths.
func SplitChannels(dy *Dense, widths ...int) ([]*Dense, error) {
	n, c, h, w := dy.Shape[0], dy.Shape[1], dy.Shape[2], dy.Shape[3]
	total := 0
	for _, cw := range widths {
		total += cw
	}
	if total != c {
		return nil, fmt.Errorf("tensor: split widths %v do not cover %d channels", widths, c)
	}
	hw := h * w
	out := make([]*Dense, len(widths))
	for i, cw := range widths {
		out[i] = NewDense(n, cw, h, w)
	}
	for b := 0; b < n; b++ {
		off := 0
		for i, cw := range widths {
			copy(out[i].Data[b*cw*hw:(b+1)*cw*hw], dy.Data[(b*c+off)*hw:(b*c+off+cw)*hw])
			off += cw
		}
	}
	return out, nil
}
