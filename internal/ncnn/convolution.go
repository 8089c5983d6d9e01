package ncnn

import (
	"github.com/pkg/errors"

	"github.com/born-ml/ncnnbridge/internal/parallel"
)

// Convolution is a 2-D convolution over a 3-D (w, h, c) bottom blob.
//
// Params: 0 num_output, 1 kernel_w, 11 kernel_h, 2 dilation_w, 12 dilation_h,
// 3 stride_w, 13 stride_h, 4 pad_left, 14 pad_top, 15 pad_right, 16 pad_bottom,
// 5 bias_term, 6 weight_data_size, 9 activation_type, 10 activation_params.
// Unset *_h params default to their *_w counterpart; pad_right defaults to
// pad_left and pad_bottom to pad_top. Weight layout is [out][in][kh][kw].
type Convolution struct {
	numOutput            int
	kernelW, kernelH     int
	dilationW, dilationH int
	strideW, strideH     int
	padLeft, padRight    int
	padTop, padBottom    int
	biasTerm             bool
	weightDataSize       int
	act                  activation

	weight Mat
	bias   Mat
	ready  bool

	col []float32 // im2col scratch kept between calls outside light mode
}

// Type implements Layer.
func (l *Convolution) Type() string { return "Convolution" }

// LoadParam implements Layer.
func (l *Convolution) LoadParam(pd *ParamDict) error {
	l.numOutput = pd.GetInt(0, 0)
	l.kernelW = pd.GetInt(1, 0)
	l.kernelH = pd.GetInt(11, l.kernelW)
	l.dilationW = pd.GetInt(2, 1)
	l.dilationH = pd.GetInt(12, l.dilationW)
	l.strideW = pd.GetInt(3, 1)
	l.strideH = pd.GetInt(13, l.strideW)
	l.padLeft = pd.GetInt(4, 0)
	l.padTop = pd.GetInt(14, l.padLeft)
	l.padRight = pd.GetInt(15, l.padLeft)
	l.padBottom = pd.GetInt(16, l.padTop)
	l.biasTerm = pd.GetInt(5, 0) != 0
	l.weightDataSize = pd.GetInt(6, 0)

	switch {
	case l.numOutput <= 0:
		return errors.Errorf("convolution: num_output %d", l.numOutput)
	case l.kernelW <= 0 || l.kernelH <= 0:
		return errors.Errorf("convolution: kernel %dx%d", l.kernelW, l.kernelH)
	case l.strideW <= 0 || l.strideH <= 0 || l.dilationW <= 0 || l.dilationH <= 0:
		return errors.Errorf("convolution: stride %dx%d dilation %dx%d", l.strideW, l.strideH, l.dilationW, l.dilationH)
	case l.padLeft < 0 || l.padRight < 0 || l.padTop < 0 || l.padBottom < 0:
		return errors.New("convolution: negative padding")
	}
	if l.weightDataSize <= 0 || l.weightDataSize%(l.numOutput*l.kernelW*l.kernelH) != 0 {
		return errors.Errorf("convolution: weight_data_size %d does not divide into %d filters of %dx%d",
			l.weightDataSize, l.numOutput, l.kernelH, l.kernelW)
	}

	act, err := loadActivation(pd, 9, 10)
	if err != nil {
		return errors.Wrap(err, "convolution")
	}
	l.act = act
	return nil
}

// LoadModel implements Layer.
func (l *Convolution) LoadModel(mb ModelBin) error {
	w, err := mb.Load(l.weightDataSize, 0)
	if err != nil {
		return errors.Wrap(err, "convolution weight")
	}
	l.weight = w
	if l.biasTerm {
		b, err := mb.Load(l.numOutput, 1)
		if err != nil {
			return errors.Wrap(err, "convolution bias")
		}
		l.bias = b
	}
	return nil
}

// CreatePipeline implements Layer.
func (l *Convolution) CreatePipeline(_ Option) error {
	if l.weight.Elements() != l.weightDataSize {
		return errors.Wrap(ErrPipelineNotReady, "convolution weights not loaded")
	}
	l.weight = contiguous(l.weight)
	l.bias = contiguous(l.bias)
	l.ready = true
	return nil
}

// OutputSize returns the spatial output size for a w x h input.
func (l *Convolution) OutputSize(w, h int) (outW, outH int) {
	extentW := l.dilationW*(l.kernelW-1) + 1
	extentH := l.dilationH*(l.kernelH-1) + 1
	outW = (w+l.padLeft+l.padRight-extentW)/l.strideW + 1
	outH = (h+l.padTop+l.padBottom-extentH)/l.strideH + 1
	return outW, outH
}

// Forward implements Layer. The bottom is unrolled with im2col and each output
// channel is one dot product per output position; channels are split across
// opt.NumThreads workers.
func (l *Convolution) Forward(bottom, top *Mat, opt Option) error {
	if !l.ready {
		return ErrPipelineNotReady
	}
	if bottom.Dims != 3 {
		return errors.Wrapf(ErrBlobShapeMismatch, "convolution needs a 3-D bottom, got %s", bottom.ShapeString())
	}
	channels := l.weightDataSize / (l.numOutput * l.kernelW * l.kernelH)
	if bottom.C != channels {
		return errors.Wrapf(ErrBlobShapeMismatch, "convolution expects %d channels, got %d", channels, bottom.C)
	}
	outW, outH := l.OutputSize(bottom.W, bottom.H)
	if outW <= 0 || outH <= 0 {
		return errors.Wrapf(ErrBlobShapeMismatch, "convolution output %dx%d from %s", outW, outH, bottom.ShapeString())
	}

	colWidth := channels * l.kernelH * l.kernelW
	positions := outW * outH
	col := l.scratch(positions*colWidth, opt.LightMode)
	l.im2col(col, bottom, outW, outH)

	top.Create3D(outW, outH, l.numOutput)
	weight := l.weight.Data
	parallel.For(l.numOutput, func(p int) {
		w := weight[p*colWidth : (p+1)*colWidth]
		var bias float32
		if l.biasTerm {
			bias = l.bias.Data[p]
		}
		out := top.Channel(p)
		for j := 0; j < positions; j++ {
			patch := col[j*colWidth : (j+1)*colWidth]
			sum := bias
			for k, v := range patch {
				sum += w[k] * v
			}
			out[j] = l.act.apply(sum)
		}
	}, parallel.WithThreads(opt.NumThreads))
	return nil
}

// scratch returns an n-element im2col buffer. Light mode allocates per call and
// releases any retained buffer; otherwise the buffer is kept and grown on demand.
func (l *Convolution) scratch(n int, light bool) []float32 {
	if light {
		l.col = nil
		return make([]float32, n)
	}
	if cap(l.col) < n {
		l.col = make([]float32, n)
	}
	l.col = l.col[:n]
	return l.col
}

// im2col writes one row of channels*kh*kw values per output position. Taps that
// fall in the padding read as zero.
func (l *Convolution) im2col(col []float32, bottom *Mat, outW, outH int) {
	idx := 0
	for oy := 0; oy < outH; oy++ {
		for ox := 0; ox < outW; ox++ {
			y0 := oy*l.strideH - l.padTop
			x0 := ox*l.strideW - l.padLeft
			for q := 0; q < bottom.C; q++ {
				plane := bottom.Channel(q)
				for ky := 0; ky < l.kernelH; ky++ {
					y := y0 + ky*l.dilationH
					for kx := 0; kx < l.kernelW; kx++ {
						x := x0 + kx*l.dilationW
						if y >= 0 && y < bottom.H && x >= 0 && x < bottom.W {
							col[idx] = plane[y*bottom.W+x]
						} else {
							col[idx] = 0
						}
						idx++
					}
				}
			}
		}
	}
}
