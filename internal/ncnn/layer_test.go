package ncnn

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildLayer(t *testing.T, typ string, pd *ParamDict, opt Option, weights ...Mat) Layer {
	t.Helper()
	l, err := CreateLayer(typ)
	require.NoError(t, err)
	require.NoError(t, l.LoadParam(pd))
	require.NoError(t, l.LoadModel(ModelBinFromMats(weights...)))
	require.NoError(t, l.CreatePipeline(opt))
	return l
}

func vec(values ...float32) Mat {
	m := NewMat1D(len(values))
	copy(m.Data, values)
	return m
}

func TestCreateLayer(t *testing.T) {
	assert.Equal(t, []string{"Convolution", "InnerProduct", "Reshape"}, LayerTypes())

	l, err := CreateLayer("InnerProduct")
	require.NoError(t, err)
	assert.Equal(t, "InnerProduct", l.Type())

	_, err = CreateLayer("Softmax")
	assert.ErrorIs(t, err, ErrUnknownLayer)
}

func TestInnerProductBatchRows(t *testing.T) {
	pd := NewParamDict()
	pd.Set(0, 2)
	pd.Set(1, 1)
	pd.Set(2, 6)
	pd.Set(9, ActivationReLU)

	opt := Option{NumThreads: 2}
	l := buildLayer(t, "InnerProduct", pd, opt,
		vec(1, 2, 3, -1, -2, -3),
		vec(0.5, 1))

	bottom := NewMat2D(3, 2)
	bottom.SetFlat([]float32{1, 1, 1, 2, 0, 1})
	var top Mat
	require.NoError(t, l.Forward(&bottom, &top, opt))

	assert.Equal(t, 2, top.Dims)
	assert.Equal(t, 2, top.W)
	assert.Equal(t, 2, top.H)
	// row 0: [6.5, -5] -> relu; row 1: [5.5, -4] -> relu
	assert.Equal(t, []float32{6.5, 0, 5.5, 0}, top.Flatten())
}

func TestInnerProductFlattensBottom(t *testing.T) {
	pd := NewParamDict()
	pd.Set(0, 1)
	pd.Set(2, 8)
	l := buildLayer(t, "InnerProduct", pd, DefaultOption(), vec(1, 1, 1, 1, 1, 1, 1, 1))

	bottom := NewMat3D(2, 2, 2)
	bottom.SetFlat([]float32{1, 2, 3, 4, 5, 6, 7, 8})
	var top Mat
	require.NoError(t, l.Forward(&bottom, &top, DefaultOption()))
	assert.Equal(t, 1, top.Dims)
	assert.Equal(t, []float32{36}, top.Flatten())

	wrong := NewMat1D(3)
	assert.ErrorIs(t, l.Forward(&wrong, &top, DefaultOption()), ErrBlobShapeMismatch)
}

func TestInnerProductErrors(t *testing.T) {
	pd := NewParamDict()
	pd.Set(0, 3)
	pd.Set(2, 7)
	l := &InnerProduct{}
	assert.Error(t, l.LoadParam(pd))

	pd.Set(2, 6)
	pd.Set(1, 1)
	require.NoError(t, l.LoadParam(pd))
	assert.ErrorIs(t, l.LoadModel(ModelBinFromMats(vec(1, 2, 3, 4, 5, 6))), ErrModelBinExhausted)

	var top Mat
	bottom := vec(1, 2)
	assert.ErrorIs(t, (&InnerProduct{}).Forward(&bottom, &top, DefaultOption()), ErrPipelineNotReady)

	pd.Set(9, 42)
	assert.Error(t, l.LoadParam(pd))
}

// naiveConv is a direct NCHW reference with separate per-axis params.
func naiveConv(in []float32, c, h, w int, weight, bias []float32, out, kh, kw, sh, sw, dh, dw, pt, pl, pb, pr int) ([]float32, int, int) {
	oh := (h+pt+pb-(dh*(kh-1)+1))/sh + 1
	ow := (w+pl+pr-(dw*(kw-1)+1))/sw + 1
	res := make([]float32, out*oh*ow)
	for o := 0; o < out; o++ {
		for y := 0; y < oh; y++ {
			for x := 0; x < ow; x++ {
				var sum float32
				if bias != nil {
					sum = bias[o]
				}
				for q := 0; q < c; q++ {
					for ky := 0; ky < kh; ky++ {
						for kx := 0; kx < kw; kx++ {
							iy := y*sh - pt + ky*dh
							ix := x*sw - pl + kx*dw
							if iy < 0 || iy >= h || ix < 0 || ix >= w {
								continue
							}
							sum += in[q*h*w+iy*w+ix] * weight[((o*c+q)*kh+ky)*kw+kx]
						}
					}
				}
				res[(o*oh+y)*ow+x] = sum
			}
		}
	}
	return res, oh, ow
}

func randomValues(r *rand.Rand, n int) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = r.Float32()*2 - 1
	}
	return v
}

func TestConvolutionMatchesReference(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	const (
		c, h, w  = 3, 7, 6
		out      = 4
		kh, kw   = 3, 2
		sh, sw   = 2, 1
		dh, dw   = 1, 2
		pt, pl   = 1, 0
		pb, pr   = 2, 1
		nWeights = out * c * kh * kw
	)
	in := randomValues(r, c*h*w)
	weight := randomValues(r, nWeights)
	bias := randomValues(r, out)

	pd := NewParamDict()
	pd.Set(0, out)
	pd.Set(1, kw)
	pd.Set(11, kh)
	pd.Set(2, dw)
	pd.Set(12, dh)
	pd.Set(3, sw)
	pd.Set(13, sh)
	pd.Set(4, pl)
	pd.Set(14, pt)
	pd.Set(15, pr)
	pd.Set(16, pb)
	pd.Set(5, 1)
	pd.Set(6, nWeights)

	opt := Option{NumThreads: 3}
	l := buildLayer(t, "Convolution", pd, opt, vec(weight...), vec(bias...))

	bottom := NewMat3D(w, h, c)
	bottom.SetFlat(in)
	var top Mat
	require.NoError(t, l.Forward(&bottom, &top, opt))

	want, oh, ow := naiveConv(in, c, h, w, weight, bias, out, kh, kw, sh, sw, dh, dw, pt, pl, pb, pr)
	require.Equal(t, 3, top.Dims)
	require.Equal(t, ow, top.W)
	require.Equal(t, oh, top.H)
	require.Equal(t, out, top.C)
	assert.InDeltaSlice(t, want, top.Flatten(), 1e-5)
}

func TestConvolutionSymmetricDefaultsAndRelu(t *testing.T) {
	pd := NewParamDict()
	pd.Set(0, 1)
	pd.Set(1, 3)
	pd.Set(4, 1)
	pd.Set(6, 9)
	pd.Set(9, ActivationReLU)

	l := buildLayer(t, "Convolution", pd, DefaultOption(), vec(-1, -1, -1, -1, -1, -1, -1, -1, -1))
	conv := l.(*Convolution)
	ow, oh := conv.OutputSize(4, 4)
	assert.Equal(t, 4, ow)
	assert.Equal(t, 4, oh)

	bottom := NewMat3D(4, 4, 1)
	bottom.Fill(1)
	var top Mat
	require.NoError(t, l.Forward(&bottom, &top, DefaultOption()))
	for _, v := range top.Flatten() {
		assert.Equal(t, float32(0), v)
	}

	flat := NewMat2D(4, 4)
	assert.ErrorIs(t, l.Forward(&flat, &top, DefaultOption()), ErrBlobShapeMismatch)
}

func TestConvolutionScratchReuse(t *testing.T) {
	pd := NewParamDict()
	pd.Set(0, 2)
	pd.Set(1, 3)
	pd.Set(4, 1)
	pd.Set(6, 18)

	r := rand.New(rand.NewSource(3))
	weights := vec(randomValues(r, 18)...)
	keep := Option{NumThreads: 2, LightMode: false}
	light := Option{NumThreads: 2, LightMode: true}

	reused := buildLayer(t, "Convolution", pd, keep, weights).(*Convolution)
	fresh := buildLayer(t, "Convolution", pd, light, weights).(*Convolution)

	run := func(l *Convolution, opt Option, bottom Mat) []float32 {
		var top Mat
		require.NoError(t, l.Forward(&bottom, &top, opt))
		return top.Flatten()
	}

	big := NewMat3D(4, 4, 1)
	copy(big.Data, randomValues(r, 16))
	small := NewMat3D(3, 3, 1)
	copy(small.Data, randomValues(r, 9))

	assert.Equal(t, run(fresh, light, big), run(reused, keep, big))
	require.Len(t, reused.col, 16*9)
	first := &reused.col[0]
	assert.Nil(t, fresh.col)

	// a smaller bottom reuses the retained buffer
	assert.Equal(t, run(fresh, light, small), run(reused, keep, small))
	require.Len(t, reused.col, 9*9)
	assert.Same(t, first, &reused.col[0])

	assert.Equal(t, run(fresh, light, big), run(reused, keep, big))
	assert.Same(t, first, &reused.col[0])

	run(reused, light, big)
	assert.Nil(t, reused.col)
}

func TestReshape(t *testing.T) {
	tests := []struct {
		name    string
		params  map[int]int
		dims    int
		w, h, c int
	}{
		{"flatten", map[int]int{0: -1}, 1, 12, 1, 1},
		{"2d", map[int]int{0: 4, 1: -1}, 2, 4, 3, 1},
		{"3d copy", map[int]int{0: 0, 1: 3, 2: 2}, 3, 2, 3, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pd := NewParamDict()
			for id, v := range tt.params {
				pd.Set(id, v)
			}
			l := buildLayer(t, "Reshape", pd, DefaultOption())

			bottom := NewMat3D(2, 2, 3)
			values := make([]float32, 12)
			for i := range values {
				values[i] = float32(i)
			}
			bottom.SetFlat(values)

			var top Mat
			require.NoError(t, l.Forward(&bottom, &top, DefaultOption()))
			assert.Equal(t, tt.dims, top.Dims)
			assert.Equal(t, []int{tt.w, tt.h, tt.c}, []int{top.W, top.H, top.C})
			assert.Equal(t, values, top.Flatten())
		})
	}
}

func TestReshapeErrors(t *testing.T) {
	l := &Reshape{}
	assert.Error(t, l.LoadParam(NewParamDict()))

	pd := NewParamDict()
	pd.Set(0, -1)
	pd.Set(1, -1)
	assert.Error(t, l.LoadParam(pd))

	pd.Set(0, 5)
	pd.Set(1, 5)
	require.NoError(t, l.LoadParam(pd))
	bottom := NewMat1D(12)
	var top Mat
	assert.ErrorIs(t, l.Forward(&bottom, &top, DefaultOption()), ErrBlobShapeMismatch)
}

func TestActivations(t *testing.T) {
	tests := []struct {
		typ    int
		params []float32
		in     float32
		want   float32
	}{
		{ActivationNone, nil, -2, -2},
		{ActivationReLU, nil, -2, 0},
		{ActivationReLU, nil, 3, 3},
		{ActivationLeakyReLU, []float32{0.1}, -2, -0.2},
		{ActivationClip, []float32{0, 6}, 9, 6},
		{ActivationClip, []float32{0, 6}, -1, 0},
		{ActivationSigmoid, nil, 0, 0.5},
	}
	for _, tt := range tests {
		pd := NewParamDict()
		pd.Set(9, tt.typ)
		if tt.params != nil {
			pd.SetFloats(10, tt.params)
		}
		a, err := loadActivation(pd, 9, 10)
		require.NoError(t, err)
		assert.InDelta(t, tt.want, a.apply(tt.in), 1e-6, "type %d input %v", tt.typ, tt.in)
	}

	pd := NewParamDict()
	pd.Set(9, ActivationClip)
	_, err := loadActivation(pd, 9, 10)
	assert.Error(t, err)

	assert.False(t, math.IsNaN(float64(activation{typ: ActivationSigmoid}.apply(-100))))
}
