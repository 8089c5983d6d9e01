// Package ncnn is an in-process CPU inference engine with the layer contract of
// Tencent ncnn: layers are created by type name, configured from a ParamDict, fed
// weights through a ModelBin and run with Forward on channel-planar Mats.
package ncnn

import (
	"fmt"
	"strings"
)

// Mat is a dense float32 blob of up to three dimensions. Elements of channel q
// start at q*Cstep; for 3-D Mats Cstep is padded so that every channel starts on a
// 16-byte boundary.
type Mat struct {
	W, H, C int
	Dims    int
	Cstep   int
	Data    []float32
}

const elemSize = 4

func alignSize(sz, n int) int {
	return (sz + n - 1) &^ (n - 1)
}

// NewMat1D allocates a vector of w elements.
func NewMat1D(w int) Mat {
	var m Mat
	m.Create1D(w)
	return m
}

// NewMat2D allocates an h x w matrix.
func NewMat2D(w, h int) Mat {
	var m Mat
	m.Create2D(w, h)
	return m
}

// NewMat3D allocates c channels of h x w.
func NewMat3D(w, h, c int) Mat {
	var m Mat
	m.Create3D(w, h, c)
	return m
}

// Create1D reshapes m to a vector, reusing the buffer when it is large enough.
func (m *Mat) Create1D(w int) {
	m.create(w, 1, 1, 1, w)
}

// Create2D reshapes m to a matrix, reusing the buffer when it is large enough.
func (m *Mat) Create2D(w, h int) {
	m.create(w, h, 1, 2, w*h)
}

// Create3D reshapes m to c planes, reusing the buffer when it is large enough.
func (m *Mat) Create3D(w, h, c int) {
	m.create(w, h, c, 3, alignSize(w*h*elemSize, 16)/elemSize)
}

func (m *Mat) create(w, h, c, dims, cstep int) {
	m.W, m.H, m.C, m.Dims, m.Cstep = w, h, c, dims, cstep
	total := cstep * c
	if cap(m.Data) >= total {
		m.Data = m.Data[:total]
		clear(m.Data)
		return
	}
	m.Data = make([]float32, total)
}

// Empty reports whether m holds no elements.
func (m *Mat) Empty() bool {
	return m.Dims == 0 || m.W*m.H*m.C == 0
}

// Elements returns the logical element count, excluding channel padding.
func (m *Mat) Elements() int {
	return m.W * m.H * m.C
}

// Channel returns the w*h elements of plane q.
func (m *Mat) Channel(q int) []float32 {
	off := q * m.Cstep
	return m.Data[off : off+m.W*m.H]
}

// Row returns row y of plane 0.
func (m *Mat) Row(y int) []float32 {
	return m.Data[y*m.W : (y+1)*m.W]
}

// Fill sets every logical element to v.
func (m *Mat) Fill(v float32) {
	for q := 0; q < m.C; q++ {
		ch := m.Channel(q)
		for i := range ch {
			ch[i] = v
		}
	}
}

// Flatten returns the logical elements in (c, h, w) order.
func (m *Mat) Flatten() []float32 {
	out := make([]float32, 0, m.Elements())
	for q := 0; q < m.C; q++ {
		out = append(out, m.Channel(q)...)
	}
	return out
}

// SetFlat fills m from values in (c, h, w) order. len(values) must equal Elements.
func (m *Mat) SetFlat(values []float32) {
	plane := m.W * m.H
	for q := 0; q < m.C; q++ {
		copy(m.Channel(q), values[q*plane:(q+1)*plane])
	}
}

// ShapeString is the compact "w x h x c" form used in logs.
func (m *Mat) ShapeString() string {
	switch m.Dims {
	case 1:
		return fmt.Sprintf("%d", m.W)
	case 2:
		return fmt.Sprintf("%dx%d", m.W, m.H)
	case 3:
		return fmt.Sprintf("%dx%dx%d", m.W, m.H, m.C)
	default:
		return "empty"
	}
}

// String prints every channel plane row by row.
func (m Mat) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Mat(dims=%d, w=%d, h=%d, c=%d, cstep=%d)\n", m.Dims, m.W, m.H, m.C, m.Cstep)
	for q := 0; q < m.C; q++ {
		if m.Dims == 3 {
			fmt.Fprintf(&sb, "channel %d:\n", q)
		}
		ch := m.Channel(q)
		for y := 0; y < m.H; y++ {
			row := ch[y*m.W : (y+1)*m.W]
			for x, v := range row {
				if x > 0 {
					sb.WriteByte(' ')
				}
				fmt.Fprintf(&sb, "%g", v)
			}
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
