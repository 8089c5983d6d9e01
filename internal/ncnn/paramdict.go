package ncnn

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxParamID bounds the parameter ids a ParamDict can hold.
const MaxParamID = 32

type paramKind uint8

const (
	paramNone paramKind = iota
	paramInt
	paramFloat
	paramInts
	paramFloats
)

type param struct {
	kind   paramKind
	i      int
	f      float32
	ints   []int
	floats []float32
}

// ParamDict is the integer-keyed layer configuration.
type ParamDict struct {
	params [MaxParamID]param
}

// NewParamDict returns an empty dictionary.
func NewParamDict() *ParamDict {
	return &ParamDict{}
}

func checkID(id int) {
	if id < 0 || id >= MaxParamID {
		panic(fmt.Sprintf("ncnn: param id %d out of range [0, %d)", id, MaxParamID))
	}
}

// Set stores an integer parameter.
func (pd *ParamDict) Set(id, v int) {
	checkID(id)
	pd.params[id] = param{kind: paramInt, i: v}
}

// SetFloat stores a float parameter.
func (pd *ParamDict) SetFloat(id int, v float32) {
	checkID(id)
	pd.params[id] = param{kind: paramFloat, f: v}
}

// SetInts stores an integer array parameter.
func (pd *ParamDict) SetInts(id int, v []int) {
	checkID(id)
	pd.params[id] = param{kind: paramInts, ints: append([]int(nil), v...)}
}

// SetFloats stores a float array parameter.
func (pd *ParamDict) SetFloats(id int, v []float32) {
	checkID(id)
	pd.params[id] = param{kind: paramFloats, floats: append([]float32(nil), v...)}
}

// Has reports whether id was set.
func (pd *ParamDict) Has(id int) bool {
	return id >= 0 && id < MaxParamID && pd.params[id].kind != paramNone
}

// GetInt returns parameter id as an integer, or def when unset.
func (pd *ParamDict) GetInt(id, def int) int {
	if !pd.Has(id) {
		return def
	}
	p := pd.params[id]
	if p.kind == paramFloat {
		return int(p.f)
	}
	return p.i
}

// GetFloat returns parameter id as a float, or def when unset.
func (pd *ParamDict) GetFloat(id int, def float32) float32 {
	if !pd.Has(id) {
		return def
	}
	p := pd.params[id]
	if p.kind == paramInt {
		return float32(p.i)
	}
	return p.f
}

// GetFloats returns an array parameter as floats, or nil when unset.
func (pd *ParamDict) GetFloats(id int) []float32 {
	if !pd.Has(id) {
		return nil
	}
	p := pd.params[id]
	switch p.kind {
	case paramFloats:
		return append([]float32(nil), p.floats...)
	case paramInts:
		out := make([]float32, len(p.ints))
		for i, v := range p.ints {
			out[i] = float32(v)
		}
		return out
	}
	return nil
}

// String renders the dictionary in param-file form: "id=value" pairs, arrays as
// "-(23300+id)=n,v0,v1,...".
func (pd *ParamDict) String() string {
	var parts []string
	for id, p := range pd.params {
		switch p.kind {
		case paramInt:
			parts = append(parts, fmt.Sprintf("%d=%d", id, p.i))
		case paramFloat:
			parts = append(parts, fmt.Sprintf("%d=%s", id, formatFloat(p.f)))
		case paramInts:
			vals := make([]string, 0, len(p.ints)+1)
			vals = append(vals, strconv.Itoa(len(p.ints)))
			for _, v := range p.ints {
				vals = append(vals, strconv.Itoa(v))
			}
			parts = append(parts, fmt.Sprintf("%d=%s", -23300-id, strings.Join(vals, ",")))
		case paramFloats:
			vals := make([]string, 0, len(p.floats)+1)
			vals = append(vals, strconv.Itoa(len(p.floats)))
			for _, v := range p.floats {
				vals = append(vals, formatFloat(v))
			}
			parts = append(parts, fmt.Sprintf("%d=%s", -23300-id, strings.Join(vals, ",")))
		}
	}
	return strings.Join(parts, " ")
}

func formatFloat(f float32) string {
	s := strconv.FormatFloat(float64(f), 'f', -1, 32)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
