package ncnn

import (
	"github.com/pkg/errors"
)

// ErrModelBinExhausted is returned when a layer asks for more blobs than were supplied.
var ErrModelBinExhausted = errors.New("model bin exhausted")

// ModelBin supplies weight blobs to Layer.LoadModel in the order the layer requests them.
type ModelBin interface {
	// Load returns the next blob, which must hold w elements. typ is the storage
	// hint of the on-disk format (0 auto, 1 float32) and is informational here.
	Load(w, typ int) (Mat, error)
}

type matModelBin struct {
	mats []Mat
	next int
}

// ModelBinFromMats serves mats in order. The Mats are shared, not copied.
func ModelBinFromMats(mats ...Mat) ModelBin {
	return &matModelBin{mats: mats}
}

func (mb *matModelBin) Load(w, _ int) (Mat, error) {
	if mb.next >= len(mb.mats) {
		return Mat{}, errors.Wrapf(ErrModelBinExhausted, "blob %d requested, %d supplied", mb.next, len(mb.mats))
	}
	m := mb.mats[mb.next]
	if m.Elements() != w {
		return Mat{}, errors.Errorf("blob %d holds %d elements, layer expects %d", mb.next, m.Elements(), w)
	}
	mb.next++
	return m, nil
}
