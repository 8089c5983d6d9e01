package artifact

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/born-ml/ncnnbridge/internal/graphir"
)

// WriteOptions configures Write.
type WriteOptions struct {
	// Compress stores the data section zstd-compressed.
	Compress bool
}

// Write encodes a to w.
func Write(w io.Writer, a *Artifact, opts ...WriteOptions) error {
	var opt WriteOptions
	if len(opts) > 0 {
		opt = opts[0]
	}
	if err := a.check(); err != nil {
		return err
	}
	graphJSON, err := graphir.Marshal(a.Graph)
	if err != nil {
		return errors.Wrap(err, "marshal graph")
	}

	header := Header{
		FormatVersion: FormatVersion,
		Symbol:        a.Graph.Symbol,
		CreatedAt:     time.Now().UTC(),
		Graph:         graphJSON,
		Tensors:       make([]TensorMeta, 0, len(a.Constants)),
		Metadata:      a.Metadata,
	}

	var data bytes.Buffer
	for i, c := range a.Constants {
		offset := align(int64(data.Len()), DataAlignment)
		data.Write(make([]byte, offset-int64(data.Len())))
		dense := c.Contiguous()
		raw := dense.Data()[:dense.ByteSize()]
		data.Write(raw)
		header.Tensors = append(header.Tensors, TensorMeta{
			Name:   a.Graph.ConstNames[i],
			DType:  c.DType().String(),
			Shape:  []int(c.Shape().Clone()),
			Offset: offset,
			Size:   int64(len(raw)),
		})
	}
	stored := data.Bytes()
	header.DataSize = int64(len(stored))

	var flags uint32
	if opt.Compress {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return errors.Wrap(err, "create zstd encoder")
		}
		stored = enc.EncodeAll(stored, nil)
		if err := enc.Close(); err != nil {
			return errors.Wrap(err, "close zstd encoder")
		}
		flags |= FlagCompressed
	}
	header.StoredSize = int64(len(stored))

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "marshal header")
	}
	checksum := sha256.Sum256(stored)

	var buf bytes.Buffer
	buf.WriteString(MagicBytes)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(FormatVersion))
	_ = binary.Write(&buf, binary.LittleEndian, flags)
	_ = binary.Write(&buf, binary.LittleEndian, uint64(len(headerJSON)))
	buf.Write(headerJSON)
	buf.Write(checksum[:])
	pos := int64(buf.Len())
	buf.Write(make([]byte, align(pos, DataAlignment)-pos))

	if _, err := w.Write(buf.Bytes()); err != nil {
		return errors.Wrap(err, "write header")
	}
	if _, err := w.Write(stored); err != nil {
		return errors.Wrap(err, "write data")
	}
	return nil
}

// Save writes a to path.
func Save(path string, a *Artifact, opts ...WriteOptions) error {
	//nolint:gosec // G304: output path is supplied by the caller
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create artifact")
	}
	if err := Write(f, a, opts...); err != nil {
		_ = f.Close()
		return err
	}
	return errors.Wrap(f.Close(), "close artifact")
}
