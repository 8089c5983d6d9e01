package artifact

import (
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/born-ml/ncnnbridge/internal/graphir"
	"github.com/born-ml/ncnnbridge/internal/tensor"
)

// Read decodes an artifact from r, verifying the checksum and tensor table.
func Read(r io.Reader) (*Artifact, error) {
	var fixed [fixedHeaderSize]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return nil, errors.Wrap(err, "read fixed header")
	}
	if string(fixed[0:4]) != MagicBytes {
		return nil, ErrInvalidMagic
	}
	version := binary.LittleEndian.Uint32(fixed[4:8])
	if version != FormatVersion {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "got %d, expected %d", version, FormatVersion)
	}
	flags := binary.LittleEndian.Uint32(fixed[8:12])
	headerSize := binary.LittleEndian.Uint64(fixed[12:20])
	if headerSize > MaxHeaderSize {
		return nil, ErrHeaderTooLarge
	}

	headerJSON := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, errors.Wrap(err, "parse header")
	}
	if err := ValidateHeader(&header); err != nil {
		return nil, errors.Wrap(err, "validate header")
	}

	var checksum [ChecksumSize]byte
	if _, err := io.ReadFull(r, checksum[:]); err != nil {
		return nil, errors.Wrap(err, "read checksum")
	}
	pos := int64(fixedHeaderSize) + int64(headerSize) + ChecksumSize
	if _, err := io.CopyN(io.Discard, r, align(pos, DataAlignment)-pos); err != nil {
		return nil, errors.Wrap(err, "read padding")
	}

	stored := make([]byte, header.StoredSize)
	if _, err := io.ReadFull(r, stored); err != nil {
		return nil, errors.Wrap(err, "read data")
	}
	if sha256.Sum256(stored) != checksum {
		return nil, ErrChecksumMismatch
	}

	data := stored
	if flags&FlagCompressed != 0 {
		dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(MaxDataSize)))
		if err != nil {
			return nil, errors.Wrap(err, "create zstd decoder")
		}
		data, err = dec.DecodeAll(stored, make([]byte, 0, header.DataSize))
		dec.Close()
		if err != nil {
			return nil, errors.Wrap(err, "decompress data")
		}
	}
	if int64(len(data)) != header.DataSize {
		return nil, errors.Errorf("data section has %d bytes, header says %d", len(data), header.DataSize)
	}

	g, err := graphir.Unmarshal(header.Graph)
	if err != nil {
		return nil, err
	}
	if len(g.ConstNames) != len(header.Tensors) {
		return nil, errors.Wrapf(ErrConstMismatch, "%d tensors for %d const names", len(header.Tensors), len(g.ConstNames))
	}

	consts := make([]*tensor.RawTensor, len(header.Tensors))
	for i, meta := range header.Tensors {
		if meta.Name != g.ConstNames[i] {
			return nil, errors.Wrapf(ErrConstMismatch, "tensor %d is %q, graph names %q", i, meta.Name, g.ConstNames[i])
		}
		dt, err := tensor.ParseDataType(meta.DType)
		if err != nil {
			return nil, errors.Wrapf(err, "tensor %q", meta.Name)
		}
		buf := make([]byte, meta.Size)
		copy(buf, data[meta.Offset:meta.Offset+meta.Size])
		t, err := tensor.FromBytes(buf, tensor.Shape(meta.Shape), dt)
		if err != nil {
			return nil, errors.Wrapf(err, "tensor %q", meta.Name)
		}
		consts[i] = t
	}

	return &Artifact{Graph: g, Constants: consts, Metadata: header.Metadata}, nil
}

// Open reads the artifact at path.
func Open(path string) (*Artifact, error) {
	//nolint:gosec // G304: path is supplied by the caller
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open artifact")
	}
	defer func() { _ = f.Close() }()

	a, err := Read(bufio.NewReader(f))
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return a, nil
}
