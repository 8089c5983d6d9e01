// Package artifact persists a compiled subgraph and its constants in one file.
//
// Layout (little-endian):
//
//	0x00  magic "NCBR"
//	0x04  u32 format version
//	0x08  u32 flags
//	0x0C  u64 header size N
//	0x14  header JSON (N bytes)
//	      32-byte SHA-256 of the stored data section
//	      zero padding to a 64-byte boundary
//	      data section: constant tensors, each 64-byte aligned
//
// With FlagCompressed the data section is stored zstd-compressed and the checksum
// covers the compressed bytes.
package artifact

import (
	"time"

	"github.com/goccy/go-json"
)

// Format constants.
const (
	MagicBytes      = "NCBR"
	FormatVersion   = 1
	DataAlignment   = 64
	ChecksumSize    = 32
	fixedHeaderSize = 4 + 4 + 4 + 8
)

// Flags.
const (
	FlagCompressed uint32 = 1 << 0 // bit 0: zstd-compressed data section
)

// Header is the JSON header.
type Header struct {
	FormatVersion int               `json:"format_version"`
	Symbol        string            `json:"symbol"`
	CreatedAt     time.Time         `json:"created_at"`
	Graph         json.RawMessage   `json:"graph"`
	Tensors       []TensorMeta      `json:"tensors"` // in const-name order
	Metadata      map[string]string `json:"metadata,omitempty"`
	DataSize      int64             `json:"data_size"`   // decompressed
	StoredSize    int64             `json:"stored_size"` // as written
}

// TensorMeta describes one constant in the data section.
type TensorMeta struct {
	Name   string `json:"name"`
	DType  string `json:"dtype"`
	Shape  []int  `json:"shape"`
	Offset int64  `json:"offset"` // bytes from the start of the data section
	Size   int64  `json:"size"`
}

func align(n, a int64) int64 {
	return (n + a - 1) / a * a
}
