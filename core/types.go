package core

import (
	"bytes"
	"io"
)

// CompressionType identifies the compression algorithm applied to a
// serialized R-tree chunk body before it is handed to the host.
type CompressionType byte

const (
	CompressionNone   CompressionType = 0
	CompressionSnappy CompressionType = 1
	CompressionLZ4    CompressionType = 2
	CompressionZSTD   CompressionType = 3
)

// Compressor defines the interface for compression and decompression algorithms.
type Compressor interface {
	// Compress compresses the input data.
	Compress(data []byte) ([]byte, error)
	CompressTo(dst *bytes.Buffer, src []byte) error
	// Decompress decompresses the input data.
	Decompress(data []byte) (io.ReadCloser, error)
	// Type returns the CompressionType identifier for this compressor.
	Type() CompressionType
}

// String returns the string representation of the CompressionType.
func (ct CompressionType) String() string {
	switch ct {
	case CompressionNone:
		return "none"
	case CompressionSnappy:
		return "snappy"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return "unknown"
	}
}

// ChecksumSize is the size in bytes of the CRC32 trailer written after every
// serialized R-tree chunk body (see rtree.Serialize).
const ChecksumSize = 4

// IndexType identifies which index algorithm produced a chunk. Only ELB/MBR
// is implemented; the tag is carried so the host's on-disk framing can
// distinguish index families without this package knowing about the others.
type IndexType byte

const (
	IndexTypeUnknown IndexType = 0
	IndexTypeELBMBR  IndexType = 1
)

func (t IndexType) String() string {
	switch t {
	case IndexTypeELBMBR:
		return "elb_mbr"
	default:
		return "unknown"
	}
}

// IndexFlushChunk is the record the index hands to the host's
// FlushCollaborator on a completed (sub-)flush. The host owns on-disk
// framing beyond this record (spec.md EXTERNAL INTERFACES).
type IndexFlushChunk struct {
	Path       string
	IndexType  IndexType
	Body       []byte
	Compressed CompressionType
	StartTime  int64
	EndTime    int64
}
