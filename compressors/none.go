// Package compressors implements core.Compressor for the R-tree chunk
// bodies simindex.MBRIndex hands to hostapi.FlushCollaborator on flush,
// selectable via core.CompressionType.
package compressors

import (
	"bytes"
	"io"

	"github.com/nexustsdb/simsearch/core"
)

// NoCompressionCompressor writes an index chunk body through unchanged.
type NoCompressionCompressor struct{}

type planTextDecoder struct {
	*bytes.Reader
}

func (p *planTextDecoder) Close() error {
	return nil
}

var _ core.Compressor = (*NoCompressionCompressor)(nil)

func (c *NoCompressionCompressor) Compress(data []byte) ([]byte, error) {
	return data, nil // Return data as is
}

func (c *NoCompressionCompressor) Decompress(data []byte) (io.ReadCloser, error) {
	return &planTextDecoder{Reader: bytes.NewReader(data)}, nil // Return data as is
}

func (c *NoCompressionCompressor) Type() core.CompressionType {
	return core.CompressionNone
}

// CompressTo "compresses" src data into the dst buffer by simply writing it.
// This avoids the allocation of a new slice that Compress() does.
func (c *NoCompressionCompressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	_, err := dst.Write(src)
	return err
}
