package pbf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers from fileformat.proto
const (
	blobHeaderType     = 1
	blobHeaderDatasize = 3

	blobRawSize  = 2
	blobZlibData = 3
)

// Block type names used in BlobHeader
const (
	typeHeader = "OSMHeader"
	typeData   = "OSMData"
)

// maxBlobHeaderSize and maxBlobSize are the hard limits readers enforce
const (
	maxBlobHeaderSize = 64 * 1024
	maxBlobSize       = 32 * 1024 * 1024
)

// blobWriter frames serialized blocks as length-prefixed BlobHeader + zlib Blob
type blobWriter struct {
	w    io.Writer
	zbuf bytes.Buffer
	zw   *zlib.Writer
}

func newBlobWriter(w io.Writer) *blobWriter {
	bw := &blobWriter{w: w}
	bw.zw, _ = zlib.NewWriterLevel(&bw.zbuf, zlib.DefaultCompression)
	return bw
}

func (bw *blobWriter) write(blobType string, block []byte) error {
	bw.zbuf.Reset()
	bw.zw.Reset(&bw.zbuf)
	if _, err := bw.zw.Write(block); err != nil {
		return fmt.Errorf("zlib: %w", err)
	}
	if err := bw.zw.Close(); err != nil {
		return fmt.Errorf("zlib: %w", err)
	}

	var blob []byte
	blob = protowire.AppendTag(blob, blobRawSize, protowire.VarintType)
	blob = protowire.AppendVarint(blob, uint64(len(block)))
	blob = protowire.AppendTag(blob, blobZlibData, protowire.BytesType)
	blob = protowire.AppendBytes(blob, bw.zbuf.Bytes())
	if len(blob) > maxBlobSize {
		return fmt.Errorf("blob of %d bytes exceeds limit", len(blob))
	}

	var header []byte
	header = protowire.AppendTag(header, blobHeaderType, protowire.BytesType)
	header = protowire.AppendString(header, blobType)
	header = protowire.AppendTag(header, blobHeaderDatasize, protowire.VarintType)
	header = protowire.AppendVarint(header, uint64(len(blob)))
	if len(header) > maxBlobHeaderSize {
		return fmt.Errorf("blob header of %d bytes exceeds limit", len(header))
	}

	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(header)))
	if _, err := bw.w.Write(size[:]); err != nil {
		return err
	}
	if _, err := bw.w.Write(header); err != nil {
		return err
	}
	_, err := bw.w.Write(blob)
	return err
}
