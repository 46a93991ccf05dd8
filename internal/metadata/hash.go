// Package metadata turns a recording file into database rows: a
// sampled content hash, codec and stream facts from ffprobe, the
// keyframe index, and the embedded program information.
package metadata

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/hisui-tv/hisui/internal/models"
)

// ErrFileTooSmall reports a file below the sampled-hash minimum.
var ErrFileTooSmall = fmt.Errorf("metadata: file smaller than %d bytes", models.MinHashableFileSize)

const hashChunkSize = 1 << 20

// ComputeFileHash hashes three 1 MiB chunks sampled at 1/4, 1/2 and
// 3/4 of the file. The result identifies the recording across moves
// and renames without reading gigabytes.
func ComputeFileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("metadata: open: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("metadata: stat: %w", err)
	}
	return hashSampled(f, info.Size())
}

func hashSampled(r io.ReaderAt, size int64) (string, error) {
	if size < models.MinHashableFileSize {
		return "", ErrFileTooSmall
	}

	h := sha256.New()
	buf := make([]byte, hashChunkSize)
	for _, num := range []int64{1, 2, 3} {
		off := size * num / 4
		if off+hashChunkSize > size {
			off = size - hashChunkSize
		}
		if _, err := r.ReadAt(buf, off); err != nil {
			return "", fmt.Errorf("metadata: read chunk at %d: %w", off, err)
		}
		h.Write(buf)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
