// Package fixture generates test files of an exact size filled with random bytes.
//
// Files are written in bounded blocks so that multi-gigabyte fixtures never
// need to be held in memory. The same block arithmetic is used by the
// compare package when reading fixtures back.
package fixture

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
)

// BlockSize is the default write block size (30 MiB).
const BlockSize = 30 * 1024 * 1024

// File is a generated fixture on disk.
type File struct {
	Path string
	Size int64
}

// Remove deletes the fixture from disk.
func (f *File) Remove() error {
	if err := os.Remove(f.Path); err != nil {
		return fmt.Errorf("failed to remove fixture %s: %w", f.Path, err)
	}
	return nil
}

// SizeMismatchError reports that a fixture's on-disk size differs from the
// requested size. It means the generator itself is broken and is not
// recoverable.
type SizeMismatchError struct {
	Path     string
	Expected int64
	Actual   int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("fixture %s has size %d, expected %d", e.Path, e.Actual, e.Expected)
}

// ErrNegativeSize is returned when a negative fixture size is requested.
var ErrNegativeSize = errors.New("fixture size must be non-negative")

// Plan splits size into the number of full blocks and the trailing partial
// block length.
func Plan(size, block int64) (fullBlocks, remainder int64) {
	return size / block, size % block
}

// Generator writes fixtures.
//
// The zero value appends 30 MiB blocks of crypto/rand output.
type Generator struct {
	// BlockSize overrides the default block size. Zero means BlockSize.
	BlockSize int

	// Truncate opens the target with O_TRUNC instead of O_APPEND.
	// In append mode, generating twice against the same path accumulates
	// content and fails the size postcondition.
	Truncate bool

	// Source supplies the fixture bytes. Nil means crypto/rand.
	Source io.Reader
}

// Generate writes a fixture of exactly size bytes using the default Generator.
func Generate(path string, size int64) (*File, error) {
	return Generator{}.Generate(path, size)
}

// Generate writes size bytes to path in blocks and verifies the result.
func (g Generator) Generate(path string, size int64) (*File, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegativeSize, size)
	}

	block := g.blockSize()
	src := g.Source
	if src == nil {
		src = rand.Reader
	}

	flags := os.O_CREATE | os.O_WRONLY
	if g.Truncate {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_APPEND
	}

	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open fixture: %w", err)
	}

	fullBlocks, remainder := Plan(size, int64(block))
	if err := writeBlocks(f, src, block, fullBlocks, remainder); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write fixture %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close fixture: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat fixture: %w", err)
	}
	if info.Size() != size {
		return nil, &SizeMismatchError{Path: path, Expected: size, Actual: info.Size()}
	}

	return &File{Path: path, Size: size}, nil
}

func (g Generator) blockSize() int {
	if g.BlockSize > 0 {
		return g.BlockSize
	}
	return BlockSize
}

// writeBlocks writes fullBlocks blocks of block bytes, then remainder bytes.
// The buffer is allocated once and refilled for every block.
func writeBlocks(w io.Writer, src io.Reader, block int, fullBlocks, remainder int64) error {
	if fullBlocks == 0 && remainder == 0 {
		return nil
	}

	bufLen := block
	if fullBlocks == 0 {
		bufLen = int(remainder)
	}
	buf := make([]byte, bufLen)

	for i := int64(0); i < fullBlocks; i++ {
		if _, err := io.ReadFull(src, buf); err != nil {
			return fmt.Errorf("block %d: read random bytes: %w", i, err)
		}
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("block %d: %w", i, err)
		}
	}

	if remainder > 0 {
		tail := buf[:remainder]
		if _, err := io.ReadFull(src, tail); err != nil {
			return fmt.Errorf("partial block: read random bytes: %w", err)
		}
		if _, err := w.Write(tail); err != nil {
			return fmt.Errorf("partial block: %w", err)
		}
	}

	return nil
}
