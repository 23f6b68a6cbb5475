// Package compare checks two files for byte-exact equality without loading
// either of them fully into memory.
package compare

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/roach88/xferharness/internal/fixture"
)

// PreconditionError reports that a file is missing or does not have the
// declared size. The block comparison is never entered in that case.
type PreconditionError struct {
	Path     string
	Declared int64
	Actual   int64
	Err      error
}

func (e *PreconditionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("precondition failed for %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("precondition failed for %s: size %d, declared %d", e.Path, e.Actual, e.Declared)
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

// Outcome describes a finished comparison.
type Outcome struct {
	Equal bool

	// FullBlocks and Remainder are the block plan for the declared size.
	FullBlocks int64
	Remainder  int64

	// BlocksCompared counts blocks read from both files, including the
	// trailing partial block.
	BlocksCompared int64

	// MismatchOffset is the file offset of the first differing block.
	// It is -1 when the files are equal.
	MismatchOffset int64
}

// Comparator compares files block by block.
type Comparator struct {
	// BlockSize overrides the default block size. Zero means fixture.BlockSize.
	BlockSize int
}

// FilesEqual reports whether the two files are byte-identical using the
// default block size.
func FilesEqual(pathA, pathB string, declaredSize int64) (bool, error) {
	out, err := Comparator{}.Compare(pathA, pathB, declaredSize)
	if err != nil {
		return false, err
	}
	return out.Equal, nil
}

// Compare checks preconditions on both files and then reads them in lockstep,
// stopping at the first mismatching block.
func (c Comparator) Compare(pathA, pathB string, declaredSize int64) (*Outcome, error) {
	for _, p := range []string{pathA, pathB} {
		if err := checkFile(p, declaredSize); err != nil {
			return nil, err
		}
	}

	block := c.blockSize()

	fa, err := os.Open(pathA)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", pathA, err)
	}
	defer fa.Close()

	fb, err := os.Open(pathB)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", pathB, err)
	}
	defer fb.Close()

	bufA := getBuffer(block)
	defer putBuffer(bufA)
	bufB := getBuffer(block)
	defer putBuffer(bufB)

	fullBlocks, remainder := fixture.Plan(declaredSize, int64(block))
	out := &Outcome{
		Equal:          true,
		FullBlocks:     fullBlocks,
		Remainder:      remainder,
		MismatchOffset: -1,
	}

	for i := int64(0); i < fullBlocks; i++ {
		same, err := compareBlock(fa, fb, (*bufA)[:block], (*bufB)[:block])
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		out.BlocksCompared++
		if !same {
			out.Equal = false
			out.MismatchOffset = i * int64(block)
			return out, nil
		}
	}

	if remainder > 0 {
		same, err := compareBlock(fa, fb, (*bufA)[:remainder], (*bufB)[:remainder])
		if err != nil {
			return nil, fmt.Errorf("partial block: %w", err)
		}
		out.BlocksCompared++
		if !same {
			out.Equal = false
			out.MismatchOffset = fullBlocks * int64(block)
		}
	}

	return out, nil
}

func (c Comparator) blockSize() int {
	if c.BlockSize > 0 {
		return c.BlockSize
	}
	return fixture.BlockSize
}

func checkFile(path string, declared int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return &PreconditionError{Path: path, Declared: declared, Err: err}
	}
	if !info.Mode().IsRegular() {
		return &PreconditionError{Path: path, Declared: declared, Err: fmt.Errorf("not a regular file")}
	}
	if info.Size() != declared {
		return &PreconditionError{Path: path, Declared: declared, Actual: info.Size()}
	}
	return nil
}

func compareBlock(a, b io.Reader, bufA, bufB []byte) (bool, error) {
	if _, err := io.ReadFull(a, bufA); err != nil {
		return false, err
	}
	if _, err := io.ReadFull(b, bufB); err != nil {
		return false, err
	}
	return bytes.Equal(bufA, bufB), nil
}

var bufferPool sync.Pool

// getBuffer returns a pooled buffer with capacity of at least size bytes.
func getBuffer(size int) *[]byte {
	if v, ok := bufferPool.Get().(*[]byte); ok && cap(*v) >= size {
		*v = (*v)[:size]
		return v
	}
	buf := make([]byte, size)
	return &buf
}

func putBuffer(buf *[]byte) {
	bufferPool.Put(buf)
}
