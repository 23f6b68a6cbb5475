package harness

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roach88/xferharness/internal/compare"
)

// Assertion type constants.
const (
	AssertFileAbsent  = "file_absent"
	AssertFilePresent = "file_present"
	AssertFileEqual   = "file_equal"
)

// ErrFatal marks a scenario failure that must abort the scenario body
// immediately, such as a fixture that does not have the requested size.
var ErrFatal = errors.New("fatal")

// AssertionError is returned when an assertion fails.
// It includes a listing of the directory involved to help debug the failure.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Dir      string   // Directory the assertion looked at
	Listing  []string // Entries of Dir at the time of failure
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)

	if e.Dir != "" {
		fmt.Fprintf(&buf, "\n\nContents of %s:", e.Dir)
		if len(e.Listing) == 0 {
			fmt.Fprintf(&buf, "\n  (empty)")
		}
		for _, entry := range e.Listing {
			fmt.Fprintf(&buf, "\n  %s", entry)
		}
	}

	return buf.String()
}

// assertFileAbsent checks that nothing exists at path.
func assertFileAbsent(path string) error {
	_, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	return &AssertionError{
		Type:     AssertFileAbsent,
		Expected: fmt.Sprintf("no file %s", path),
		Actual:   "file exists",
		Dir:      dir,
		Listing:  listDir(dir),
	}
}

// assertFilePresent checks that a regular file exists at path.
func assertFilePresent(path string) error {
	info, err := os.Stat(path)
	if err == nil && info.Mode().IsRegular() {
		return nil
	}

	actual := "not found"
	if err == nil {
		actual = fmt.Sprintf("not a regular file (%s)", info.Mode().Type())
	} else if !os.IsNotExist(err) {
		actual = err.Error()
	}

	dir := filepath.Dir(path)
	return &AssertionError{
		Type:     AssertFilePresent,
		Expected: fmt.Sprintf("file %s", path),
		Actual:   actual,
		Dir:      dir,
		Listing:  listDir(dir),
	}
}

// assertFileEqual checks that got is byte-identical to want, both having
// exactly size bytes.
func assertFileEqual(got, want string, size int64, blockSize int) error {
	out, err := compare.Comparator{BlockSize: blockSize}.Compare(got, want, size)

	var pe *compare.PreconditionError
	if errors.As(err, &pe) {
		actual := pe.Error()
		if pe.Err == nil {
			actual = fmt.Sprintf("%s has %d bytes", pe.Path, pe.Actual)
		}
		return &AssertionError{
			Type:     AssertFileEqual,
			Expected: fmt.Sprintf("%s and %s to have %d bytes", got, want, size),
			Actual:   actual,
		}
	}
	if err != nil {
		return fmt.Errorf("compare %s with %s: %w", got, want, err)
	}

	if !out.Equal {
		return &AssertionError{
			Type:     AssertFileEqual,
			Expected: fmt.Sprintf("%s identical to %s", got, want),
			Actual:   fmt.Sprintf("content differs in block at offset %d", out.MismatchOffset),
		}
	}
	return nil
}

// listDir returns "name (size bytes)" for every entry of dir, sorted.
func listDir(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return []string{fmt.Sprintf("(unreadable: %v)", err)}
	}

	listing := make([]string, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			listing = append(listing, entry.Name())
			continue
		}
		if entry.IsDir() {
			listing = append(listing, entry.Name()+"/")
			continue
		}
		listing = append(listing, fmt.Sprintf("%s (%d bytes)", entry.Name(), info.Size()))
	}
	sort.Strings(listing)
	return listing
}
