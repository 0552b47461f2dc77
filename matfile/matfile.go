// Package matfile reads level 5 MAT-files, the container format of the
// recorded EEG sessions. It supports the subset of the format those files
// use: little-endian files holding real 2-D numeric matrices, stored plainly
// or inside zlib-compressed elements. Every matrix is converted to float64 on
// load; storage types narrower than double are widened.
//
// The format is documented in "MAT-File Format" (MathWorks). A file is a
// 128-byte header followed by tagged data elements. Each tag is two 32-bit
// words, type and byte count, except for the small element format where
// payloads of up to four bytes live inside the tag itself.
package matfile

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
)

// Data element types.
const (
	miINT8       = 1
	miUINT8      = 2
	miINT16      = 3
	miUINT16     = 4
	miINT32      = 5
	miUINT32     = 6
	miSINGLE     = 7
	miDOUBLE     = 9
	miINT64      = 12
	miUINT64     = 13
	miMATRIX     = 14
	miCOMPRESSED = 15
	miUTF8       = 16
)

// Array classes, from the array flags subelement.
const (
	mxCELL   = 1
	mxSTRUCT = 2
	mxOBJECT = 3
	mxCHAR   = 4
	mxSPARSE = 5
	mxDOUBLE = 6
	mxSINGLE = 7
	mxINT8   = 8
	mxUINT8  = 9
	mxINT16  = 10
	mxUINT16 = 11
	mxINT32  = 12
	mxUINT32 = 13
	mxINT64  = 14
	mxUINT64 = 15
)

const headerSize = 128

// flagComplex marks a matrix with an imaginary part.
const flagComplex = 0x08

// ErrMatrixNotFound is returned by File.Matrix for names absent from the
// file.
var ErrMatrixNotFound = errors.New("matrix not found")

// File is a parsed MAT-file: the header description plus the top-level
// matrices by name.
type File struct {
	// Description is the free-text portion of the header, typically naming
	// the program and date that produced the file.
	Description string
	// Version is the header version word, 0x0100 for level 5 files.
	Version uint16

	matrices map[string]*Matrix
	order    []string
	skipped  map[string]string
}

// Matrix is a real 2-D numeric matrix. Values are stored column-major as
// float64, mirroring the on-disk layout.
type Matrix struct {
	Name string
	Rows int
	Cols int

	data []float64
}

// At returns the element at row r, column c.
func (m *Matrix) At(r, c int) float64 {
	return m.data[c*m.Rows+r]
}

// Float64Row copies row r into a new slice.
func (m *Matrix) Float64Row(r int) []float64 {
	row := make([]float64, m.Cols)
	for c := 0; c < m.Cols; c++ {
		row[c] = m.data[c*m.Rows+r]
	}
	return row
}

// Float32Row copies row r into a new slice, narrowing to float32.
func (m *Matrix) Float32Row(r int) []float32 {
	row := make([]float32, m.Cols)
	for c := 0; c < m.Cols; c++ {
		row[c] = float32(m.data[c*m.Rows+r])
	}
	return row
}

// IntRow copies row r into a new slice, truncating each value toward zero.
// It is intended for matrices that hold integral values such as sample
// indices or category codes.
func (m *Matrix) IntRow(r int) []int {
	row := make([]int, m.Cols)
	for c := 0; c < m.Cols; c++ {
		row[c] = int(m.data[c*m.Rows+r])
	}
	return row
}

// Float32Matrix copies the whole matrix into row-major [][]float32.
func (m *Matrix) Float32Matrix() [][]float32 {
	rows := make([][]float32, m.Rows)
	for r := range rows {
		rows[r] = m.Float32Row(r)
	}
	return rows
}

// Matrix returns the named matrix. Names of matrices that were present but
// not representable (complex, sparse, higher-rank or non-numeric classes)
// produce an error describing why; unknown names return ErrMatrixNotFound.
func (f *File) Matrix(name string) (*Matrix, error) {
	if m, ok := f.matrices[name]; ok {
		return m, nil
	}
	if reason, ok := f.skipped[name]; ok {
		return nil, fmt.Errorf("matrix %q: %s", name, reason)
	}
	return nil, fmt.Errorf("%w: %q (file contains %s)", ErrMatrixNotFound, name, strings.Join(f.order, ", "))
}

// Names lists the readable matrices in file order.
func (f *File) Names() []string {
	return append([]string(nil), f.order...)
}

// Open reads and parses the MAT-file at path.
func Open(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open mat file: %w", err)
	}
	f, err := parse(b)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return f, nil
}

// Parse reads a complete MAT-file from r.
func Parse(r io.Reader) (*File, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read mat file: %w", err)
	}
	return parse(b)
}

func parse(b []byte) (*File, error) {
	if len(b) < headerSize {
		return nil, fmt.Errorf("file is %d bytes, shorter than the %d-byte header", len(b), headerSize)
	}
	for _, c := range b[:4] {
		if c == 0 {
			return nil, errors.New("not a level 5 MAT-file (level 4 files are not supported)")
		}
	}
	switch endian := string(b[126:128]); endian {
	case "IM":
		// little-endian, the only byte order supported
	case "MI":
		return nil, errors.New("big-endian MAT-files are not supported")
	default:
		return nil, fmt.Errorf("bad endian indicator %q", endian)
	}

	f := &File{
		Description: strings.TrimRight(string(b[:116]), " \x00"),
		Version:     binary.LittleEndian.Uint16(b[124:126]),
		matrices:    make(map[string]*Matrix),
		skipped:     make(map[string]string),
	}
	if err := f.parseElements(b[headerSize:], false); err != nil {
		return nil, err
	}
	return f, nil
}

// parseElements walks a sequence of tagged elements. Inside decompressed
// streams nested compression is rejected.
func (f *File) parseElements(b []byte, inCompressed bool) error {
	off := 0
	for off+8 <= len(b) {
		typ, data, next, err := element(b, off)
		if err != nil {
			return err
		}
		switch typ {
		case miCOMPRESSED:
			if inCompressed {
				return fmt.Errorf("element at offset %d: nested compression", off)
			}
			dec, err := inflate(data)
			if err != nil {
				return fmt.Errorf("element at offset %d: %w", off, err)
			}
			if err := f.parseElements(dec, true); err != nil {
				return err
			}
		case miMATRIX:
			m, err := parseMatrix(data)
			var unsup *unsupportedError
			switch {
			case errors.As(err, &unsup):
				f.skipped[unsup.name] = unsup.reason
			case err != nil:
				return fmt.Errorf("matrix element at offset %d: %w", off, err)
			default:
				f.matrices[m.Name] = m
				f.order = append(f.order, m.Name)
			}
		default:
			// Unrecognized top-level elements are skipped.
		}
		off = next
	}
	return nil
}

// element decodes the tag at off and returns the element type, its payload
// and the offset of the next element. Payloads are padded to 8-byte
// boundaries except for compressed elements.
func element(b []byte, off int) (typ uint32, data []byte, next int, err error) {
	if off+8 > len(b) {
		return 0, nil, 0, fmt.Errorf("element at offset %d: truncated tag", off)
	}
	word := binary.LittleEndian.Uint32(b[off:])
	if small := word >> 16; small != 0 {
		if small > 4 {
			return 0, nil, 0, fmt.Errorf("element at offset %d: small element of %d bytes", off, small)
		}
		return word & 0xFFFF, b[off+4 : off+4+int(small)], off + 8, nil
	}

	n := int(binary.LittleEndian.Uint32(b[off+4:]))
	if n < 0 || off+8+n > len(b) {
		return 0, nil, 0, fmt.Errorf("element at offset %d: %d payload bytes exceed remaining %d", off, n, len(b)-off-8)
	}
	data = b[off+8 : off+8+n]
	if word == miCOMPRESSED {
		return word, data, off + 8 + n, nil
	}
	padded := n
	if rem := n % 8; rem != 0 {
		padded += 8 - rem
	}
	next = off + 8 + padded
	if next > len(b) {
		next = len(b)
	}
	return word, data, next, nil
}

func inflate(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open compressed element: %w", err)
	}
	defer zr.Close()
	dec, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress element: %w", err)
	}
	return dec, nil
}

// unsupportedError marks a matrix the reader recognized but cannot
// represent. The surrounding file still parses; the error surfaces at
// lookup time.
type unsupportedError struct {
	name   string
	reason string
}

func (e *unsupportedError) Error() string {
	return fmt.Sprintf("matrix %q: %s", e.name, e.reason)
}

// parseMatrix decodes a miMATRIX payload: array flags, dimensions, name and
// the real part.
func parseMatrix(b []byte) (*Matrix, error) {
	// Array flags.
	typ, data, off, err := element(b, 0)
	if err != nil {
		return nil, err
	}
	if typ != miUINT32 || len(data) < 8 {
		return nil, fmt.Errorf("array flags have type %d, %d bytes", typ, len(data))
	}
	flagsWord := binary.LittleEndian.Uint32(data)
	class := int(flagsWord & 0xFF)
	flags := byte(flagsWord >> 8)

	// Dimensions.
	typ, data, off, err = element(b, off)
	if err != nil {
		return nil, err
	}
	if typ != miINT32 || len(data)%4 != 0 {
		return nil, fmt.Errorf("dimensions have type %d, %d bytes", typ, len(data))
	}
	dims := make([]int, len(data)/4)
	for i := range dims {
		dims[i] = int(int32(binary.LittleEndian.Uint32(data[i*4:])))
	}

	// Name.
	typ, data, off, err = element(b, off)
	if err != nil {
		return nil, err
	}
	if typ != miINT8 && typ != miUTF8 {
		return nil, fmt.Errorf("array name has type %d", typ)
	}
	name := string(data)

	switch class {
	case mxDOUBLE, mxSINGLE, mxINT8, mxUINT8, mxINT16, mxUINT16, mxINT32, mxUINT32, mxINT64, mxUINT64:
		// numeric, readable
	default:
		return nil, &unsupportedError{name, fmt.Sprintf("class %d is not a numeric matrix", class)}
	}
	if flags&flagComplex != 0 {
		return nil, &unsupportedError{name, "complex matrices are not supported"}
	}
	if len(dims) != 2 {
		return nil, &unsupportedError{name, fmt.Sprintf("%d-dimensional arrays are not supported", len(dims))}
	}
	rows, cols := dims[0], dims[1]
	if rows < 0 || cols < 0 {
		return nil, fmt.Errorf("matrix %q has negative dimensions %v", name, dims)
	}

	// Real part.
	typ, data, _, err = element(b, off)
	if err != nil {
		return nil, err
	}
	values, err := decodeNumeric(typ, data, rows*cols)
	if err != nil {
		return nil, fmt.Errorf("matrix %q: %w", name, err)
	}
	return &Matrix{Name: name, Rows: rows, Cols: cols, data: values}, nil
}

// decodeNumeric widens n stored values of the given element type to float64.
// MATLAB writers shrink storage when values fit a narrower integer type, so
// the storage type is independent of the array class.
func decodeNumeric(typ uint32, data []byte, n int) ([]float64, error) {
	size, ok := elemSize(typ)
	if !ok {
		return nil, fmt.Errorf("unsupported storage type %d", typ)
	}
	if len(data) != n*size {
		return nil, fmt.Errorf("storage type %d: %d bytes for %d values", typ, len(data), n)
	}

	out := make([]float64, n)
	switch typ {
	case miDOUBLE:
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
		}
	case miSINGLE:
		for i := range out {
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:])))
		}
	case miINT8:
		for i := range out {
			out[i] = float64(int8(data[i]))
		}
	case miUINT8, miUTF8:
		for i := range out {
			out[i] = float64(data[i])
		}
	case miINT16:
		for i := range out {
			out[i] = float64(int16(binary.LittleEndian.Uint16(data[i*2:])))
		}
	case miUINT16:
		for i := range out {
			out[i] = float64(binary.LittleEndian.Uint16(data[i*2:]))
		}
	case miINT32:
		for i := range out {
			out[i] = float64(int32(binary.LittleEndian.Uint32(data[i*4:])))
		}
	case miUINT32:
		for i := range out {
			out[i] = float64(binary.LittleEndian.Uint32(data[i*4:]))
		}
	case miINT64:
		for i := range out {
			out[i] = float64(int64(binary.LittleEndian.Uint64(data[i*8:])))
		}
	case miUINT64:
		for i := range out {
			out[i] = float64(binary.LittleEndian.Uint64(data[i*8:]))
		}
	}
	return out, nil
}

func elemSize(typ uint32) (int, bool) {
	switch typ {
	case miINT8, miUINT8, miUTF8:
		return 1, true
	case miINT16, miUINT16:
		return 2, true
	case miINT32, miUINT32, miSINGLE:
		return 4, true
	case miDOUBLE, miINT64, miUINT64:
		return 8, true
	}
	return 0, false
}
