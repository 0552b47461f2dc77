// Package npy reads and writes NumPy .npy files, version 1.0, for the small
// set of dtypes the trial cache needs: little-endian float32 and int64 arrays
// in C order. The format is a 6-byte magic, a version, a resizable ASCII
// header describing dtype and shape, then the raw buffer.
package npy

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var magic = []byte("\x93NUMPY")

// headerAlign keeps the start of the data buffer aligned, matching what
// numpy itself writes.
const headerAlign = 64

// ioChunk is the transfer buffer size for the data section. Trial tensors
// run to tens of gigabytes, so the payload is streamed rather than staged
// in one allocation.
const ioChunk = 1 << 20

func shapeElems(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, fmt.Errorf("empty shape")
	}
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("negative dimension in shape %v", shape)
		}
		n *= d
	}
	return n, nil
}

// encodeHeader renders the magic, version and padded dict header for a
// version 1.0 file.
func encodeHeader(descr string, shape []int) []byte {
	var sb strings.Builder
	sb.WriteString("{'descr': '")
	sb.WriteString(descr)
	sb.WriteString("', 'fortran_order': False, 'shape': (")
	for i, d := range shape {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(strconv.Itoa(d))
	}
	if len(shape) == 1 {
		sb.WriteString(",")
	}
	sb.WriteString("), }")
	dict := sb.String()

	unpadded := len(magic) + 2 + 2 + len(dict) + 1
	pad := (headerAlign - unpadded%headerAlign) % headerAlign

	out := make([]byte, 0, unpadded+pad)
	out = append(out, magic...)
	out = append(out, 1, 0)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(dict)+pad+1))
	out = append(out, dict...)
	for i := 0; i < pad; i++ {
		out = append(out, ' ')
	}
	out = append(out, '\n')
	return out
}

// decodeHeader consumes the magic, version and dict header from r and
// returns the dtype descriptor and shape. Versions 1.0 and 2.0 are accepted;
// Fortran-ordered files are rejected.
func decodeHeader(r io.Reader) (descr string, shape []int, err error) {
	pre := make([]byte, 8)
	if _, err := io.ReadFull(r, pre); err != nil {
		return "", nil, fmt.Errorf("read magic: %w", err)
	}
	if string(pre[:6]) != string(magic) {
		return "", nil, fmt.Errorf("not an npy file (magic %q)", pre[:6])
	}
	major := pre[6]

	var headerLen int
	switch major {
	case 1:
		var raw [2]byte
		if _, err := io.ReadFull(r, raw[:]); err != nil {
			return "", nil, fmt.Errorf("read header length: %w", err)
		}
		headerLen = int(binary.LittleEndian.Uint16(raw[:]))
	case 2:
		var raw [4]byte
		if _, err := io.ReadFull(r, raw[:]); err != nil {
			return "", nil, fmt.Errorf("read header length: %w", err)
		}
		headerLen = int(binary.LittleEndian.Uint32(raw[:]))
	default:
		return "", nil, fmt.Errorf("unsupported npy version %d.%d", pre[6], pre[7])
	}

	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return "", nil, fmt.Errorf("read header: %w", err)
	}
	dict := string(header)

	descr, err = dictString(dict, "descr")
	if err != nil {
		return "", nil, err
	}
	order, err := dictRaw(dict, "fortran_order")
	if err != nil {
		return "", nil, err
	}
	if order != "False" {
		return "", nil, fmt.Errorf("unsupported fortran_order %s", order)
	}
	rawShape, err := dictRaw(dict, "shape")
	if err != nil {
		return "", nil, err
	}
	shape, err = parseShape(rawShape)
	if err != nil {
		return "", nil, err
	}
	return descr, shape, nil
}

// dictRaw extracts the raw value of key from the header dict, up to the next
// top-level comma or closing brace.
func dictRaw(dict, key string) (string, error) {
	marker := "'" + key + "':"
	i := strings.Index(dict, marker)
	if i < 0 {
		return "", fmt.Errorf("header missing %q: %s", key, dict)
	}
	rest := dict[i+len(marker):]
	depth := 0
	for j := 0; j < len(rest); j++ {
		switch rest[j] {
		case '(':
			depth++
		case ')':
			depth--
		case ',', '}':
			if depth == 0 {
				return strings.TrimSpace(rest[:j]), nil
			}
		}
	}
	return strings.TrimSpace(rest), nil
}

func dictString(dict, key string) (string, error) {
	raw, err := dictRaw(dict, key)
	if err != nil {
		return "", err
	}
	if len(raw) < 2 || raw[0] != '\'' || raw[len(raw)-1] != '\'' {
		return "", fmt.Errorf("header %q is not a string: %s", key, raw)
	}
	return raw[1 : len(raw)-1], nil
}

func parseShape(raw string) ([]int, error) {
	if len(raw) < 2 || raw[0] != '(' || raw[len(raw)-1] != ')' {
		return nil, fmt.Errorf("malformed shape %s", raw)
	}
	inner := strings.TrimSpace(raw[1 : len(raw)-1])
	inner = strings.TrimSuffix(inner, ",")
	if inner == "" {
		return nil, fmt.Errorf("scalar (rank 0) arrays are not supported")
	}
	parts := strings.Split(inner, ",")
	shape := make([]int, 0, len(parts))
	for _, p := range parts {
		d, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("malformed shape %s: %w", raw, err)
		}
		shape = append(shape, d)
	}
	return shape, nil
}

// writeAtomically stages the payload in a temp file next to path and renames
// it into place, so readers never observe a partially written array.
func writeAtomically(path string, write func(w *bufio.Writer) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := bufio.NewWriterSize(tmp, ioChunk)
	if err := write(w); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s to %s: %w", tmpName, path, err)
	}
	return nil
}

// WriteFloat32 saves data with the given shape as a little-endian float32
// array. The number of elements must match the shape product. The file is
// written atomically.
func WriteFloat32(path string, data []float32, shape []int) error {
	n, err := shapeElems(shape)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if n != len(data) {
		return fmt.Errorf("write %s: %d elements do not fit shape %v", path, len(data), shape)
	}
	return writeAtomically(path, func(w *bufio.Writer) error {
		if _, err := w.Write(encodeHeader("<f4", shape)); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		var raw [4]byte
		for _, v := range data {
			binary.LittleEndian.PutUint32(raw[:], math.Float32bits(v))
			if _, err := w.Write(raw[:]); err != nil {
				return fmt.Errorf("write data: %w", err)
			}
		}
		return nil
	})
}

// WriteInt64 saves data with the given shape as a little-endian int64 array.
// The file is written atomically.
func WriteInt64(path string, data []int64, shape []int) error {
	n, err := shapeElems(shape)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if n != len(data) {
		return fmt.Errorf("write %s: %d elements do not fit shape %v", path, len(data), shape)
	}
	return writeAtomically(path, func(w *bufio.Writer) error {
		if _, err := w.Write(encodeHeader("<i8", shape)); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		var raw [8]byte
		for _, v := range data {
			binary.LittleEndian.PutUint64(raw[:], uint64(v))
			if _, err := w.Write(raw[:]); err != nil {
				return fmt.Errorf("write data: %w", err)
			}
		}
		return nil
	})
}

// ReadFloat32 loads a little-endian float32 array and returns the flat data
// in C order along with its shape.
func ReadFloat32(path string) ([]float32, []int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, ioChunk)
	descr, shape, err := decodeHeader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	if descr != "<f4" {
		return nil, nil, fmt.Errorf("read %s: dtype %q, want <f4", path, descr)
	}
	n, err := shapeElems(shape)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}

	data := make([]float32, n)
	var raw [4]byte
	for i := range data {
		if _, err := io.ReadFull(r, raw[:]); err != nil {
			return nil, nil, fmt.Errorf("read %s: data truncated at element %d of %d: %w", path, i, n, err)
		}
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[:]))
	}
	if err := expectEOF(r); err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, shape, nil
}

// ReadInt64 loads a little-endian int64 array and returns the flat data in C
// order along with its shape.
func ReadInt64(path string) ([]int64, []int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, ioChunk)
	descr, shape, err := decodeHeader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	if descr != "<i8" {
		return nil, nil, fmt.Errorf("read %s: dtype %q, want <i8", path, descr)
	}
	n, err := shapeElems(shape)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}

	data := make([]int64, n)
	var raw [8]byte
	for i := range data {
		if _, err := io.ReadFull(r, raw[:]); err != nil {
			return nil, nil, fmt.Errorf("read %s: data truncated at element %d of %d: %w", path, i, n, err)
		}
		data[i] = int64(binary.LittleEndian.Uint64(raw[:]))
	}
	if err := expectEOF(r); err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, shape, nil
}

func expectEOF(r io.Reader) error {
	var one [1]byte
	if n, err := r.Read(one[:]); n > 0 || err != io.EOF {
		return fmt.Errorf("trailing bytes after array data")
	}
	return nil
}
