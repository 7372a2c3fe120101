// Package nrrd reads 3D scalar volumes stored in the NRRD format
// (http://teem.sourceforge.net/nrrd/format.html), the format the inner-ear
// atlas ships its CT scan in.
package nrrd

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"gonum.org/v1/gonum/spatial/r3"

	"innerear/internal/models"
)

// Header holds the NRRD fields this reader understands.
type Header struct {
	Version    int
	Type       string
	Dimension  int
	Sizes      []int
	Encoding   string
	Endian     binary.ByteOrder
	Spacings   []float64
	Directions []r3.Vec
	Origin     r3.Vec
	DataFile   string
	ByteSkip   int
	LineSkip   int
	Fields     map[string]string
}

// Loader implements formats.VolumeLoader for NRRD.
type Loader struct{}

func (Loader) Name() string { return "nrrd" }

func (Loader) Extensions() []string { return []string{".nrrd", ".nhdr"} }

// Sniff checks for the NRRD000x magic.
func (Loader) Sniff(header []byte) bool {
	return len(header) >= 8 && bytes.HasPrefix(header, []byte("NRRD000"))
}

// LoadVolume parses an attached or detached NRRD volume.
func (Loader) LoadVolume(r io.Reader, path string) (*models.Volume, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}

	h, err := ReadHeader(br)
	if err != nil {
		return nil, err
	}

	data := io.Reader(br)
	if h.DataFile != "" {
		dataPath := h.DataFile
		if !filepath.IsAbs(dataPath) {
			dataPath = filepath.Join(filepath.Dir(path), dataPath)
		}
		f, err := os.Open(dataPath)
		if err != nil {
			return nil, fmt.Errorf("detached data file: %w", err)
		}
		defer f.Close()
		data = bufio.NewReader(f)
	}

	samples, err := readSamples(h, data)
	if err != nil {
		return nil, err
	}

	return h.volume(samples)
}

// ReadHeader parses the header up to and including the blank separator line.
func ReadHeader(br *bufio.Reader) (*Header, error) {
	magic, err := readLine(br)
	if err != nil {
		return nil, fmt.Errorf("reading magic: %w", err)
	}
	if !strings.HasPrefix(magic, "NRRD000") || len(magic) != 8 {
		return nil, fmt.Errorf("bad magic %q", magic)
	}
	version, err := strconv.Atoi(magic[7:])
	if err != nil || version < 1 || version > 5 {
		return nil, fmt.Errorf("unsupported NRRD version %q", magic)
	}

	h := &Header{
		Version:  version,
		Encoding: "raw",
		Endian:   binary.LittleEndian,
		Fields:   make(map[string]string),
	}

	for {
		line, err := readLine(br)
		if err != nil {
			if errors.Is(err, io.EOF) && line == "" {
				// Detached headers may end without a separator
				break
			}
			if !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("reading header: %w", err)
			}
		}
		if line == "" {
			break
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		// key:=value pairs are free-form metadata
		if strings.Contains(line, ":=") {
			continue
		}
		key, value, found := strings.Cut(line, ": ")
		if !found {
			return nil, fmt.Errorf("malformed header line %q", line)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		h.Fields[key] = value

		if err := h.apply(key, value); err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
	}

	if err := h.check(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Header) apply(key, value string) error {
	var err error
	switch key {
	case "type":
		h.Type, err = canonicalType(value)
	case "dimension":
		h.Dimension, err = strconv.Atoi(value)
	case "sizes":
		h.Sizes, err = parseInts(value)
	case "encoding":
		h.Encoding = strings.ToLower(value)
	case "endian":
		switch strings.ToLower(value) {
		case "little":
			h.Endian = binary.LittleEndian
		case "big":
			h.Endian = binary.BigEndian
		default:
			err = fmt.Errorf("unknown endian %q", value)
		}
	case "spacings":
		h.Spacings, err = parseFloats(value)
	case "space directions":
		h.Directions, err = parseVectors(value)
	case "space origin":
		var vs []r3.Vec
		vs, err = parseVectors(value)
		if err == nil && len(vs) != 1 {
			err = fmt.Errorf("expected one vector, got %d", len(vs))
		}
		if err == nil {
			h.Origin = vs[0]
		}
	case "data file", "datafile":
		if strings.HasPrefix(value, "LIST") || strings.Contains(value, "%") {
			err = fmt.Errorf("multi-file data %q is not supported", value)
		}
		h.DataFile = value
	case "byte skip", "byteskip":
		h.ByteSkip, err = strconv.Atoi(value)
		if err == nil && h.ByteSkip < 0 {
			err = errors.New("negative byte skip is not supported")
		}
	case "line skip", "lineskip":
		h.LineSkip, err = strconv.Atoi(value)
	}
	return err
}

func (h *Header) check() error {
	if h.Type == "" {
		return errors.New("missing type field")
	}
	if h.Dimension != 3 {
		return fmt.Errorf("expected a 3 dimensional volume, got dimension %d", h.Dimension)
	}
	if len(h.Sizes) != 3 {
		return fmt.Errorf("expected 3 sizes, got %d", len(h.Sizes))
	}
	if _, err := h.Samples(); err != nil {
		return fmt.Errorf("sizes %v: %w", h.Sizes, err)
	}
	if h.Directions != nil && len(h.Directions) != 3 {
		return fmt.Errorf("expected 3 space directions, got %d", len(h.Directions))
	}
	if h.Spacings != nil && len(h.Spacings) != 3 {
		return fmt.Errorf("expected 3 spacings, got %d", len(h.Spacings))
	}
	switch h.Encoding {
	case "raw", "gzip", "gz", "ascii", "text", "txt":
	default:
		return fmt.Errorf("unsupported encoding %q", h.Encoding)
	}
	return nil
}

// Samples returns the number of samples the header declares.
func (h *Header) Samples() (int, error) {
	if len(h.Sizes) != 3 {
		return 0, fmt.Errorf("expected 3 sizes, got %d", len(h.Sizes))
	}
	return models.SampleCount([3]int{h.Sizes[0], h.Sizes[1], h.Sizes[2]})
}

// volume converts the header geometry and samples into a models.Volume.
func (h *Header) volume(samples []float64) (*models.Volume, error) {
	v := &models.Volume{
		Data:   samples,
		Dims:   [3]int{h.Sizes[0], h.Sizes[1], h.Sizes[2]},
		Origin: h.Origin,
	}

	for a := 0; a < 3; a++ {
		switch {
		case h.Directions != nil:
			n := r3.Norm(h.Directions[a])
			if n == 0 {
				return nil, fmt.Errorf("space direction %d is zero", a)
			}
			v.Spacing[a] = n
			v.Directions[a] = r3.Scale(1/n, h.Directions[a])
		case h.Spacings != nil && !math.IsNaN(h.Spacings[a]):
			s := h.Spacings[a]
			unit := r3.Vec{}
			switch a {
			case 0:
				unit.X = 1
			case 1:
				unit.Y = 1
			case 2:
				unit.Z = 1
			}
			if s < 0 {
				s = -s
				unit = r3.Scale(-1, unit)
			}
			v.Spacing[a] = s
			v.Directions[a] = unit
		default:
			v.Spacing[a] = 1
			v.Directions[a] = [3]r3.Vec{{X: 1}, {Y: 1}, {Z: 1}}[a]
		}
	}

	if err := v.Validate(); err != nil {
		return nil, err
	}
	return v, nil
}

func readSamples(h *Header, r io.Reader) ([]float64, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	for i := 0; i < h.LineSkip; i++ {
		if _, err := br.ReadString('\n'); err != nil {
			return nil, fmt.Errorf("line skip: %w", err)
		}
	}

	var src io.Reader = br
	if h.Encoding == "gzip" || h.Encoding == "gz" {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer zr.Close()
		src = zr
	}

	if h.ByteSkip > 0 {
		if _, err := io.CopyN(io.Discard, src, int64(h.ByteSkip)); err != nil {
			return nil, fmt.Errorf("byte skip: %w", err)
		}
	}

	n, err := h.Samples()
	if err != nil {
		return nil, err
	}
	switch h.Encoding {
	case "ascii", "text", "txt":
		return readASCII(src, n)
	}

	size := typeSize[h.Type]
	buf, err := readBytes(src, int64(n)*int64(size))
	if err != nil {
		return nil, fmt.Errorf("reading %d samples of %s: %w", n, h.Type, err)
	}
	return decode(buf, h.Type, h.Endian, n), nil
}

// readBytes reads exactly n bytes. The buffer grows as data arrives, so a
// header that overstates the payload fails at end of data instead of
// allocating the declared size up front.
func readBytes(r io.Reader, n int64) ([]byte, error) {
	var buf bytes.Buffer
	if n < 1<<20 {
		buf.Grow(int(n))
	}
	got, err := io.CopyN(&buf, r, n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: got %d of %d bytes", io.ErrUnexpectedEOF, got, n)
		}
		return nil, err
	}
	return buf.Bytes(), nil
}

func readASCII(r io.Reader, n int) ([]float64, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	sc.Split(bufio.ScanWords)

	out := make([]float64, 0, min(n, 1<<16))
	for len(out) < n && sc.Scan() {
		f, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", len(out), err)
		}
		out = append(out, f)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(out) != n {
		return nil, fmt.Errorf("expected %d samples, got %d", n, len(out))
	}
	return out, nil
}

func decode(buf []byte, typ string, order binary.ByteOrder, n int) []float64 {
	out := make([]float64, n)
	switch typ {
	case "int8":
		for i := range out {
			out[i] = float64(int8(buf[i]))
		}
	case "uint8":
		for i := range out {
			out[i] = float64(buf[i])
		}
	case "int16":
		for i := range out {
			out[i] = float64(int16(order.Uint16(buf[i*2:])))
		}
	case "uint16":
		for i := range out {
			out[i] = float64(order.Uint16(buf[i*2:]))
		}
	case "int32":
		for i := range out {
			out[i] = float64(int32(order.Uint32(buf[i*4:])))
		}
	case "uint32":
		for i := range out {
			out[i] = float64(order.Uint32(buf[i*4:]))
		}
	case "int64":
		for i := range out {
			out[i] = float64(int64(order.Uint64(buf[i*8:])))
		}
	case "uint64":
		for i := range out {
			out[i] = float64(order.Uint64(buf[i*8:]))
		}
	case "float32":
		for i := range out {
			out[i] = float64(math.Float32frombits(order.Uint32(buf[i*4:])))
		}
	case "float64":
		for i := range out {
			out[i] = math.Float64frombits(order.Uint64(buf[i*8:]))
		}
	}
	return out
}

var typeSize = map[string]int{
	"int8": 1, "uint8": 1,
	"int16": 2, "uint16": 2,
	"int32": 4, "uint32": 4,
	"int64": 8, "uint64": 8,
	"float32": 4, "float64": 8,
}

var typeAliases = map[string]string{
	"signed char": "int8", "int8": "int8", "int8_t": "int8",
	"uchar": "uint8", "unsigned char": "uint8", "uint8": "uint8", "uint8_t": "uint8",
	"short": "int16", "short int": "int16", "signed short": "int16", "signed short int": "int16",
	"int16": "int16", "int16_t": "int16",
	"ushort": "uint16", "unsigned short": "uint16", "unsigned short int": "uint16",
	"uint16": "uint16", "uint16_t": "uint16",
	"int": "int32", "signed int": "int32", "int32": "int32", "int32_t": "int32",
	"uint": "uint32", "unsigned int": "uint32", "uint32": "uint32", "uint32_t": "uint32",
	"longlong": "int64", "long long": "int64", "long long int": "int64",
	"signed long long": "int64", "signed long long int": "int64", "int64": "int64", "int64_t": "int64",
	"ulonglong": "uint64", "unsigned long long": "uint64", "unsigned long long int": "uint64",
	"uint64": "uint64", "uint64_t": "uint64",
	"float": "float32", "double": "float64",
}

func canonicalType(s string) (string, error) {
	t, ok := typeAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unsupported type %q", s)
	}
	return t, nil
}

func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	return strings.TrimRight(line, "\r\n"), err
}

func parseInts(s string) ([]int, error) {
	fields := strings.Fields(s)
	out := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func parseFloats(s string) ([]float64, error) {
	fields := strings.Fields(s)
	out := make([]float64, len(fields))
	for i, f := range fields {
		if strings.EqualFold(f, "nan") {
			out[i] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// parseVectors parses "(x,y,z) (x,y,z) none ..." into vectors. "none"
// entries are rejected because only fully spatial volumes are supported.
func parseVectors(s string) ([]r3.Vec, error) {
	var out []r3.Vec
	for {
		s = strings.TrimSpace(s)
		if s == "" {
			break
		}
		if strings.HasPrefix(s, "none") {
			return nil, errors.New("non-spatial axis is not supported")
		}
		if s[0] != '(' {
			return nil, fmt.Errorf("expected '(' in %q", s)
		}
		end := strings.IndexByte(s, ')')
		if end < 0 {
			return nil, fmt.Errorf("unterminated vector in %q", s)
		}
		tok := s[1:end]
		s = s[end+1:]

		parts := strings.Split(tok, ",")
		if len(parts) != 3 {
			return nil, fmt.Errorf("expected 3 components in %q", tok)
		}
		var c [3]float64
		for i, p := range parts {
			v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return nil, err
			}
			c[i] = v
		}
		out = append(out, r3.Vec{X: c[0], Y: c[1], Z: c[2]})
	}
	return out, nil
}
