// Package vtk reads surface meshes from legacy VTK POLYDATA files, the
// format the inner-ear atlas ships its structure models in.
package vtk

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"innerear/internal/models"
)

const magic = "# vtk DataFile Version"

// maxValues bounds the element counts a section header may declare.
const maxValues = math.MaxInt32

// Loader implements formats.MeshLoader for legacy VTK polydata.
type Loader struct{}

func (Loader) Name() string { return "vtk" }

func (Loader) Extensions() []string { return []string{".vtk"} }

// Sniff checks for the legacy VTK header line.
func (Loader) Sniff(header []byte) bool {
	return bytes.HasPrefix(header, []byte(magic))
}

// LoadMesh parses ASCII or BINARY legacy polydata. Polygons are fan
// triangulated and triangle strips are unrolled; lines and vertices are
// ignored.
func (Loader) LoadMesh(r io.Reader, path string) (*models.Surface, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	p := &parser{br: br}
	return p.parse()
}

type parser struct {
	br      *bufio.Reader
	binary  bool
	version float64
	surface models.Surface
}

func (p *parser) parse() (*models.Surface, error) {
	head, err := p.line()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if !strings.HasPrefix(head, magic) {
		return nil, fmt.Errorf("not a legacy VTK file: %q", head)
	}
	version := strings.Fields(strings.TrimPrefix(head, magic))
	if len(version) == 0 {
		return nil, fmt.Errorf("missing version in header %q", head)
	}
	if p.version, err = strconv.ParseFloat(version[0], 64); err != nil {
		return nil, fmt.Errorf("bad version in header %q: %w", head, err)
	}

	// Title line, free text
	if _, err := p.line(); err != nil {
		return nil, fmt.Errorf("reading title: %w", err)
	}

	format, err := p.nonEmptyLine()
	if err != nil {
		return nil, fmt.Errorf("reading format: %w", err)
	}
	switch strings.ToUpper(strings.TrimSpace(format)) {
	case "ASCII":
	case "BINARY":
		p.binary = true
	default:
		return nil, fmt.Errorf("unknown data format %q", format)
	}

	dataset, err := p.nonEmptyLine()
	if err != nil {
		return nil, fmt.Errorf("reading dataset: %w", err)
	}
	fields := strings.Fields(dataset)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "DATASET") {
		return nil, fmt.Errorf("expected DATASET line, got %q", dataset)
	}
	if !strings.EqualFold(fields[1], "POLYDATA") {
		return nil, fmt.Errorf("unsupported dataset type %s", fields[1])
	}

	sawPoints := false
	for {
		line, err := p.nonEmptyLine()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		fields := strings.Fields(line)
		keyword := strings.ToUpper(fields[0])

		switch keyword {
		case "POINTS":
			if err := p.points(fields); err != nil {
				return nil, fmt.Errorf("POINTS: %w", err)
			}
			sawPoints = true
		case "POLYGONS", "TRIANGLE_STRIPS", "LINES", "VERTICES":
			cells, err := p.cells(fields)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", keyword, err)
			}
			switch keyword {
			case "POLYGONS":
				p.addPolygons(cells)
			case "TRIANGLE_STRIPS":
				p.addStrips(cells)
			}
		case "METADATA":
			if err := p.skipMetadata(); err != nil {
				return nil, err
			}
		case "POINT_DATA", "CELL_DATA", "FIELD":
			// Attributes are not used for display
			return p.finish(sawPoints)
		default:
			return nil, fmt.Errorf("unexpected keyword %q", fields[0])
		}
	}

	return p.finish(sawPoints)
}

func (p *parser) finish(sawPoints bool) (*models.Surface, error) {
	if !sawPoints {
		return nil, errors.New("no POINTS section")
	}
	s := p.surface
	return &s, nil
}

func (p *parser) points(fields []string) error {
	if len(fields) != 3 {
		return fmt.Errorf("expected 'POINTS n type', got %q", strings.Join(fields, " "))
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil || n < 0 || n > maxValues/3 {
		return fmt.Errorf("bad point count %q", fields[1])
	}
	values, err := p.floats(3*n, strings.ToLower(fields[2]))
	if err != nil {
		return err
	}
	p.surface.Vertices = make([]r3.Vec, n)
	for i := range p.surface.Vertices {
		p.surface.Vertices[i] = r3.Vec{X: values[3*i], Y: values[3*i+1], Z: values[3*i+2]}
	}
	return nil
}

// cells returns the point lists of a cell section in either the classic
// count-prefixed layout or the 5.x OFFSETS/CONNECTIVITY layout.
func (p *parser) cells(fields []string) ([][]int, error) {
	if len(fields) != 3 {
		return nil, fmt.Errorf("expected 'KEYWORD n size', got %q", strings.Join(fields, " "))
	}
	a, err1 := strconv.Atoi(fields[1])
	b, err2 := strconv.Atoi(fields[2])
	if err1 != nil || err2 != nil || a < 0 || b < 0 || a > maxValues || b > maxValues {
		return nil, fmt.Errorf("bad cell counts %q %q", fields[1], fields[2])
	}

	if p.version >= 5 {
		return p.offsetCells(a, b)
	}

	flat, err := p.ints(b, "int")
	if err != nil {
		return nil, err
	}
	cells := make([][]int, 0, min(a, len(flat)))
	pos := 0
	for c := 0; c < a; c++ {
		if pos >= len(flat) {
			return nil, fmt.Errorf("cell %d: data ends early", c)
		}
		cnt := flat[pos]
		pos++
		if cnt < 0 || pos+cnt > len(flat) {
			return nil, fmt.Errorf("cell %d: bad point count %d", c, cnt)
		}
		cells = append(cells, flat[pos:pos+cnt])
		pos += cnt
	}
	return cells, nil
}

func (p *parser) offsetCells(nOffsets, nConn int) ([][]int, error) {
	offsets, err := p.typedArray("OFFSETS", nOffsets)
	if err != nil {
		return nil, err
	}
	conn, err := p.typedArray("CONNECTIVITY", nConn)
	if err != nil {
		return nil, err
	}
	var cells [][]int
	for i := 0; i+1 < len(offsets); i++ {
		lo, hi := offsets[i], offsets[i+1]
		if lo < 0 || hi < lo || hi > len(conn) {
			return nil, fmt.Errorf("bad offsets %d..%d", lo, hi)
		}
		cells = append(cells, conn[lo:hi])
	}
	return cells, nil
}

func (p *parser) typedArray(name string, n int) ([]int, error) {
	line, err := p.nonEmptyLine()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	fields := strings.Fields(line)
	if len(fields) != 2 || !strings.EqualFold(fields[0], name) {
		return nil, fmt.Errorf("expected '%s type', got %q", name, line)
	}
	return p.ints(n, strings.ToLower(fields[1]))
}

func (p *parser) addPolygons(cells [][]int) {
	for _, c := range cells {
		for i := 1; i+1 < len(c); i++ {
			p.surface.Triangles = append(p.surface.Triangles, [3]int{c[0], c[i], c[i+1]})
		}
	}
}

func (p *parser) addStrips(cells [][]int) {
	for _, c := range cells {
		for i := 0; i+2 < len(c); i++ {
			if i%2 == 0 {
				p.surface.Triangles = append(p.surface.Triangles, [3]int{c[i], c[i+1], c[i+2]})
			} else {
				p.surface.Triangles = append(p.surface.Triangles, [3]int{c[i+1], c[i], c[i+2]})
			}
		}
	}
}

// skipMetadata consumes lines up to the blank line that ends a METADATA block.
func (p *parser) skipMetadata() error {
	for {
		line, err := p.line()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if strings.TrimSpace(line) == "" {
			return nil
		}
	}
}

// floats reads n values. Storage grows as values arrive, so a count larger
// than the file fails at end of data.
func (p *parser) floats(n int, typ string) ([]float64, error) {
	out := make([]float64, 0, min(n, 1<<16))
	if !p.binary {
		for i := 0; i < n; i++ {
			w, err := p.word()
			if err != nil {
				return nil, fmt.Errorf("value %d of %d: %w", i, n, err)
			}
			f, err := strconv.ParseFloat(w, 64)
			if err != nil {
				return nil, fmt.Errorf("value %d: %w", i, err)
			}
			out = append(out, f)
		}
		return out, nil
	}

	size, err := scalarSize(typ)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if got, err := io.CopyN(&buf, p.br, int64(n)*int64(size)); err != nil {
		return nil, fmt.Errorf("reading %d %s values, got %d bytes: %w", n, typ, got, err)
	}
	data := buf.Bytes()
	for i := 0; i < n; i++ {
		out = append(out, decodeScalar(data[i*size:], typ))
	}
	return out, nil
}

func (p *parser) ints(n int, typ string) ([]int, error) {
	values, err := p.floats(n, typ)
	if err != nil {
		return nil, err
	}
	out := make([]int, n)
	for i, v := range values {
		if v != math.Trunc(v) {
			return nil, fmt.Errorf("index %d is not an integer: %g", i, v)
		}
		out[i] = int(v)
	}
	return out, nil
}

func scalarSize(typ string) (int, error) {
	switch typ {
	case "float", "int", "unsigned_int", "vtktypeint32", "vtktypeuint32":
		return 4, nil
	case "double", "long", "unsigned_long", "vtktypeint64", "vtktypeuint64", "vtkidtype":
		return 8, nil
	case "short", "unsigned_short":
		return 2, nil
	case "char", "unsigned_char", "bit":
		return 1, nil
	}
	return 0, fmt.Errorf("unsupported binary type %q", typ)
}

// decodeScalar reads one big-endian value; binary legacy VTK is always big-endian.
func decodeScalar(b []byte, typ string) float64 {
	be := binary.BigEndian
	switch typ {
	case "float":
		return float64(math.Float32frombits(be.Uint32(b)))
	case "double":
		return math.Float64frombits(be.Uint64(b))
	case "int", "vtktypeint32":
		return float64(int32(be.Uint32(b)))
	case "unsigned_int", "vtktypeuint32":
		return float64(be.Uint32(b))
	case "long", "vtktypeint64", "vtkidtype":
		return float64(int64(be.Uint64(b)))
	case "unsigned_long", "vtktypeuint64":
		return float64(be.Uint64(b))
	case "short":
		return float64(int16(be.Uint16(b)))
	case "unsigned_short":
		return float64(be.Uint16(b))
	case "char":
		return float64(int8(b[0]))
	}
	return float64(b[0])
}

func (p *parser) line() (string, error) {
	s, err := p.br.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && s != "") {
		return "", err
	}
	return strings.TrimRight(s, "\r\n"), nil
}

func (p *parser) nonEmptyLine() (string, error) {
	for {
		s, err := p.line()
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(s) != "" {
			return s, nil
		}
	}
}

// word reads one whitespace separated token.
func (p *parser) word() (string, error) {
	var sb strings.Builder
	for {
		c, err := p.br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && sb.Len() > 0 {
				return sb.String(), nil
			}
			return "", err
		}
		if isSpace(c) {
			if sb.Len() > 0 {
				return sb.String(), nil
			}
			continue
		}
		sb.WriteByte(c)
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t'
}
