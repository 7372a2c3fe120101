// Package stl reads and writes triangle meshes in the STL format, both the
// binary layout and the ASCII "solid" layout.
package stl

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"innerear/internal/models"
)

// Triangle represents a single triangle in the STL file
type Triangle struct {
	Normal  [3]float32
	Vertex1 [3]float32
	Vertex2 [3]float32
	Vertex3 [3]float32
}

const (
	headerSize   = 80
	triangleSize = 50
)

// SaveToSTL writes triangles as a binary STL file
func SaveToSTL(filename string, triangles []Triangle) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	if err := Write(w, triangles); err != nil {
		return err
	}
	return w.Flush()
}

// Write encodes triangles in binary STL.
func Write(w io.Writer, triangles []Triangle) error {
	header := make([]byte, headerSize)
	copy(header, "innerear binary STL")
	if _, err := w.Write(header); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(triangles))); err != nil {
		return err
	}

	buf := make([]byte, triangleSize)
	for _, t := range triangles {
		off := 0
		for _, v := range [4][3]float32{t.Normal, t.Vertex1, t.Vertex2, t.Vertex3} {
			for _, c := range v {
				binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(c))
				off += 4
			}
		}
		// attribute byte count
		buf[48], buf[49] = 0, 0
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// Read decodes binary or ASCII STL.
func Read(r io.Reader) ([]Triangle, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	// ASCII files start with "solid", but so do some binary headers; the
	// binary size check decides.
	if len(data) >= headerSize+4 {
		n := binary.LittleEndian.Uint32(data[headerSize:])
		if int64(len(data)) == int64(headerSize+4)+int64(n)*triangleSize {
			return readBinary(data[headerSize+4:], int(n)), nil
		}
	}
	if bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte("solid")) {
		return readASCII(data)
	}
	if len(data) < headerSize+4 {
		return nil, fmt.Errorf("file too short for binary STL: %d bytes", len(data))
	}
	n := binary.LittleEndian.Uint32(data[headerSize:])
	return nil, fmt.Errorf("binary STL declares %d triangles but holds %d bytes", n, len(data))
}

func readBinary(data []byte, n int) []Triangle {
	out := make([]Triangle, n)
	for i := range out {
		rec := data[i*triangleSize:]
		var vs [4][3]float32
		for v := 0; v < 4; v++ {
			for c := 0; c < 3; c++ {
				vs[v][c] = math.Float32frombits(binary.LittleEndian.Uint32(rec[(v*3+c)*4:]))
			}
		}
		out[i] = Triangle{Normal: vs[0], Vertex1: vs[1], Vertex2: vs[2], Vertex3: vs[3]}
	}
	return out
}

func readASCII(data []byte) ([]Triangle, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 1<<20)

	var (
		out   []Triangle
		cur   Triangle
		verts int
		line  int
	)
	for sc.Scan() {
		line++
		f := strings.Fields(sc.Text())
		if len(f) == 0 {
			continue
		}
		switch f[0] {
		case "facet":
			if len(f) != 5 || f[1] != "normal" {
				return nil, fmt.Errorf("line %d: malformed facet", line)
			}
			n, err := parseVec(f[2:])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			cur = Triangle{Normal: n}
			verts = 0
		case "vertex":
			if len(f) != 4 || verts >= 3 {
				return nil, fmt.Errorf("line %d: malformed vertex", line)
			}
			v, err := parseVec(f[1:])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			switch verts {
			case 0:
				cur.Vertex1 = v
			case 1:
				cur.Vertex2 = v
			case 2:
				cur.Vertex3 = v
			}
			verts++
		case "endfacet":
			if verts != 3 {
				return nil, fmt.Errorf("line %d: facet has %d vertices", line, verts)
			}
			out = append(out, cur)
		case "solid", "outer", "endloop", "endsolid":
		default:
			return nil, fmt.Errorf("line %d: unexpected %q", line, f[0])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func parseVec(f []string) ([3]float32, error) {
	var v [3]float32
	for i := 0; i < 3; i++ {
		x, err := strconv.ParseFloat(f[i], 32)
		if err != nil {
			return v, err
		}
		v[i] = float32(x)
	}
	return v, nil
}

// ToSurface welds identical vertex positions and returns an indexed mesh.
func ToSurface(triangles []Triangle) *models.Surface {
	s := &models.Surface{Opacity: 1}
	index := make(map[[3]float32]int)
	vid := func(p [3]float32) int {
		if i, ok := index[p]; ok {
			return i
		}
		i := len(s.Vertices)
		index[p] = i
		s.Vertices = append(s.Vertices, r3.Vec{X: float64(p[0]), Y: float64(p[1]), Z: float64(p[2])})
		return i
	}
	for _, t := range triangles {
		s.Triangles = append(s.Triangles, [3]int{vid(t.Vertex1), vid(t.Vertex2), vid(t.Vertex3)})
	}
	return s
}

// FromSurface flattens an indexed mesh into STL triangles with face normals.
func FromSurface(s *models.Surface) []Triangle {
	out := make([]Triangle, 0, len(s.Triangles))
	f32 := func(v r3.Vec) [3]float32 { return [3]float32{float32(v.X), float32(v.Y), float32(v.Z)} }
	for _, tri := range s.Triangles {
		a, b, c := s.Vertices[tri[0]], s.Vertices[tri[1]], s.Vertices[tri[2]]
		n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
		if l := r3.Norm(n); l > 0 {
			n = r3.Scale(1/l, n)
		}
		out = append(out, Triangle{Normal: f32(n), Vertex1: f32(a), Vertex2: f32(b), Vertex3: f32(c)})
	}
	return out
}

// Loader implements formats.MeshLoader for STL.
type Loader struct{}

func (Loader) Name() string { return "stl" }

func (Loader) Extensions() []string { return []string{".stl"} }

// Sniff accepts ASCII STL only; binary STL has no magic.
func (Loader) Sniff(header []byte) bool {
	h := bytes.TrimLeft(header, " \t\r\n")
	return bytes.HasPrefix(h, []byte("solid")) && bytes.Contains(h, []byte("facet"))
}

// LoadMesh reads an STL file into an indexed surface.
func (Loader) LoadMesh(r io.Reader, path string) (*models.Surface, error) {
	tris, err := Read(r)
	if err != nil {
		return nil, err
	}
	if len(tris) == 0 {
		return nil, errors.New("no facets")
	}
	return ToSurface(tris), nil
}
