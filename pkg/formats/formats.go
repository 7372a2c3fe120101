// Package formats resolves volume and mesh files to a loader by file
// extension or, failing that, by sniffing the file header.
package formats

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"innerear/internal/models"
)

// sniffLen is how much of a file is offered to Sniff.
const sniffLen = 512

// Kind distinguishes the two input categories.
type Kind string

const (
	KindVolume Kind = "volume"
	KindMesh   Kind = "mesh"
)

// LoadError reports a present file that could not be parsed.
type LoadError struct {
	Path string
	Kind Kind
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("cannot load %s %s: %v", e.Kind, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ErrUnknownFormat is wrapped by LoadError when no loader accepts a file.
var ErrUnknownFormat = errors.New("unrecognized file format")

// VolumeLoader reads one volumetric image format.
type VolumeLoader interface {
	// Name is a short format name used in logs
	Name() string
	// Extensions lists lower-case extensions including the dot
	Extensions() []string
	// Sniff reports whether header looks like this format
	Sniff(header []byte) bool
	// LoadVolume parses r. path is used to resolve detached data files.
	LoadVolume(r io.Reader, path string) (*models.Volume, error)
}

// MeshLoader reads one surface mesh format.
type MeshLoader interface {
	Name() string
	Extensions() []string
	Sniff(header []byte) bool
	LoadMesh(r io.Reader, path string) (*models.Surface, error)
}

// Registry holds the known loaders in priority order.
type Registry struct {
	volumes []VolumeLoader
	meshes  []MeshLoader
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// RegisterVolume adds a volume loader.
func (r *Registry) RegisterVolume(l VolumeLoader) {
	r.volumes = append(r.volumes, l)
}

// RegisterMesh adds a mesh loader.
func (r *Registry) RegisterMesh(l MeshLoader) {
	r.meshes = append(r.meshes, l)
}

// LoadVolume opens path and parses it with the matching loader.
func (r *Registry) LoadVolume(path string) (*models.Volume, error) {
	f, header, err := openSniff(path)
	if err != nil {
		return nil, &LoadError{Path: path, Kind: KindVolume, Err: err}
	}
	defer f.Close()

	l := r.volumeFor(path, header)
	if l == nil {
		return nil, &LoadError{Path: path, Kind: KindVolume, Err: ErrUnknownFormat}
	}

	vol, err := l.LoadVolume(f, path)
	if err != nil {
		return nil, &LoadError{Path: path, Kind: KindVolume, Err: fmt.Errorf("%s: %w", l.Name(), err)}
	}
	if err := vol.Validate(); err != nil {
		return nil, &LoadError{Path: path, Kind: KindVolume, Err: fmt.Errorf("%s: %w", l.Name(), err)}
	}
	return vol, nil
}

// LoadMesh opens path and parses it with the matching loader.
func (r *Registry) LoadMesh(path string) (*models.Surface, error) {
	f, header, err := openSniff(path)
	if err != nil {
		return nil, &LoadError{Path: path, Kind: KindMesh, Err: err}
	}
	defer f.Close()

	l := r.meshFor(path, header)
	if l == nil {
		return nil, &LoadError{Path: path, Kind: KindMesh, Err: ErrUnknownFormat}
	}

	s, err := l.LoadMesh(f, path)
	if err != nil {
		return nil, &LoadError{Path: path, Kind: KindMesh, Err: fmt.Errorf("%s: %w", l.Name(), err)}
	}
	if len(s.Triangles) == 0 {
		return nil, &LoadError{Path: path, Kind: KindMesh, Err: fmt.Errorf("%s: mesh has no faces", l.Name())}
	}
	if err := s.Validate(); err != nil {
		return nil, &LoadError{Path: path, Kind: KindMesh, Err: fmt.Errorf("%s: %w", l.Name(), err)}
	}
	s.Path = path
	return s, nil
}

func (r *Registry) volumeFor(path string, header []byte) VolumeLoader {
	ext := strings.ToLower(filepath.Ext(path))
	for _, l := range r.volumes {
		if hasExt(l.Extensions(), ext) {
			return l
		}
	}
	for _, l := range r.volumes {
		if l.Sniff(header) {
			return l
		}
	}
	return nil
}

func (r *Registry) meshFor(path string, header []byte) MeshLoader {
	ext := strings.ToLower(filepath.Ext(path))
	for _, l := range r.meshes {
		if hasExt(l.Extensions(), ext) {
			return l
		}
	}
	for _, l := range r.meshes {
		if l.Sniff(header) {
			return l
		}
	}
	return nil
}

func hasExt(exts []string, ext string) bool {
	if ext == "" {
		return false
	}
	for _, e := range exts {
		if e == ext {
			return true
		}
	}
	return false
}

// sniffReader lets loaders read from the start after the header was peeked.
type sniffReader struct {
	*bufio.Reader
	f *os.File
}

func (s *sniffReader) Close() error { return s.f.Close() }

func openSniff(path string) (*sniffReader, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	br := bufio.NewReaderSize(f, 64*1024)
	header, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		f.Close()
		return nil, nil, err
	}
	return &sniffReader{Reader: br, f: f}, header, nil
}
