package formats

import (
	"innerear/pkg/formats/nrrd"
	"innerear/pkg/formats/vtk"
	"innerear/pkg/stl"
)

// Default returns a registry with every built-in loader: NRRD volumes and
// VTK or STL meshes.
func Default() *Registry {
	r := NewRegistry()
	r.RegisterVolume(nrrd.Loader{})
	r.RegisterMesh(vtk.Loader{})
	r.RegisterMesh(stl.Loader{})
	return r
}
