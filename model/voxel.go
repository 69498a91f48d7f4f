package model

import "fmt"

// VoxelType tags a voxel with its tissue class. The class decides whether a
// voxel carries current states and which neighbors it may conduct into.
type VoxelType int

const (
	VoxelNone VoxelType = iota
	VoxelSinoatrial
	VoxelAtrium
	VoxelAtrioventricular
	VoxelHPS
	VoxelVentricle
	VoxelPathological
)

var voxelTypeNames = map[VoxelType]string{
	VoxelNone:             "none",
	VoxelSinoatrial:       "sinoatrial",
	VoxelAtrium:           "atrium",
	VoxelAtrioventricular: "atrioventricular",
	VoxelHPS:              "hps",
	VoxelVentricle:        "ventricle",
	VoxelPathological:     "pathological",
}

func (t VoxelType) String() string {
	if name, ok := voxelTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("voxeltype(%d)", int(t))
}

// Connectable reports whether voxels of this type carry current states.
func (t VoxelType) Connectable() bool {
	return t != VoxelNone
}

// connectionAllowed encodes the conduction pathway of the heart: the
// sinoatrial node excites the atria, the atria the atrioventricular node,
// the AV node the His-Purkinje system, and the HPS the ventricles.
// Pathological tissue conducts with any active neighbor.
func connectionAllowed(from, to VoxelType) bool {
	if from == VoxelNone || to == VoxelNone {
		return false
	}
	if from == VoxelPathological || to == VoxelPathological {
		return true
	}
	switch from {
	case VoxelSinoatrial:
		return to == VoxelAtrium
	case VoxelAtrium:
		return to == VoxelAtrium || to == VoxelAtrioventricular
	case VoxelAtrioventricular:
		return to == VoxelHPS
	case VoxelHPS:
		return to == VoxelHPS || to == VoxelVentricle
	case VoxelVentricle:
		return to == VoxelVentricle
	}
	return false
}

// Grid is a regular 3D voxel lattice. Every connectable voxel owns three
// current-density state components; StateOffset maps a voxel to the index of
// its x component in the flat state vector.
type Grid struct {
	Dims        [3]int       // voxel counts per axis
	SizeMM      float32      // voxel edge length in millimeters
	Types       []VoxelType  // len = Dims[0]*Dims[1]*Dims[2]
	PositionsMM [][3]float32 // voxel center positions
	StateOffset []int        // -1 for non-connectable voxels

	numStates int
}

// NewGrid builds a grid with all voxel types set to VoxelNone and voxel
// centers spaced SizeMM apart starting at the origin. Callers assign types
// and then call Renumber before constructing links.
func NewGrid(nx, ny, nz int, sizeMM float32) *Grid {
	n := nx * ny * nz
	g := &Grid{
		Dims:        [3]int{nx, ny, nz},
		SizeMM:      sizeMM,
		Types:       make([]VoxelType, n),
		PositionsMM: make([][3]float32, n),
		StateOffset: make([]int, n),
	}
	for x := 0; x < nx; x++ {
		for y := 0; y < ny; y++ {
			for z := 0; z < nz; z++ {
				i := g.Index(x, y, z)
				g.PositionsMM[i] = [3]float32{
					float32(x) * sizeMM,
					float32(y) * sizeMM,
					float32(z) * sizeMM,
				}
				g.StateOffset[i] = -1
			}
		}
	}
	return g
}

// Index converts voxel coordinates to a flat voxel index.
func (g *Grid) Index(x, y, z int) int {
	return (x*g.Dims[1]+y)*g.Dims[2] + z
}

// Coords is the inverse of Index.
func (g *Grid) Coords(i int) (x, y, z int) {
	z = i % g.Dims[2]
	y = (i / g.Dims[2]) % g.Dims[1]
	x = i / (g.Dims[1] * g.Dims[2])
	return
}

// InBounds reports whether the coordinates address a voxel in the grid.
func (g *Grid) InBounds(x, y, z int) bool {
	return x >= 0 && x < g.Dims[0] && y >= 0 && y < g.Dims[1] && z >= 0 && z < g.Dims[2]
}

// Renumber assigns state offsets to all connectable voxels in index order.
// Must be called after voxel types change and before link construction.
func (g *Grid) Renumber() {
	n := 0
	for i, t := range g.Types {
		if t.Connectable() {
			g.StateOffset[i] = n
			n += 3
		} else {
			g.StateOffset[i] = -1
		}
	}
	g.numStates = n
}

// NumVoxels returns the total voxel count including non-connectable ones.
func (g *Grid) NumVoxels() int { return len(g.Types) }

// NumStates returns the length of the flat state vector.
func (g *Grid) NumStates() int { return g.numStates }
