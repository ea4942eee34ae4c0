package cli

import (
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/mejkerslab/questgear3d/meshproc"
	"github.com/mejkerslab/questgear3d/spatialmath"
)

// CompareMeshesAction is the corresponding action for 'compare-meshes'.
func CompareMeshesAction(c *cli.Context) error {
	pos, err := requireArgs(c, "a.ply", "b.ply")
	if err != nil {
		return err
	}
	if same, err := samePath(pos[0], pos[1]); err == nil && same {
		warningf(c.App.ErrWriter, "comparing %q with itself", pos[0])
	}
	meshes := make([]*spatialmath.Mesh, 2)
	for i, path := range pos {
		m, err := spatialmath.NewMeshFromPLYFile(path)
		if err != nil {
			return errors.Wrapf(err, "reading %q", path)
		}
		meshes[i] = m
	}
	cmp := meshproc.Compare(meshes[0], meshes[1])

	t := table.NewWriter()
	t.AppendHeader(table.Row{"", "A", "B"})
	t.AppendRows([]table.Row{
		{"path", pos[0], pos[1]},
		{"vertices", cmp.A.Vertices, cmp.B.Vertices},
		{"triangles", cmp.A.Triangles, cmp.B.Triangles},
		{"surface area", fmt.Sprintf("%.4f m²", cmp.A.SurfaceArea), fmt.Sprintf("%.4f m²", cmp.B.SurfaceArea)},
		{"bounds min", vecString(cmp.A.Min), vecString(cmp.B.Min)},
		{"bounds max", vecString(cmp.A.Max), vecString(cmp.B.Max)},
		{"mean distance to other", fmt.Sprintf("%.4f m", cmp.MeanDistanceAB), fmt.Sprintf("%.4f m", cmp.MeanDistanceBA)},
	})
	t.AppendFooter(table.Row{"symmetric distance", fmt.Sprintf("%.4f m", cmp.SymmetricDistance), ""})
	printf(c.App.Writer, "%s", t.Render())
	return nil
}

func vecString(v r3.Vector) string {
	return fmt.Sprintf("(%.3f, %.3f, %.3f)", v.X, v.Y, v.Z)
}
