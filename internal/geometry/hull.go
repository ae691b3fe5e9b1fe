package geometry

import (
	"sort"

	"github.com/paulmach/orb"
)

func cross(o, a, b orb.Point) float64 {
	return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
}

// generateConvexHull returns the closed counter-clockwise hull of points using
// a monotone chain. Fewer than three distinct, non-collinear points yield nil.
func generateConvexHull(points []orb.Point) orb.Ring {
	pts := make([]orb.Point, len(points))
	copy(pts, points)
	sort.Slice(pts, func(i, j int) bool {
		if pts[i][0] == pts[j][0] {
			return pts[i][1] < pts[j][1]
		}
		return pts[i][0] < pts[j][0]
	})

	unique := pts[:0]
	for i, p := range pts {
		if i == 0 || p != pts[i-1] {
			unique = append(unique, p)
		}
	}
	if len(unique) < 3 {
		return nil
	}

	hull := make([]orb.Point, 0, 2*len(unique))
	for _, p := range unique {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(unique) - 2; i >= 0; i-- {
		p := unique[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}

	// hull now ends with its first point, closing the ring
	if len(hull) < 4 {
		return nil
	}
	return orb.Ring(hull)
}
