package ai

import "sort"

// Detection is one box returned by the detector service.
type Detection struct {
	ClassID    int        `json:"classId"`
	Code       string     `json:"code"`
	Name       string     `json:"name"`
	Meaning    string     `json:"meaning"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"` // x1, y1, x2, y2
}

// IoU returns the intersection over union of two [x1, y1, x2, y2] boxes.
func IoU(a, b [4]float64) float64 {
	area := func(r [4]float64) float64 { return (r[2] - r[0]) * (r[3] - r[1]) }

	ix1, iy1 := max(a[0], b[0]), max(a[1], b[1])
	ix2, iy2 := min(a[2], b[2]), min(a[3], b[3])
	if ix2 <= ix1 || iy2 <= iy1 {
		return 0
	}

	inter := (ix2 - ix1) * (iy2 - iy1)
	union := area(a) + area(b) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// SuppressDuplicates keeps the most confident box of each overlapping group
// of the same class. Boxes of different classes never suppress each other.
func SuppressDuplicates(dets []Detection, iouThreshold float64) []Detection {
	if len(dets) == 0 {
		return []Detection{}
	}

	sorted := make([]Detection, len(dets))
	copy(sorted, dets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	kept := make([]Detection, 0, len(sorted))
	for len(sorted) > 0 {
		best := sorted[0]
		kept = append(kept, best)

		remaining := sorted[:0:0]
		for _, d := range sorted[1:] {
			if d.Code != best.Code || IoU(best.BBox, d.BBox) <= iouThreshold {
				remaining = append(remaining, d)
			}
		}
		sorted = remaining
	}
	return kept
}
