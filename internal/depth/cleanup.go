package depth

// Cleanup removes speckle from a labelled scan in place. Obstacle blobs
// smaller than drop cells are discarded, and miss blobs smaller than hole
// cells that are surrounded by floor become floor. It returns the number of
// cells changed by each rule.
func Cleanup(labels []uint8, g Grid, drop, hole int) (dropped, filled int) {
	seen := make([]bool, len(labels))
	var blob, queue []int

	for start := range labels {
		want := labels[start]
		if seen[start] || (want != LabelObstacle && want != LabelMiss) {
			continue
		}

		blob, queue = blob[:0], append(queue[:0], start)
		seen[start] = true
		enclosed := true
		for len(queue) > 0 {
			k := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			blob = append(blob, k)
			i, j := k%g.W, k/g.W
			for _, n := range [4][2]int{{i - 1, j}, {i + 1, j}, {i, j - 1}, {i, j + 1}} {
				if n[0] < 0 || n[1] < 0 || n[0] >= g.W || n[1] >= g.H {
					enclosed = false
					continue
				}
				nk := g.Index(n[0], n[1])
				switch {
				case labels[nk] == want:
					if !seen[nk] {
						seen[nk] = true
						queue = append(queue, nk)
					}
				case labels[nk] != LabelFloor:
					enclosed = false
				}
			}
		}

		switch {
		case want == LabelObstacle && len(blob) < drop:
			for _, k := range blob {
				labels[k] = LabelNone
			}
			dropped += len(blob)
		case want == LabelMiss && len(blob) < hole && enclosed:
			for _, k := range blob {
				labels[k] = LabelFloor
			}
			filled += len(blob)
		}
	}
	return dropped, filled
}
