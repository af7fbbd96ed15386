package dedupe

// DefaultReimportThreshold is the share of already-known hashes at which a
// batch is treated as a re-import of a file seen before.
const DefaultReimportThreshold = 0.95

// DetectFullReimport reports whether newRows (their source hashes) is a
// re-import of data already in existing, and how many rows are strictly new.
func DetectFullReimport(newRows []string, existing map[string]bool) (bool, int) {
	return DetectReimport(newRows, existing, DefaultReimportThreshold)
}

// DetectReimport is DetectFullReimport with an explicit threshold.
func DetectReimport(newRows []string, existing map[string]bool, threshold float64) (bool, int) {
	if len(newRows) == 0 {
		return false, 0
	}

	known := 0
	for _, h := range newRows {
		if existing[h] {
			known++
		}
	}

	isDuplicateImport := float64(known)/float64(len(newRows)) >= threshold
	return isDuplicateImport, len(NewRowIndexes(newRows, existing))
}

// NewRowIndexes returns the positions of rows whose hash is neither in
// existing nor repeated earlier in the same batch. Only these rows are ever
// inserted.
func NewRowIndexes(newRows []string, existing map[string]bool) []int {
	seen := make(map[string]bool, len(newRows))
	indexes := make([]int, 0, len(newRows))
	for i, h := range newRows {
		if existing[h] || seen[h] {
			continue
		}
		seen[h] = true
		indexes = append(indexes, i)
	}
	return indexes
}

// BatchRepeats returns the positions of rows whose hash is not yet stored
// but repeats an earlier row of the same batch. NewRowIndexes skips these
// rows; callers report them.
func BatchRepeats(newRows []string, existing map[string]bool) []int {
	seen := make(map[string]bool, len(newRows))
	var repeats []int
	for i, h := range newRows {
		if existing[h] {
			continue
		}
		if seen[h] {
			repeats = append(repeats, i)
			continue
		}
		seen[h] = true
	}
	return repeats
}
