package l4activity

// labelWindow keeps the last W raw labels for mode smoothing.
type labelWindow struct {
	labels []Label
	head   int
	size   int
}

func newLabelWindow(w int) *labelWindow {
	if w < 1 {
		w = 1
	}
	return &labelWindow{labels: make([]Label, w)}
}

func (lw *labelWindow) add(l Label) {
	lw.labels[lw.head] = l
	lw.head = (lw.head + 1) % len(lw.labels)
	if lw.size < len(lw.labels) {
		lw.size++
	}
}

// newestFirst returns the window contents, newest label first.
func (lw *labelWindow) newestFirst() []Label {
	out := make([]Label, lw.size)
	for i := range out {
		out[i] = lw.labels[(lw.head-1-i+2*len(lw.labels))%len(lw.labels)]
	}
	return out
}

func (lw *labelWindow) latest() (Label, bool) {
	if lw.size == 0 {
		return "", false
	}
	return lw.labels[(lw.head-1+len(lw.labels))%len(lw.labels)], true
}

func (lw *labelWindow) mode() Label {
	return Mode(lw.newestFirst())
}

// Mode returns the most frequent label in newestFirst. Ties go to the
// label whose latest occurrence is most recent. An empty input gives "".
func Mode(newestFirst []Label) Label {
	counts := make(map[Label]int, len(newestFirst))
	recency := make(map[Label]int, len(newestFirst))
	for i, l := range newestFirst {
		if _, seen := recency[l]; !seen {
			recency[l] = i
		}
		counts[l]++
	}
	var best Label
	bestCount := 0
	for l, c := range counts {
		if c > bestCount || (c == bestCount && recency[l] < recency[best]) {
			best, bestCount = l, c
		}
	}
	return best
}
