package engine

// The engine's output schema is not contractually stable per job graph: the
// same logical video output can surface under different slot names depending
// on which node produced it. Disambiguation is therefore heuristic, driven by
// two declarative rank tables instead of schema knowledge.

// slotRank is the fixed preference order among output-slot names. Unknown
// slots rank after every listed one.
var slotRank = map[string]int{
	"video":      0,
	"videos":     1,
	"gifs":       2,
	"animations": 3,
	"animated":   4,
	"files":      5,
	"images":     6,
}

func rankSlot(slot string) int {
	if r, ok := slotRank[slot]; ok {
		return r
	}
	return len(slotRank)
}

// extClassRank orders extension classes, most deliverable media first.
func extClassRank(kind MediaKind) int {
	switch kind {
	case MediaVideo:
		return 0
	case MediaAnimation:
		return 1
	case MediaImage:
		return 2
	}
	return 3
}

// Resolve extracts the single best candidate artifact for a submission from a
// raw history payload. Every filename-bearing entry across all output slots
// of all nodes competes; the winner is the candidate with the lowest
// (extension class, slot rank) key. Absence is a normal transient state while
// the job is still running, not an error.
func Resolve(h History, handle string) (ArtifactRef, bool) {
	entry, ok := h[handle]
	if !ok {
		return ArtifactRef{}, false
	}

	var (
		best      ArtifactRef
		bestExt   int
		bestSlot  int
		haveMatch bool
	)
	for _, nodeOut := range entry.Outputs {
		for slot, refs := range nodeOut {
			sr := rankSlot(slot)
			for _, ref := range refs {
				er := extClassRank(ref.Kind())
				if !haveMatch || er < bestExt || (er == bestExt && sr < bestSlot) {
					best, bestExt, bestSlot = ref, er, sr
					haveMatch = true
				}
			}
		}
	}
	return best, haveMatch
}
