package runtime

import (
	"slices"

	"github.com/sbl8/edgeinfer/core"
)

// bufferRequest is one buffer to place in the planned region. first and last
// are the indices of the operators that first write and last read it.
type bufferRequest struct {
	id    int
	size  int
	first int
	last  int
}

func (r *bufferRequest) overlaps(o *bufferRequest) bool {
	return r.first <= o.last && o.first <= r.last
}

// planBuffers assigns offsets with greedy liveness packing: buffers are
// placed largest first at the lowest aligned offset that does not collide
// with an already placed buffer whose lifetime overlaps. Ties are broken by
// first use, then id, so the result depends only on the requests.
// Offsets are returned in request order together with the high-water mark.
func planBuffers(reqs []bufferRequest, align int) ([]int, int) {
	order := make([]int, len(reqs))
	for i := range order {
		order[i] = i
	}
	slices.SortFunc(order, func(a, b int) int {
		ra, rb := &reqs[a], &reqs[b]
		if ra.size != rb.size {
			return rb.size - ra.size
		}
		if ra.first != rb.first {
			return ra.first - rb.first
		}
		return ra.id - rb.id
	})

	offsets := make([]int, len(reqs))
	placed := make([]int, 0, len(reqs))
	conflicts := make([]int, 0, len(reqs))
	total := 0

	for _, i := range order {
		r := &reqs[i]
		conflicts = conflicts[:0]
		for _, j := range placed {
			if r.overlaps(&reqs[j]) {
				conflicts = append(conflicts, j)
			}
		}
		slices.SortFunc(conflicts, func(a, b int) int {
			if offsets[a] != offsets[b] {
				return offsets[a] - offsets[b]
			}
			return a - b
		})

		candidate := 0
		for _, j := range conflicts {
			if candidate+r.size <= offsets[j] {
				break
			}
			candidate = max(candidate, core.AlignUp(offsets[j]+reqs[j].size, align))
		}
		offsets[i] = candidate
		placed = append(placed, i)
		total = max(total, candidate+r.size)
	}
	return offsets, total
}
