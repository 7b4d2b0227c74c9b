package runtime

import (
	"slices"
	"testing"
)

func checkPlan(t *testing.T, reqs []bufferRequest, offsets []int, total, align int) {
	t.Helper()
	for i := range reqs {
		if offsets[i]%align != 0 {
			t.Errorf("buffer %d at unaligned offset %d", reqs[i].id, offsets[i])
		}
		if offsets[i]+reqs[i].size > total {
			t.Errorf("buffer %d ends at %d past total %d", reqs[i].id, offsets[i]+reqs[i].size, total)
		}
		for j := i + 1; j < len(reqs); j++ {
			if !reqs[i].overlaps(&reqs[j]) {
				continue
			}
			if offsets[i] < offsets[j]+reqs[j].size && offsets[j] < offsets[i]+reqs[i].size {
				t.Errorf("live buffers %d [%d,+%d) and %d [%d,+%d) collide",
					reqs[i].id, offsets[i], reqs[i].size, reqs[j].id, offsets[j], reqs[j].size)
			}
		}
	}
}

func TestPlanBuffersReusesDeadSpace(t *testing.T) {
	t.Parallel()
	// A chain a -> b -> c -> d: a and c never live together.
	reqs := []bufferRequest{
		{id: 0, size: 100, first: 0, last: 1},
		{id: 1, size: 64, first: 1, last: 2},
		{id: 2, size: 100, first: 2, last: 3},
		{id: 3, size: 32, first: 3, last: 3},
	}
	offsets, total := planBuffers(reqs, 16)
	checkPlan(t, reqs, offsets, total, 16)

	if offsets[0] != offsets[2] {
		t.Errorf("disjoint buffers 0 and 2 at %d and %d, want shared offset", offsets[0], offsets[2])
	}
	sum := 0
	for _, r := range reqs {
		sum += r.size
	}
	if total >= sum {
		t.Errorf("total %d does not improve on naive %d", total, sum)
	}
}

func TestPlanBuffersAllLive(t *testing.T) {
	t.Parallel()
	reqs := []bufferRequest{
		{id: 0, size: 10, first: 0, last: 4},
		{id: 1, size: 20, first: 0, last: 4},
		{id: 2, size: 30, first: 0, last: 4},
	}
	offsets, total := planBuffers(reqs, 16)
	checkPlan(t, reqs, offsets, total, 16)
	// 30 -> [0,30), 20 -> [32,52), 10 -> [64,74)
	if want := []int{64, 32, 0}; !slices.Equal(offsets, want) {
		t.Errorf("offsets = %v, want %v", offsets, want)
	}
	if total != 74 {
		t.Errorf("total = %d, want 74", total)
	}
}

func TestPlanBuffersFillsGaps(t *testing.T) {
	t.Parallel()
	reqs := []bufferRequest{
		{id: 0, size: 64, first: 0, last: 0},
		{id: 1, size: 64, first: 0, last: 2},
		{id: 2, size: 48, first: 1, last: 2},
	}
	offsets, total := planBuffers(reqs, 16)
	checkPlan(t, reqs, offsets, total, 16)
	if offsets[2] != offsets[0] {
		t.Errorf("buffer 2 at %d, want the slot freed by buffer 0 at %d", offsets[2], offsets[0])
	}
	if total != 128 {
		t.Errorf("total = %d, want 128", total)
	}
}

func TestPlanBuffersDeterministic(t *testing.T) {
	t.Parallel()
	reqs := make([]bufferRequest, 40)
	for i := range reqs {
		first := (i * 7) % 13
		reqs[i] = bufferRequest{id: i, size: 16 + (i*37)%200, first: first, last: first + (i % 4)}
	}
	want, wantTotal := planBuffers(reqs, 16)
	checkPlan(t, reqs, want, wantTotal, 16)
	for range 5 {
		got, total := planBuffers(reqs, 16)
		if !slices.Equal(got, want) || total != wantTotal {
			t.Fatalf("plan changed between runs: %v/%d vs %v/%d", got, total, want, wantTotal)
		}
	}
}

func TestPlanBuffersEmpty(t *testing.T) {
	t.Parallel()
	offsets, total := planBuffers(nil, 16)
	if len(offsets) != 0 || total != 0 {
		t.Errorf("empty plan = %v/%d", offsets, total)
	}
}

func BenchmarkPlanBuffers(b *testing.B) {
	reqs := make([]bufferRequest, 64)
	for i := range reqs {
		reqs[i] = bufferRequest{id: i, size: 64 + (i*131)%4096, first: i / 2, last: i/2 + 2}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		planBuffers(reqs, 16)
	}
}
