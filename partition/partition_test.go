package partition

import (
	"fmt"
	"testing"
)

func TestPartitionCoverage(t *testing.T) {
	for _, workers := range []int{1, 2, 3, 4, 7, 16, 17} {
		for _, n := range []int{0, 1, 5, 7, 16, 1000, 1337} {
			t.Run(fmt.Sprintf("Workers=%d,N=%d", workers, n), func(t *testing.T) {
				ranges := All(n, workers)
				if ranges[0].From != 0 {
					t.Errorf("first range starts at %d", ranges[0].From)
				}
				if ranges[len(ranges)-1].To != n {
					t.Errorf("last range ends at %d but expected %d", ranges[len(ranges)-1].To, n)
				}
				minLen, maxLen := n, 0
				for i, r := range ranges {
					if i > 0 && r.From != ranges[i-1].To {
						t.Errorf("range %d is %v but previous is %v", i, r, ranges[i-1])
					}
					if r.Len() < minLen {
						minLen = r.Len()
					}
					if r.Len() > maxLen {
						maxLen = r.Len()
					}
				}
				if maxLen-minLen > 1 {
					t.Errorf("unbalanced lengths: min %d, max %d", minLen, maxLen)
				}
			})
		}
	}
}

func TestPartitionScenarios(t *testing.T) {
	expected := map[[2]int][]Range{
		{1000, 4}: {{0, 250}, {250, 500}, {500, 750}, {750, 1000}},
		{7, 3}:    {{0, 3}, {3, 5}, {5, 7}},
		{2, 4}:    {{0, 1}, {1, 2}, {2, 2}, {2, 2}},
	}
	for key, ranges := range expected {
		actual := All(key[0], key[1])
		for i, r := range ranges {
			if actual[i] != r {
				t.Errorf("n=%d workers=%d id=%d: expected %v but got %v",
					key[0], key[1], i, r, actual[i])
			}
		}
	}
}

func TestOwner(t *testing.T) {
	for _, workers := range []int{1, 3, 4, 9} {
		for _, n := range []int{1, 7, 100} {
			for i := 0; i < n; i++ {
				owner := Owner(n, workers, i)
				if !Partition(n, workers, owner).Contains(i) {
					t.Errorf("n=%d workers=%d: index %d assigned to %d", n, workers, i, owner)
				}
			}
		}
	}
}

func TestPartitionPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for zero workers")
		}
	}()
	Partition(10, 0, 0)
}
