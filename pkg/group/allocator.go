package group

import "errors"

var ErrAllocationExhausted = errors.New("no free group slot")

// Allocator hands out the smallest free slot in [1, Max]. It keeps no state;
// freeing a slot is just the key disappearing from the live set.
type Allocator struct {
	Naming Naming
	Max    int
}

func (a Allocator) Allocate(live []string) (Name, error) {
	used := make(map[int]bool, len(live))
	for _, key := range live {
		if i, ok := a.Naming.Index(key); ok && i >= 1 && i <= a.Max {
			used[i] = true
		}
	}
	for i := 1; i <= a.Max; i++ {
		if !used[i] {
			return a.Naming.Name(i), nil
		}
	}
	return "", ErrAllocationExhausted
}
