package dedup

// Duplicate describes an item whose key was already taken.
type Duplicate[T any] struct {
	Item  T
	Key   string
	Index int
	// FirstIndex is the position of the kept item, or -1 when the key came
	// from a seeded set rather than this input.
	FirstIndex int
}

// Result splits an input sequence into kept items and duplicates.
type Result[T any] struct {
	Kept       []T
	Keys       []string
	Duplicates []Duplicate[T]
}

// Partition keeps the first item per identity key, in input order, and flags
// the rest. seen is mutated; pass NewSeen() for an independent pass.
func Partition[T Identifiable](items []T, seen *Seen) Result[T] {
	if seen == nil {
		seen = NewSeen()
	}
	res := Result[T]{
		Kept: make([]T, 0, len(items)),
		Keys: make([]string, 0, len(items)),
	}
	first := make(map[string]int, len(items))
	for i, item := range items {
		key := KeyOf(item)
		if seen.CheckAndInsert(key) {
			first[key] = i
			res.Kept = append(res.Kept, item)
			res.Keys = append(res.Keys, key)
			continue
		}
		firstIndex, ok := first[key]
		if !ok {
			firstIndex = -1
		}
		res.Duplicates = append(res.Duplicates, Duplicate[T]{
			Item:       item,
			Key:        key,
			Index:      i,
			FirstIndex: firstIndex,
		})
	}
	return res
}

// Seed inserts the keys of already-persisted items into seen.
func Seed[T Identifiable](seen *Seen, items []T) {
	for _, item := range items {
		seen.CheckAndInsert(KeyOf(item))
	}
}
