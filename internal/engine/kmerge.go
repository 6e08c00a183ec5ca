package engine

import "iter"

// sourced is a value together with the position of the sequence it came from.
type sourced[T any] struct {
	src int
	v   T
}

// mergeGroups merges sequences that are each sorted by compare. It yields
// every distinct value once, as the group of equal values in source order.
// The group slice is reused between iterations.
func mergeGroups[T any](seqs []iter.Seq2[T, error], compare func(a, b T) int) iter.Seq2[[]sourced[T], error] {
	return func(yield func([]sourced[T], error) bool) {
		type head struct {
			next func() (T, error, bool)
			cur  T
			ok   bool
		}
		heads := make([]head, len(seqs))
		for i, seq := range seqs {
			next, stop := iter.Pull2(seq)
			defer stop()
			heads[i].next = next
		}
		advance := func(i int) error {
			v, err, ok := heads[i].next()
			if ok && err != nil {
				heads[i].ok = false
				return err
			}
			heads[i].cur, heads[i].ok = v, ok
			return nil
		}
		for i := range heads {
			if err := advance(i); err != nil {
				yield(nil, err)
				return
			}
		}

		var group []sourced[T]
		for {
			lowest := -1
			for i := range heads {
				if heads[i].ok && (lowest < 0 || compare(heads[i].cur, heads[lowest].cur) < 0) {
					lowest = i
				}
			}
			if lowest < 0 {
				return
			}
			pivot := heads[lowest].cur
			group = group[:0]
			for i := range heads {
				if !heads[i].ok || compare(heads[i].cur, pivot) != 0 {
					continue
				}
				group = append(group, sourced[T]{src: i, v: heads[i].cur})
				if err := advance(i); err != nil {
					yield(nil, err)
					return
				}
			}
			if !yield(group, nil) {
				return
			}
		}
	}
}
