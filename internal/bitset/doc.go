// Package bitset provides a lock-free segmented bitset. Dynamic entity
// tables use it to tombstone slots: a slot index is never reused, its bit is
// set once and stays set.
package bitset
