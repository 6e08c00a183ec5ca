// Package conv provides checked integer conversions for values read from
// storage (counts, offsets, lengths). Conversions that are safe by
// construction should use plain casts.
package conv
