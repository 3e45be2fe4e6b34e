// Package dora holds the pure DORA metric rules: performance tiers and their
// lead time thresholds, reporting windows, per-change lead time arithmetic and
// the widening-window deployment frequency search.
//
// Nothing in this package performs I/O. Storage access reaches the frequency
// search only through a CountFunc supplied by the caller.
package dora
