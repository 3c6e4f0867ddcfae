// Package methodcache memoizes expensive deterministic computations on
// disk.
//
// A Store maps a call, identified by the store name, a method name and the
// call's inputs, to a content-addressed key of the form
//
//	<store>.<method>[.<group>].<32 hex digest>
//
// and persists the result next to it as one file per artifact:
//
//	Converter.convert.5d41402abc4b2a76b9719d911017c592.gob
//	Splitter.split.7215ee9c7d9dc229d2921a40e899ec5f_0.gob
//	Splitter.split.7215ee9c7d9dc229d2921a40e899ec5f_1.gob
//
// Inputs are serialized canonically, so map order never changes a key.
// Inputs that cannot be serialized directly, such as dataframes, files or
// functions, are wrapped in a Pair with a fingerprint.Fingerprinter.
//
// A store may be bounded with WithMaxEntries, in which case the least
// recently used entries are deleted and the recency order is rebuilt from
// file modification times when the store is created.
package methodcache
