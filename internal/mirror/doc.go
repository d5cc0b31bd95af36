// Package mirror persists the last known state of every hub entity.
//
// The mirror is written by the event ingestion loop when the hub reports a
// change. Attributes are merged shallowly: top-level keys in an update replace
// existing keys, keys absent from the update are kept, and nested values are
// replaced wholesale rather than merged.
package mirror
