// Package schema holds the Type Descriptor Graph: the immutable, in-memory
// form of a manifest.
//
// A graph is built in two phases. During the build phase a Builder collects
// ModelSpec values; Freeze validates them and returns a *Graph. The graph and
// every Descriptor reachable from it expose accessors only, so the serving
// phase can read them from many goroutines without synchronisation.
//
// Models are stored in an arena keyed by ModelID. References between models
// are identifier lookups into that arena, never pointers, which keeps
// self-referencing models free of ownership cycles.
package schema
