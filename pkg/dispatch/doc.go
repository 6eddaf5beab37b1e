// Package dispatch selects operation implementations by type tags.
//
// A table is keyed by three axes: the operation (matched exactly), the
// semantic kind of the target descriptor and the kind of backend storing
// it. Registrations may use schema.KindAny and schema.BackendAny as
// wildcards. Among the candidates that apply to a concrete pair the one
// that is at least as specific on both axes, and strictly more specific on
// one, wins. Candidates that do not dominate each other are ambiguous.
//
// Tables have a two-phase lifecycle. A Builder collects registrations on
// one goroutine during startup, Freeze validates every concrete pair for
// ambiguity and returns a Table that has no mutators and may be shared by
// any number of goroutines.
package dispatch
