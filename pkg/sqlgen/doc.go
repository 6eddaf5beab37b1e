// Package sqlgen renders plans and record writes as SQL for a dialect.
//
// Every Field of a plan becomes one output column aliased c0, c1, ... in
// the order returned by Select, so drivers can scan rows positionally.
// Joined models are aliased t1, t2, ... in join order; the root model is t0.
package sqlgen
