// Package simulator implements the fallback data generator: a sandbox-only loop
// that fabricates ticks for watched symbols while the upstream feed is quiet.
//
// The generator asks its Source for the watched symbols at the top of every
// iteration and stops itself once nothing is watched, so it never outlives the
// last consumer. Every tick it produces is tagged Provenance.Simulated.
package simulator
