// Package schedule decides when a run writes output and when it stops.
//
// Output times are step indices k*interval (k >= 1, k*interval <= nstep)
// mapped to time0 + index*dt. The moments and distribution-function index
// sets are merged on the integer index, so a step shared by both appears
// once in the integration target list.
//
// Matching a solver time against a target uses a relative tolerance rather
// than exact equality. A stop file, polled at every accepted output, forces
// both writers to fire and requests termination.
package schedule
