// Package kinetic holds the structured physical state of a run and the codec
// that maps it to and from the flat vector integrated by the solver.
//
// The packed field order is fixed:
//
//  1. ion distribution function (always)
//  2. ion density, parallel flow, parallel pressure (each iff evolved)
//  3. neutral distribution function (iff neutral species are present)
//  4. neutral density, parallel flow, parallel pressure (each iff evolved
//     and neutrals are present)
//
// Offsets are computed once by [NewLayout]; every pack and unpack of a run
// goes through the same [Layout].
package kinetic
