// Package physics provides the kinetic model whose derivative the
// integrator advances.
//
// [Kinetic] evolves ion and neutral distribution functions on uniform
// velocity grids with periodic free streaming along z and three local
// collision operators:
//
//   - Krook relaxation of each species toward the Maxwellian with its own
//     density, flow and temperature
//   - ionization of neutrals by ion impact, born at the neutral flow and
//     temperature
//   - resonant charge exchange between ion and neutral species of the same
//     index
//
// All three conserve the total particle number exactly on the discrete
// grid. Derive works on a half-open range of spatial points so several
// participants can fill disjoint parts of one derivative:
//
//	k, _ := physics.New(physics.DefaultConfig(), layout)
//	st := kinetic.NewState(layout)
//	k.InitialState(st)
//	start, end := dynamo.Partition(k.Points(), size, rank)
//	err := k.Derive(start, end, t, st, deriv)
package physics
