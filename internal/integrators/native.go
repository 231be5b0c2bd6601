package integrators

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// NativeBackend builds solvers on gonum dense matrices.
type NativeBackend struct{}

func NewNativeBackend() *NativeBackend {
	return &NativeBackend{}
}

func (b *NativeBackend) NewSolver(method Method) (Solver, error) {
	switch method {
	case BDF, Adams:
		return newMultistep(method), nil
	}
	return nil, fmt.Errorf("unsupported method %d", method)
}

func (b *NativeBackend) NewDenseMatrix(n int) (Matrix, error) {
	if n <= 0 {
		return nil, fmt.Errorf("dense matrix size must be positive, got %d", n)
	}
	return &DenseMatrix{J: mat.NewDense(n, n, nil)}, nil
}

func (b *NativeBackend) NewLinearSolver(y []float64, jac Matrix) (LinearSolver, error) {
	dm, ok := jac.(*DenseMatrix)
	if !ok || dm.J == nil {
		return nil, errors.New("dense linear solver requires a live DenseMatrix")
	}
	n := len(y)
	if dm.Rows() != n {
		return nil, fmt.Errorf("matrix has %d rows, state has %d values", dm.Rows(), n)
	}
	return &DenseLinearSolver{
		m:   mat.NewDense(n, n, nil),
		rhs: make([]float64, n),
	}, nil
}

// DenseMatrix holds a dense n x n Jacobian.
type DenseMatrix struct {
	J *mat.Dense
}

func (d *DenseMatrix) Rows() int {
	if d.J == nil {
		return 0
	}
	r, _ := d.J.Dims()
	return r
}

func (d *DenseMatrix) Free() { d.J = nil }

// DenseLinearSolver factorises the Newton matrix I - gamma*J with LU and
// solves against it.
type DenseLinearSolver struct {
	m   *mat.Dense
	lu  mat.LU
	rhs []float64
}

func (s *DenseLinearSolver) setup(jac *mat.Dense, gamma float64) {
	s.m.Scale(-gamma, jac)
	n, _ := s.m.Dims()
	for i := 0; i < n; i++ {
		s.m.Set(i, i, s.m.At(i, i)+1)
	}
	s.lu.Factorize(s.m)
}

func (s *DenseLinearSolver) solve(dst, b []float64) error {
	copy(s.rhs, b)
	x := mat.NewVecDense(len(dst), dst)
	err := s.lu.SolveVecTo(x, false, mat.NewVecDense(len(s.rhs), s.rhs))
	if err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return err
		}
	}
	return nil
}

func (s *DenseLinearSolver) Free() {
	s.m = nil
	s.rhs = nil
}
