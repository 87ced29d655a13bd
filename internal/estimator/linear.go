package estimator

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
	"github.com/sajari/regression"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// linearModel is the fitted state shared by the linear families.
type linearModel struct {
	Intercept float64   `json:"intercept"`
	Coef      []float64 `json:"coef"`
}

func (m *linearModel) predict(X [][]float64) ([]float64, error) {
	if len(m.Coef) == 0 {
		return nil, ErrNotFitted
	}
	if err := checkPredict(X, len(m.Coef)); err != nil {
		return nil, err
	}
	out := make([]float64, len(X))
	for i, row := range X {
		out[i] = m.Intercept + floats.Dot(m.Coef, row)
	}
	return out, nil
}

func (m *linearModel) set(intercept float64, coef []float64) error {
	if !allFinite(coef, []float64{intercept}) {
		return fmt.Errorf("%w: non-finite coefficients", ErrFit)
	}
	m.Intercept = intercept
	m.Coef = coef
	return nil
}

// LinearRegression is ordinary least squares.
type LinearRegression struct {
	linearModel
}

func (m *LinearRegression) Kind() Kind { return KindLinear }

func (m *LinearRegression) Fit(X [][]float64, y []float64) error {
	_, p, err := checkFit(X, y)
	if err != nil {
		return err
	}

	var r regression.Regression
	r.SetObserved("expected_output")
	for j := 0; j < p; j++ {
		r.SetVar(j, fmt.Sprintf("x%d", j))
	}
	for i := range X {
		r.Train(regression.DataPoint(y[i], X[i]))
	}
	if err := r.Run(); err != nil {
		return fmt.Errorf("%w: least squares: %v", ErrFit, err)
	}

	coeffs := r.GetCoeffs()
	if len(coeffs) != p+1 {
		return fmt.Errorf("%w: expected %d coefficients, got %d", ErrFit, p+1, len(coeffs))
	}
	return m.set(coeffs[0], append([]float64(nil), coeffs[1:]...))
}

func (m *LinearRegression) Predict(X [][]float64) ([]float64, error) {
	return m.predict(X)
}

// Ridge is L2-regularized least squares. The intercept is not penalized.
type Ridge struct {
	Alpha float64 `json:"alpha"`
	linearModel
}

func (m *Ridge) Kind() Kind { return KindRidge }

func (m *Ridge) Fit(X [][]float64, y []float64) error {
	n, p, err := checkFit(X, y)
	if err != nil {
		return err
	}
	if m.Alpha < 0 {
		return fmt.Errorf("%w: negative alpha %v", ErrFit, m.Alpha)
	}

	xMean := columnMeans(X, p)
	yMean := mean(y)

	xc := mat.NewDense(n, p, nil)
	yc := mat.NewVecDense(n, nil)
	for i, row := range X {
		for j, v := range row {
			xc.Set(i, j, v-xMean[j])
		}
		yc.SetVec(i, y[i]-yMean)
	}

	var gram mat.Dense
	gram.Mul(xc.T(), xc)
	for j := 0; j < p; j++ {
		gram.Set(j, j, gram.At(j, j)+m.Alpha)
	}

	var rhs mat.VecDense
	rhs.MulVec(xc.T(), yc)

	var w mat.VecDense
	if err := w.SolveVec(&gram, &rhs); err != nil {
		return fmt.Errorf("%w: ridge solve: %v", ErrFit, err)
	}

	coef := make([]float64, p)
	for j := range coef {
		coef[j] = w.AtVec(j)
	}
	return m.set(yMean-floats.Dot(xMean, coef), coef)
}

func (m *Ridge) Predict(X [][]float64) ([]float64, error) {
	return m.predict(X)
}

// Lasso is L1-regularized least squares fit by cyclic coordinate descent on
// the objective (1/2n)·||y − Xw||² + Alpha·||w||₁.
type Lasso struct {
	Alpha   float64 `json:"alpha"`
	MaxIter int     `json:"max_iter"`
	Tol     float64 `json:"tol"`
	NIter   int     `json:"n_iter"`
	linearModel
}

func (m *Lasso) Kind() Kind { return KindLasso }

func (m *Lasso) Fit(X [][]float64, y []float64) error {
	n, p, err := checkFit(X, y)
	if err != nil {
		return err
	}
	if m.Alpha < 0 {
		return fmt.Errorf("%w: negative alpha %v", ErrFit, m.Alpha)
	}
	maxIter := m.MaxIter
	if maxIter <= 0 {
		maxIter = 1000
	}
	tol := m.Tol
	if tol <= 0 {
		tol = 1e-4
	}

	xMean := columnMeans(X, p)
	yMean := mean(y)

	cols := make([][]float64, p)
	norms := make([]float64, p)
	for j := range cols {
		cols[j] = make([]float64, n)
		for i, row := range X {
			cols[j][i] = row[j] - xMean[j]
		}
		norms[j] = floats.Dot(cols[j], cols[j])
	}

	residual := make([]float64, n)
	for i := range residual {
		residual[i] = y[i] - yMean
	}

	w := make([]float64, p)
	threshold := float64(n) * m.Alpha
	converged := false

	for iter := 1; iter <= maxIter; iter++ {
		m.NIter = iter
		var maxDelta, maxW float64
		for j := 0; j < p; j++ {
			if norms[j] == 0 {
				continue
			}
			old := w[j]
			rho := floats.Dot(cols[j], residual) + norms[j]*old
			w[j] = softThreshold(rho, threshold) / norms[j]
			if delta := w[j] - old; delta != 0 {
				floats.AddScaled(residual, -delta, cols[j])
				maxDelta = math.Max(maxDelta, math.Abs(delta))
			}
			maxW = math.Max(maxW, math.Abs(w[j]))
		}
		if maxW == 0 || maxDelta/maxW < tol {
			converged = true
			break
		}
	}

	if !converged {
		log.Warn().
			Int("iterations", m.NIter).
			Float64("alpha", m.Alpha).
			Msg("Lasso did not converge, keeping last coefficients")
	}

	return m.set(yMean-floats.Dot(xMean, w), w)
}

func (m *Lasso) Predict(X [][]float64) ([]float64, error) {
	return m.predict(X)
}

func softThreshold(x, t float64) float64 {
	switch {
	case x > t:
		return x - t
	case x < -t:
		return x + t
	default:
		return 0
	}
}
