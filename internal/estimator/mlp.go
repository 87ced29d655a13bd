package estimator

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"
)

const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-8
)

// Layer is the persisted form of one dense layer: a Rows x Cols weight
// matrix in row-major order and Cols biases.
type Layer struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	W    []float64 `json:"weights"`
	B    []float64 `json:"biases"`
}

// MLP is a feed-forward network with ReLU hidden layers and a linear output,
// trained with Adam on mini-batches. Inputs are expected to be standardized.
type MLP struct {
	Hidden             []int   `json:"hidden_layers"`
	MaxIter            int     `json:"max_iter"`
	LearningRate       float64 `json:"learning_rate"`
	BatchSize          int     `json:"batch_size"`
	Alpha              float64 `json:"alpha"`
	Tol                float64 `json:"tol"`
	ValidationFraction float64 `json:"validation_fraction"`
	Patience           int     `json:"patience"`
	Seed               int64   `json:"seed"`

	Layers    []Layer `json:"layers"`
	NIter     int     `json:"n_iter"`
	Converged bool    `json:"converged"`
}

func NewMLP(hidden []int, seed int64) *MLP {
	return &MLP{
		Hidden:             append([]int(nil), hidden...),
		MaxIter:            1000,
		LearningRate:       0.001,
		BatchSize:          200,
		Alpha:              1e-4,
		Tol:                1e-4,
		ValidationFraction: 0.1,
		Patience:           10,
		Seed:               seed,
	}
}

func (m *MLP) Kind() Kind { return KindMLP }

type mlpNet struct {
	W []*mat.Dense
	B [][]float64
}

func (net *mlpNet) forward(X *mat.Dense) []*mat.Dense {
	acts := make([]*mat.Dense, 0, len(net.W)+1)
	acts = append(acts, X)
	a := X
	for l, w := range net.W {
		r, _ := a.Dims()
		_, c := w.Dims()
		z := mat.NewDense(r, c, nil)
		z.Mul(a, w)
		b := net.B[l]
		hidden := l < len(net.W)-1
		z.Apply(func(_, j int, v float64) float64 {
			v += b[j]
			if hidden && v < 0 {
				return 0
			}
			return v
		}, z)
		acts = append(acts, z)
		a = z
	}
	return acts
}

// gradients back-propagates half mean squared error plus the L2 penalty.
// Every layer's gradient is computed before any parameter changes.
func (net *mlpNet) gradients(acts []*mat.Dense, y []float64, alpha float64) ([]*mat.Dense, [][]float64, float64) {
	L := len(net.W)
	out := acts[L]
	n, _ := out.Dims()
	bs := float64(n)

	delta := mat.NewDense(n, 1, nil)
	var loss float64
	for i := 0; i < n; i++ {
		d := out.At(i, 0) - y[i]
		delta.Set(i, 0, d)
		loss += d * d
	}
	loss /= 2 * bs
	for _, w := range net.W {
		raw := w.RawMatrix().Data
		var sq float64
		for _, v := range raw {
			sq += v * v
		}
		loss += alpha * sq / (2 * bs)
	}

	gW := make([]*mat.Dense, L)
	gB := make([][]float64, L)
	for l := L - 1; l >= 0; l-- {
		rows, cols := net.W[l].Dims()
		g := mat.NewDense(rows, cols, nil)
		g.Mul(acts[l].T(), delta)
		var reg mat.Dense
		reg.Scale(alpha, net.W[l])
		g.Add(g, &reg)
		g.Scale(1/bs, g)
		gW[l] = g

		gb := make([]float64, cols)
		for i := 0; i < n; i++ {
			for j := 0; j < cols; j++ {
				gb[j] += delta.At(i, j)
			}
		}
		for j := range gb {
			gb[j] /= bs
		}
		gB[l] = gb

		if l > 0 {
			var next mat.Dense
			next.Mul(delta, net.W[l].T())
			prev := acts[l]
			next.Apply(func(i, j int, v float64) float64 {
				if prev.At(i, j) <= 0 {
					return 0
				}
				return v
			}, &next)
			delta = &next
		}
	}
	return gW, gB, loss
}

func (net *mlpNet) predict(X *mat.Dense) []float64 {
	acts := net.forward(X)
	out := acts[len(acts)-1]
	n, _ := out.Dims()
	pred := make([]float64, n)
	for i := range pred {
		pred[i] = out.At(i, 0)
	}
	return pred
}

func (net *mlpNet) clone() *mlpNet {
	c := &mlpNet{W: make([]*mat.Dense, len(net.W)), B: make([][]float64, len(net.B))}
	for l := range net.W {
		c.W[l] = mat.DenseCopyOf(net.W[l])
		c.B[l] = append([]float64(nil), net.B[l]...)
	}
	return c
}

func (net *mlpNet) layers() []Layer {
	out := make([]Layer, len(net.W))
	for l, w := range net.W {
		r, c := w.Dims()
		data := make([]float64, 0, r*c)
		for i := 0; i < r; i++ {
			data = append(data, w.RawRowView(i)...)
		}
		out[l] = Layer{Rows: r, Cols: c, W: data, B: append([]float64(nil), net.B[l]...)}
	}
	return out
}

func netFromLayers(layers []Layer) (*mlpNet, error) {
	net := &mlpNet{}
	for i, layer := range layers {
		if layer.Rows <= 0 || layer.Cols <= 0 || len(layer.W) != layer.Rows*layer.Cols || len(layer.B) != layer.Cols {
			return nil, fmt.Errorf("layer %d has inconsistent shape", i)
		}
		if i > 0 && layers[i-1].Cols != layer.Rows {
			return nil, fmt.Errorf("layer %d input %d does not match previous output %d", i, layer.Rows, layers[i-1].Cols)
		}
		net.W = append(net.W, mat.NewDense(layer.Rows, layer.Cols, append([]float64(nil), layer.W...)))
		net.B = append(net.B, append([]float64(nil), layer.B...))
	}
	return net, nil
}

type adamState struct {
	mW, vW []*mat.Dense
	mB, vB [][]float64
	t      int
}

func newAdamState(net *mlpNet) *adamState {
	s := &adamState{}
	for l, w := range net.W {
		r, c := w.Dims()
		s.mW = append(s.mW, mat.NewDense(r, c, nil))
		s.vW = append(s.vW, mat.NewDense(r, c, nil))
		s.mB = append(s.mB, make([]float64, len(net.B[l])))
		s.vB = append(s.vB, make([]float64, len(net.B[l])))
	}
	return s
}

func adamUpdate(param, grad, m, v []float64, step float64) {
	for i, g := range grad {
		m[i] = adamBeta1*m[i] + (1-adamBeta1)*g
		v[i] = adamBeta2*v[i] + (1-adamBeta2)*g*g
		param[i] -= step * m[i] / (math.Sqrt(v[i]) + adamEpsilon)
	}
}

func (s *adamState) apply(net *mlpNet, gW []*mat.Dense, gB [][]float64, lr float64) {
	s.t++
	step := lr * math.Sqrt(1-math.Pow(adamBeta2, float64(s.t))) / (1 - math.Pow(adamBeta1, float64(s.t)))
	for l := range net.W {
		adamUpdate(net.W[l].RawMatrix().Data, gW[l].RawMatrix().Data, s.mW[l].RawMatrix().Data, s.vW[l].RawMatrix().Data, step)
		adamUpdate(net.B[l], gB[l], s.mB[l], s.vB[l], step)
	}
}

func denseRows(X [][]float64, rows []int, p int) *mat.Dense {
	d := mat.NewDense(len(rows), p, nil)
	for i, r := range rows {
		d.SetRow(i, X[r])
	}
	return d
}

func (m *MLP) Fit(X [][]float64, y []float64) error {
	n, p, err := checkFit(X, y)
	if err != nil {
		return err
	}
	if m.MaxIter <= 0 || m.LearningRate <= 0 {
		return fmt.Errorf("%w: mlp needs positive iterations and learning rate", ErrFit)
	}
	for _, h := range m.Hidden {
		if h <= 0 {
			return fmt.Errorf("%w: hidden layer sizes must be positive", ErrFit)
		}
	}

	rng := rand.New(rand.NewSource(m.Seed))
	perm := rng.Perm(n)

	nVal := 0
	if m.ValidationFraction > 0 {
		nVal = int(math.Ceil(m.ValidationFraction * float64(n)))
	}
	early := nVal >= 2 && n-nVal >= 1
	if !early {
		nVal = 0
	}
	valIdx := perm[:nVal]
	trainIdx := append([]int(nil), perm[nVal:]...)
	nTrain := len(trainIdx)

	sizes := append([]int{p}, m.Hidden...)
	sizes = append(sizes, 1)
	net := &mlpNet{}
	for l := 0; l < len(sizes)-1; l++ {
		in, out := sizes[l], sizes[l+1]
		bound := math.Sqrt(6 / float64(in+out))
		w := make([]float64, in*out)
		for i := range w {
			w[i] = (rng.Float64()*2 - 1) * bound
		}
		b := make([]float64, out)
		for i := range b {
			b[i] = (rng.Float64()*2 - 1) * bound
		}
		net.W = append(net.W, mat.NewDense(in, out, w))
		net.B = append(net.B, b)
	}

	batch := m.BatchSize
	if batch <= 0 || batch > nTrain {
		batch = nTrain
	}

	var valX *mat.Dense
	var valY []float64
	if early {
		valX = denseRows(X, valIdx, p)
		for _, r := range valIdx {
			valY = append(valY, y[r])
		}
	}

	opt := newAdamState(net)
	best := net.clone()
	bestScore := math.Inf(-1)
	bestLoss := math.Inf(1)
	stale := 0
	m.Converged = false

	epoch := 0
	for epoch < m.MaxIter {
		epoch++
		rng.Shuffle(nTrain, func(i, j int) { trainIdx[i], trainIdx[j] = trainIdx[j], trainIdx[i] })

		var epochLoss float64
		for start := 0; start < nTrain; start += batch {
			end := start + batch
			if end > nTrain {
				end = nTrain
			}
			rows := trainIdx[start:end]
			xb := denseRows(X, rows, p)
			yb := make([]float64, len(rows))
			for i, r := range rows {
				yb[i] = y[r]
			}

			acts := net.forward(xb)
			gW, gB, loss := net.gradients(acts, yb, m.Alpha)
			opt.apply(net, gW, gB, m.LearningRate)
			epochLoss += loss * float64(len(rows))
		}
		epochLoss /= float64(nTrain)
		if math.IsNaN(epochLoss) || math.IsInf(epochLoss, 0) {
			return fmt.Errorf("%w: mlp loss diverged at epoch %d", ErrFit, epoch)
		}

		if early {
			score := rSquared(net.predict(valX), valY)
			if score > bestScore+m.Tol {
				stale = 0
			} else {
				stale++
			}
			if score > bestScore {
				bestScore = score
				best = net.clone()
			}
		} else {
			if epochLoss > bestLoss-m.Tol {
				stale++
			} else {
				stale = 0
			}
			if epochLoss < bestLoss {
				bestLoss = epochLoss
			}
		}

		if m.Patience > 0 && stale >= m.Patience {
			m.Converged = true
			break
		}
	}

	if !m.Converged {
		log.Warn().Int("max_iter", m.MaxIter).Msg("MLP reached the iteration limit before converging")
	}
	if early {
		net = best
	}

	layers := net.layers()
	for _, layer := range layers {
		if !allFinite(layer.W, layer.B) {
			return fmt.Errorf("%w: non-finite network weights", ErrFit)
		}
	}
	m.Layers = layers
	m.NIter = epoch
	return nil
}

func (m *MLP) Predict(X [][]float64) ([]float64, error) {
	if len(m.Layers) == 0 {
		return nil, ErrNotFitted
	}
	net, err := netFromLayers(m.Layers)
	if err != nil {
		return nil, err
	}
	p := m.Layers[0].Rows
	if err := checkPredict(X, p); err != nil {
		return nil, err
	}
	if len(X) == 0 {
		return []float64{}, nil
	}
	rows := make([]int, len(X))
	for i := range rows {
		rows[i] = i
	}
	return net.predict(denseRows(X, rows, p)), nil
}
