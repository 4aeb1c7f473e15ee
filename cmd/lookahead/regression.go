package main

import (
	"math/rand"

	"github.com/joshcarp/lookahead"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// regression is a synthetic linear problem y = Xw + b + noise.
type regression struct {
	x     *mat.Dense
	y     *mat.VecDense
	trueW *mat.VecDense
	trueB float64
}

func newRegression(samples, features int, noise float64, rng *rand.Rand) *regression {
	trueW := mat.NewVecDense(features, nil)
	for i := 0; i < features; i++ {
		trueW.SetVec(i, rng.NormFloat64())
	}
	trueB := rng.NormFloat64()
	x := mat.NewDense(samples, features, nil)
	for i := 0; i < samples; i++ {
		for j := 0; j < features; j++ {
			x.Set(i, j, rng.NormFloat64())
		}
	}
	y := mat.NewVecDense(samples, nil)
	y.MulVec(x, trueW)
	for i := 0; i < samples; i++ {
		y.SetVec(i, y.AtVec(i)+trueB+noise*rng.NormFloat64())
	}
	return &regression{x: x, y: y, trueW: trueW, trueB: trueB}
}

// batchLoader hands out consecutive mini-batches and wraps around at the end of the data.
type batchLoader struct {
	data            *regression
	batchSize       int
	currentPosition int
	numBatches      int
}

func newBatchLoader(data *regression, batchSize int) (*batchLoader, error) {
	samples, _ := data.x.Dims()
	if samples < batchSize {
		return nil, errors.New("error: dataset is too small for the batch size")
	}
	return &batchLoader{
		data:       data,
		batchSize:  batchSize,
		numBatches: samples / batchSize,
	}, nil
}

func (loader *batchLoader) Reset() {
	loader.currentPosition = 0
}

func (loader *batchLoader) NextBatch() (*mat.Dense, *mat.VecDense) {
	samples, features := loader.data.x.Dims()
	nextPos := loader.currentPosition + loader.batchSize
	if nextPos > samples {
		loader.Reset()
		nextPos = loader.batchSize
	}
	x := loader.data.x.Slice(loader.currentPosition, nextPos, 0, features).(*mat.Dense)
	y := loader.data.y.SliceVec(loader.currentPosition, nextPos).(*mat.VecDense)
	loader.currentPosition = nextPos
	return x, y
}

// linearModel is the trained model: a weight vector and a scalar bias.
type linearModel struct {
	weight *lookahead.Parameter
	bias   *lookahead.Parameter
}

func newLinearModel(features int) *linearModel {
	return &linearModel{
		weight: lookahead.NewParameter("linear.weight", make([]float32, features)),
		bias:   lookahead.NewParameter("linear.bias", make([]float32, 1)),
	}
}

func (m *linearModel) params() []*lookahead.Parameter {
	return []*lookahead.Parameter{m.weight, m.bias}
}

func (m *linearModel) residual(x *mat.Dense, y *mat.VecDense) *mat.VecDense {
	_, features := x.Dims()
	w := mat.NewVecDense(features, toFloat64(m.weight.Value.Data()))
	b := float64(m.bias.Value.Data()[0])
	var resid mat.VecDense
	resid.MulVec(x, w)
	for i := 0; i < resid.Len(); i++ {
		resid.SetVec(i, resid.AtVec(i)+b)
	}
	resid.SubVec(&resid, y)
	return &resid
}

// Loss is the mean squared error over the given rows.
func (m *linearModel) Loss(x *mat.Dense, y *mat.VecDense) float64 {
	resid := m.residual(x, y)
	return mat.Dot(resid, resid) / float64(resid.Len())
}

// LossAndGrad computes the mean squared error and stores its gradient on the parameters.
func (m *linearModel) LossAndGrad(x *mat.Dense, y *mat.VecDense) float64 {
	resid := m.residual(x, y)
	n := float64(resid.Len())
	var gw mat.VecDense
	gw.MulVec(x.T(), resid)
	gw.ScaleVec(2/n, &gw)
	m.weight.SetGrad(toFloat32(gw.RawVector().Data))
	m.bias.SetGrad([]float32{float32(2 * mat.Sum(resid) / n)})
	return mat.Dot(resid, resid) / n
}

func toFloat64(xs []float32) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = float64(x)
	}
	return out
}

func toFloat32(xs []float64) []float32 {
	out := make([]float32, len(xs))
	for i, x := range xs {
		out[i] = float32(x)
	}
	return out
}
