package engine

import "math"

// Optimizer applies accumulated gradients to one parameter slice. The
// engine keeps one instance per parameter family so momentum state stays
// attached to its parameters.
type Optimizer interface {
	// Step performs value -= learningRate / batchSize * gradient, possibly
	// filtered through momentum state.
	Step(params, grads []float32, learningRate float32, batchSize int)
	Reset()
	Name() string
}

func newOptimizer(kind OptimizerKind, numParams int) Optimizer {
	if kind == OptimizerAdam {
		return newAdamOptimizer(numParams)
	}
	return &sgdOptimizer{}
}

type sgdOptimizer struct{}

func (o *sgdOptimizer) Name() string { return "sgd" }
func (o *sgdOptimizer) Reset()       {}

func (o *sgdOptimizer) Step(params, grads []float32, learningRate float32, batchSize int) {
	scale := learningRate / float32(batchSize)
	for i := range params {
		params[i] -= scale * grads[i]
	}
}

// adamOptimizer keeps first and second moment estimates per parameter.
type adamOptimizer struct {
	beta1   float32
	beta2   float32
	epsilon float32

	firstMoment  []float32
	secondMoment []float32
	step         int
}

func newAdamOptimizer(numParams int) *adamOptimizer {
	return &adamOptimizer{
		beta1:        0.9,
		beta2:        0.999,
		epsilon:      1e-8,
		firstMoment:  make([]float32, numParams),
		secondMoment: make([]float32, numParams),
	}
}

func (o *adamOptimizer) Name() string { return "adam" }

func (o *adamOptimizer) Reset() {
	clearF32(o.firstMoment)
	clearF32(o.secondMoment)
	o.step = 0
}

func (o *adamOptimizer) Step(params, grads []float32, learningRate float32, batchSize int) {
	o.step++
	t := float64(o.step)
	correction1 := float32(1.0 - math.Pow(float64(o.beta1), t))
	correction2 := float32(1.0 - math.Pow(float64(o.beta2), t))
	scale := learningRate / float32(batchSize)

	for i := range params {
		g := grads[i]
		o.firstMoment[i] = o.beta1*o.firstMoment[i] + (1-o.beta1)*g
		o.secondMoment[i] = o.beta2*o.secondMoment[i] + (1-o.beta2)*g*g

		mHat := o.firstMoment[i] / correction1
		vHat := o.secondMoment[i] / correction2
		params[i] -= scale * mHat / (float32(math.Sqrt(float64(vHat))) + o.epsilon)
	}
}
