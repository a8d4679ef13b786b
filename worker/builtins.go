package worker

import (
	"fmt"
	"math"

	"github.com/unixpickle/distvec/linalg"
	"github.com/unixpickle/distvec/protocol"
	"github.com/unixpickle/distvec/transport"
	"go.uber.org/zap"
)

// DefaultFuncs are the elementwise functions every
// builtin worker knows for apply.
var DefaultFuncs = map[string]func(float64) float64{
	"abs":    math.Abs,
	"neg":    func(x float64) float64 { return -x },
	"sqrt":   math.Sqrt,
	"exp":    math.Exp,
	"square": func(x float64) float64 { return x * x },
}

// RegisterBuiltins registers a handler for every builtin
// operation in package protocol, along with DefaultFuncs.
//
// Each handler resolves its operands from call.Inputs,
// which name values broadcast beforehand, and reports
// under call.Result.
// Builtin handlers ignore broadcasts under their tags,
// so a result may be rebroadcast under an operation name.
func RegisterBuiltins(a *Agent) {
	for name, f := range DefaultFuncs {
		a.RegisterFunc(name, f)
	}
	handlers := map[string]Handler{
		protocol.OpIdentity: vectorHandler(1, func(a *Agent, c *protocol.Call, v []*linalg.Vector) error {
			return a.WkIdentity(c.Result, v[0], c.Rebroadcast)
		}),
		protocol.OpPlus: vectorHandler(2, func(a *Agent, c *protocol.Call, v []*linalg.Vector) error {
			return a.WkPlus(c.Result, v[0], v[1], c.Rebroadcast)
		}),
		protocol.OpMinus: vectorHandler(2, func(a *Agent, c *protocol.Call, v []*linalg.Vector) error {
			return a.WkMinus(c.Result, v[0], v[1], c.Rebroadcast)
		}),
		protocol.OpTimes: vectorHandler(2, func(a *Agent, c *protocol.Call, v []*linalg.Vector) error {
			return a.WkTimes(c.Result, v[0], v[1], c.Rebroadcast)
		}),
		protocol.OpDivide: vectorHandler(2, func(a *Agent, c *protocol.Call, v []*linalg.Vector) error {
			return a.WkDivide(c.Result, v[0], v[1], c.Rebroadcast)
		}),
		protocol.OpScale: vectorHandler(1, func(a *Agent, c *protocol.Call, v []*linalg.Vector) error {
			if err := expectScalars(c, 1); err != nil {
				return err
			}
			return a.WkScale(c.Result, v[0], c.Scalars[0], c.Rebroadcast)
		}),
		protocol.OpApply: vectorHandler(1, func(a *Agent, c *protocol.Call, v []*linalg.Vector) error {
			f, err := a.Func(c.Func)
			if err != nil {
				return err
			}
			return a.WkApply(c.Result, v[0], f, c.Rebroadcast)
		}),
		protocol.OpSum: vectorHandler(1, func(a *Agent, c *protocol.Call, v []*linalg.Vector) error {
			return a.WkSum(c.Result, v[0], c.Rebroadcast)
		}),
		protocol.OpProduct: vectorHandler(1, func(a *Agent, c *protocol.Call, v []*linalg.Vector) error {
			return a.WkProduct(c.Result, v[0], c.Rebroadcast)
		}),
		protocol.OpDot: vectorHandler(2, func(a *Agent, c *protocol.Call, v []*linalg.Vector) error {
			return a.WkDot(c.Result, v[0], v[1], c.Rebroadcast)
		}),
		protocol.OpLinComb: func(a *Agent, c *protocol.Call) error {
			if c == nil {
				return nil
			}
			vecs, err := a.vectorInputs(c.Inputs)
			if err != nil {
				return err
			}
			return a.WkLinComb(c.Result, c.Scalars, vecs, c.Rebroadcast)
		},
		protocol.OpLinCombMatrix: func(a *Agent, c *protocol.Call) error {
			if c == nil {
				return nil
			}
			mats, err := a.matrixInputs(c.Inputs)
			if err != nil {
				return err
			}
			return a.WkLinCombMatrix(c.Result, c.Scalars, mats, c.Rebroadcast)
		},
		protocol.OpMatVec:        matVecHandler,
		protocol.OpVecMat:        vecMatHandler,
		protocol.OpMatMul:        matMulHandler(false),
		protocol.OpMatMulColumns: matMulHandler(true),
		protocol.OpGemv:          gemvHandler,
		protocol.OpGemm:          gemmHandler,
	}
	for tag, h := range handlers {
		a.On(tag, h)
	}
}

// Entry creates a GoSpawner entry point which serves a
// builtin Agent on the worker's transport.
//
// Each setup function is applied to the Agent before it
// starts, and can register additional handlers.
func Entry(logger *zap.Logger, setup ...func(a *Agent) error) func(t transport.Transport) {
	return func(t transport.Transport) {
		if err := Serve(t, logger, setup...); err != nil && logger != nil {
			logger.Error("worker setup failed", zap.Error(err))
		}
	}
}

// Serve runs a builtin Agent on t until t is closed.
func Serve(t transport.Transport, logger *zap.Logger, setup ...func(a *Agent) error) error {
	a := NewAgent(t, logger)
	RegisterBuiltins(a)
	for _, f := range setup {
		if err := f(a); err != nil {
			t.Close()
			return err
		}
	}
	a.Start()
	<-a.Done()
	return nil
}

func vectorHandler(n int, f func(a *Agent, c *protocol.Call, v []*linalg.Vector) error) Handler {
	return func(a *Agent, c *protocol.Call) error {
		if c == nil {
			return nil
		}
		if len(c.Inputs) != n {
			return fmt.Errorf("expected %d inputs but got %d", n, len(c.Inputs))
		}
		vecs, err := a.vectorInputs(c.Inputs)
		if err != nil {
			return err
		}
		return f(a, c, vecs)
	}
}

func matVecHandler(a *Agent, c *protocol.Call) error {
	if err := expectInputs(c, 2); err != nil {
		return err
	}
	m, err := a.Matrix(c.Inputs[0])
	if err != nil {
		return err
	}
	x, err := a.Vector(c.Inputs[1])
	if err != nil {
		return err
	}
	return a.WkMatVec(c.Result, m, x, c.Rebroadcast)
}

func vecMatHandler(a *Agent, c *protocol.Call) error {
	if err := expectInputs(c, 2); err != nil {
		return err
	}
	x, err := a.Vector(c.Inputs[0])
	if err != nil {
		return err
	}
	m, err := a.Matrix(c.Inputs[1])
	if err != nil {
		return err
	}
	return a.WkVecMat(c.Result, x, m, c.Rebroadcast)
}

func matMulHandler(columns bool) Handler {
	return func(a *Agent, c *protocol.Call) error {
		if err := expectInputs(c, 2); err != nil {
			return err
		}
		mats, err := a.matrixInputs(c.Inputs)
		if err != nil {
			return err
		}
		if columns {
			return a.WkMatMulColumns(c.Result, mats[0], mats[1], c.Rebroadcast)
		}
		return a.WkMatMul(c.Result, mats[0], mats[1], c.Rebroadcast)
	}
}

func gemvHandler(a *Agent, c *protocol.Call) error {
	if err := expectScalars(c, 2); err != nil {
		return err
	}
	if len(c.Inputs) != 2 && len(c.Inputs) != 3 {
		return fmt.Errorf("expected 2 or 3 inputs but got %d", len(c.Inputs))
	}
	m, err := a.Matrix(c.Inputs[0])
	if err != nil {
		return err
	}
	vecs, err := a.vectorInputs(c.Inputs[1:])
	if err != nil {
		return err
	}
	var y *linalg.Vector
	if len(vecs) == 2 {
		y = vecs[1]
	}
	return a.WkGemv(c.Result, c.Scalars[0], m, vecs[0], c.Scalars[1], y, c.Rebroadcast)
}

func gemmHandler(a *Agent, c *protocol.Call) error {
	if err := expectScalars(c, 2); err != nil {
		return err
	}
	if len(c.Inputs) != 2 && len(c.Inputs) != 3 {
		return fmt.Errorf("expected 2 or 3 inputs but got %d", len(c.Inputs))
	}
	mats, err := a.matrixInputs(c.Inputs)
	if err != nil {
		return err
	}
	var z *linalg.Matrix
	if len(mats) == 3 {
		z = mats[2]
	}
	return a.WkGemm(c.Result, c.Scalars[0], mats[0], mats[1], c.Scalars[1], z, c.Rebroadcast)
}

func (a *Agent) vectorInputs(tags []string) ([]*linalg.Vector, error) {
	res := make([]*linalg.Vector, len(tags))
	for i, tag := range tags {
		v, err := a.Vector(tag)
		if err != nil {
			return nil, err
		}
		res[i] = v
	}
	return res, nil
}

func (a *Agent) matrixInputs(tags []string) ([]*linalg.Matrix, error) {
	res := make([]*linalg.Matrix, len(tags))
	for i, tag := range tags {
		m, err := a.Matrix(tag)
		if err != nil {
			return nil, err
		}
		res[i] = m
	}
	return res, nil
}

func expectInputs(c *protocol.Call, n int) error {
	if c == nil {
		return nil
	}
	if len(c.Inputs) != n {
		return fmt.Errorf("expected %d inputs but got %d", n, len(c.Inputs))
	}
	return nil
}

func expectScalars(c *protocol.Call, n int) error {
	if c == nil {
		return nil
	}
	if len(c.Scalars) != n {
		return fmt.Errorf("expected %d scalars but got %d", n, len(c.Scalars))
	}
	return nil
}
