// Package curve resolves the declarative scaling formulas used by catalog
// data (cost curves, production scaling, prestige formulas) to numbers.
// Evaluation is total: authoring mistakes degrade to documented defaults
// with a logged warning, never an error or panic.
package curve

import (
	"log"
	"math"
)

// Context maps variable names to the numbers a curve may read.
type Context map[string]float64

type Kind string

const (
	KindConstant          Kind = "constant"
	KindLinear            Kind = "linear"
	KindExponential       Kind = "exponential"
	KindExponentialOffset Kind = "exponential_offset"
	KindPolynomial        Kind = "polynomial"
	KindLogarithmic       Kind = "logarithmic"
	KindSigmoid           Kind = "sigmoid"
	KindStep              Kind = "step"
	KindCompound          Kind = "compound"
	KindFormula           Kind = "formula"
)

// Def is the JSON shape of a curve in catalog data. Either Preset names a
// curve from the preset table, or Kind plus the kind's parameters describe
// one inline.
type Def struct {
	Preset string `json:"preset,omitempty"`

	Kind Kind `json:"kind,omitempty"`

	// Which context variable the curve reads. Defaults to "count" for the
	// growth kinds and "value" for the shaping kinds.
	Input string `json:"input,omitempty"`

	Value       float64 `json:"value,omitempty"`       // constant
	Base        float64 `json:"base,omitempty"`        // linear, exponential
	Rate        float64 `json:"rate,omitempty"`        // linear, exponential
	Offset      float64 `json:"offset,omitempty"`      // exponential_offset, logarithmic
	Coefficient float64 `json:"coefficient,omitempty"` // polynomial, logarithmic
	Power       float64 `json:"power,omitempty"`       // polynomial
	LogBase     float64 `json:"log_base,omitempty"`    // logarithmic
	Max         float64 `json:"max,omitempty"`         // sigmoid
	Steepness   float64 `json:"steepness,omitempty"`   // sigmoid
	Midpoint    float64 `json:"midpoint,omitempty"`    // sigmoid

	Steps []StepEntry `json:"steps,omitempty"` // step

	Combine string `json:"combine,omitempty"` // compound: add|multiply|min|max|subtract|divide
	Curves  []Def  `json:"curves,omitempty"`  // compound

	Expr string `json:"expr,omitempty"` // formula
}

type StepEntry struct {
	Threshold float64 `json:"threshold"`
	Value     float64 `json:"value"`
}

// Curve is a compiled, immutable curve ready for evaluation.
type Curve struct {
	def   Def
	input string

	steps []StepEntry // sorted ascending by threshold
	subs  []*Curve

	ast     exprNode
	exprBad bool // parse failed at compile; evaluates to 0
}

// Evaluator resolves preset references and evaluates compiled curves.
// Construct one per engine instance and thread it as a dependency; there is
// no package-level shared state.
type Evaluator struct {
	presets map[string]*Curve
	logger  *log.Logger
}

func NewEvaluator(presets map[string]Def, logger *log.Logger) *Evaluator {
	e := &Evaluator{presets: make(map[string]*Curve, len(presets)), logger: logger}
	for id, def := range presets {
		e.presets[id] = e.compile(def)
	}
	return e
}

func (e *Evaluator) warnf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf("curve: "+format, args...)
	}
}

// Compile turns a Def into an evaluatable Curve. It never fails: a malformed
// formula is warned about once here and evaluates to 0 thereafter.
func (e *Evaluator) Compile(def Def) *Curve { return e.compile(def) }

func (e *Evaluator) compile(def Def) *Curve {
	c := &Curve{def: def, input: def.Input}
	if c.input == "" {
		switch def.Kind {
		case KindLinear, KindExponential, KindExponentialOffset:
			c.input = "count"
		default:
			c.input = "value"
		}
	}
	switch def.Kind {
	case KindStep:
		c.steps = append(c.steps, def.Steps...)
		for i := 1; i < len(c.steps); i++ {
			for j := i; j > 0 && c.steps[j].Threshold < c.steps[j-1].Threshold; j-- {
				c.steps[j], c.steps[j-1] = c.steps[j-1], c.steps[j]
			}
		}
	case KindCompound:
		for _, sub := range def.Curves {
			c.subs = append(c.subs, e.compile(sub))
		}
	case KindFormula:
		ast, err := parseExpr(def.Expr)
		if err != nil {
			e.warnf("formula %q: %v; will evaluate to 0", def.Expr, err)
			c.exprBad = true
		} else {
			c.ast = ast
		}
	}
	return c
}

// Evaluate reduces a curve to one number under ctx.
func (e *Evaluator) Evaluate(c *Curve, ctx Context) float64 {
	if c == nil {
		return 0
	}
	if c.def.Preset != "" {
		p, ok := e.presets[c.def.Preset]
		if !ok {
			e.warnf("unknown preset %q; using 1", c.def.Preset)
			return 1
		}
		return e.Evaluate(p, ctx)
	}

	in := func() float64 { return e.lookup(c.input, ctx) }

	switch c.def.Kind {
	case KindConstant:
		return c.def.Value
	case KindLinear:
		return c.def.Base + c.def.Rate*in()
	case KindExponential:
		return c.def.Base * math.Pow(c.def.Rate, in())
	case KindExponentialOffset:
		return c.def.Base * math.Pow(c.def.Rate, in()+c.def.Offset)
	case KindPolynomial:
		return c.def.Coefficient * math.Pow(in(), c.def.Power)
	case KindLogarithmic:
		base := c.def.LogBase
		if base <= 0 || base == 1 {
			base = math.E
		}
		return c.def.Coefficient * math.Log(in()+c.def.Offset) / math.Log(base)
	case KindSigmoid:
		return c.def.Max / (1 + math.Exp(-c.def.Steepness*(in()-c.def.Midpoint)))
	case KindStep:
		v := in()
		out := 0.0
		for _, s := range c.steps {
			if v < s.Threshold {
				break
			}
			out = s.Value
		}
		return out
	case KindCompound:
		return e.evalCompound(c, ctx)
	case KindFormula:
		if c.exprBad {
			return 0
		}
		v := c.ast.eval(ctx, func(name string) {
			e.warnf("formula %q: missing variable %q; using 0", c.def.Expr, name)
		})
		if math.IsNaN(v) || math.IsInf(v, 0) {
			e.warnf("formula %q: non-finite result; using 0", c.def.Expr)
			return 0
		}
		return v
	}
	e.warnf("unknown curve kind %q; using 0", c.def.Kind)
	return 0
}

func (e *Evaluator) evalCompound(c *Curve, ctx Context) float64 {
	if len(c.subs) == 0 {
		return 0
	}
	vals := make([]float64, len(c.subs))
	for i, sub := range c.subs {
		vals[i] = e.Evaluate(sub, ctx)
	}
	switch c.def.Combine {
	case "add":
		sum := 0.0
		for _, v := range vals {
			sum += v
		}
		return sum
	case "multiply":
		prod := 1.0
		for _, v := range vals {
			prod *= v
		}
		return prod
	case "min":
		m := vals[0]
		for _, v := range vals[1:] {
			m = math.Min(m, v)
		}
		return m
	case "max":
		m := vals[0]
		for _, v := range vals[1:] {
			m = math.Max(m, v)
		}
		return m
	case "subtract":
		out := vals[0]
		for _, v := range vals[1:] {
			out -= v
		}
		return out
	case "divide":
		div := 1.0
		for _, v := range vals[1:] {
			div *= v
		}
		if div == 0 {
			return 0
		}
		return vals[0] / div
	}
	e.warnf("unknown compound combine %q; using 0", c.def.Combine)
	return 0
}

func (e *Evaluator) lookup(name string, ctx Context) float64 {
	if v, ok := ctx[name]; ok {
		return v
	}
	e.warnf("missing context variable %q; using 0", name)
	return 0
}
