package vm

import "math"

func registerMathBuiltins(t *BuiltinTable) {
	t.Register(BiAbs, "abs", 1, biAbs)
	t.Register(BiMin, "min", 2, biMin)
	t.Register(BiMax, "max", 2, biMax)
	t.Register(BiRound, "round", 1, mathUnary(math.Round))
	t.Register(BiCeil, "ceil", 1, mathUnary(math.Ceil))
	t.Register(BiFloor, "floor", 1, mathUnary(math.Floor))
	t.Register(BiTrunc, "trunc", 1, mathUnary(math.Trunc))
	t.Register(BiSqrt, "sqrt", 1, mathFloatUnary(math.Sqrt))
	t.Register(BiLog, "log", 1, mathFloatUnary(math.Log))
	t.Register(BiSin, "sin", 1, mathFloatUnary(math.Sin))
	t.Register(BiCos, "cos", 1, mathFloatUnary(math.Cos))
	t.Register(BiTan, "tan", 1, mathFloatUnary(math.Tan))
	t.Register(BiExp, "exp", 1, mathFloatUnary(math.Exp))
	t.Register(BiPow, "pow", 2, biPow)
	t.Register(BiClamp, "clamp", 3, biClamp)
}

func biAbs(in *Interpreter, args []Value) (Value, *RuntimeError) {
	switch args[0].Kind() {
	case KindInt:
		n := args[0].Int()
		if n < 0 {
			n = -n
		}
		return NewInt(n), nil
	case KindFloat:
		return NewFloat(math.Abs(args[0].Float())), nil
	}
	return Null, newError(ErrBuiltin, "abs of %s", args[0].Kind())
}

func pickNum(in *Interpreter, a, b Value, takeA func(x, y float64) bool) (Value, *RuntimeError) {
	x, err := wantNumber(a, "operand")
	if err != nil {
		return Null, err
	}
	y, err := wantNumber(b, "operand")
	if err != nil {
		return Null, err
	}
	if takeA(x, y) {
		return a.Retain(), nil
	}
	return b.Retain(), nil
}

func biMin(in *Interpreter, args []Value) (Value, *RuntimeError) {
	return pickNum(in, args[0], args[1], func(x, y float64) bool { return x <= y })
}

func biMax(in *Interpreter, args []Value) (Value, *RuntimeError) {
	return pickNum(in, args[0], args[1], func(x, y float64) bool { return x >= y })
}

// mathUnary keeps Int inputs Int: rounding an integer is the identity.
func mathUnary(fn func(float64) float64) BuiltinFunc {
	return func(in *Interpreter, args []Value) (Value, *RuntimeError) {
		switch args[0].Kind() {
		case KindInt:
			return args[0].Retain(), nil
		case KindFloat:
			return NewFloat(fn(args[0].Float())), nil
		}
		return Null, newError(ErrBuiltin, "numeric builtin on %s", args[0].Kind())
	}
}

// mathFloatUnary widens to Float regardless of input kind.
func mathFloatUnary(fn func(float64) float64) BuiltinFunc {
	return func(in *Interpreter, args []Value) (Value, *RuntimeError) {
		x, err := wantNumber(args[0], "operand")
		if err != nil {
			return Null, err
		}
		return NewFloat(fn(x)), nil
	}
}

func biPow(in *Interpreter, args []Value) (Value, *RuntimeError) {
	return in.arith(OpPow, args[0], args[1])
}

func biClamp(in *Interpreter, args []Value) (Value, *RuntimeError) {
	x, err := wantNumber(args[0], "clamp subject")
	if err != nil {
		return Null, err
	}
	lo, err := wantNumber(args[1], "clamp low")
	if err != nil {
		return Null, err
	}
	hi, err := wantNumber(args[2], "clamp high")
	if err != nil {
		return Null, err
	}
	switch {
	case x < lo:
		return args[1].Retain(), nil
	case x > hi:
		return args[2].Retain(), nil
	}
	return args[0].Retain(), nil
}
