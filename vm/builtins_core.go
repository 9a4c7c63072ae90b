package vm

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
)

func registerCoreBuiltins(t *BuiltinTable) {
	t.Register(BiLength, "length", 1, biLength)
	t.Register(BiCount, "count", 2, biCount)
	t.Register(BiMatches, "matches", 2, biMatches)
	t.Register(BiHash, "hash", 1, biHash)
	t.Register(BiSha512, "sha512", 1, biSha512)
	t.Register(BiValidate, "validate", 2, biValidate)
	t.Register(BiTraceRef, "trace_ref", 1, biTraceRef)
	t.Register(BiPrint, "print", 1, biPrint)
	t.Register(BiToString, "to_string", 1, biToString)
	t.Register(BiToInt, "to_int", 1, biToInt)
	t.Register(BiToFloat, "to_float", 1, biToFloat)
	t.Register(BiTypeOf, "type_of", 1, biTypeOf)
	t.Register(BiJSONParse, "json_parse", 1, biJSONParse)
	t.Register(BiJSONEncode, "json_encode", 1, biJSONEncode)
	t.Register(BiUUID, "uuid", 1, biUUID)
	t.Register(BiTimestamp, "timestamp", 1, biTimestamp)
	t.Register(BiDebug, "debug", 1, biDebug)
	t.Register(BiClone, "clone", 1, biClone)
	t.Register(BiSizeof, "sizeof", 1, biSizeof)
}

func biLength(in *Interpreter, args []Value) (Value, *RuntimeError) {
	v := args[0]
	switch v.Kind() {
	case KindString:
		return NewInt(int64(len([]rune(in.strings.Resolve(v.StringID()))))), nil
	case KindList:
		return NewInt(int64(len(v.AsList().Elems))), nil
	case KindTuple:
		return NewInt(int64(len(v.AsTuple().Elems))), nil
	case KindMap:
		return NewInt(int64(len(v.AsMap().Entries))), nil
	case KindSet:
		return NewInt(int64(len(v.AsSet().Elems))), nil
	}
	return Null, newError(ErrBuiltin, "length of %s", v.Kind())
}

func biCount(in *Interpreter, args []Value) (Value, *RuntimeError) {
	l, err := wantList(args[0], "count subject")
	if err != nil {
		return Null, err
	}
	n := int64(0)
	for _, e := range l.Elems {
		if e.Equals(args[1]) {
			n++
		}
	}
	return NewInt(n), nil
}

func biMatches(in *Interpreter, args []Value) (Value, *RuntimeError) {
	s, err := wantString(in, args[0], "matches subject")
	if err != nil {
		return Null, err
	}
	pat, err := wantString(in, args[1], "matches pattern")
	if err != nil {
		return Null, err
	}
	re, cerr := regexp.Compile(pat)
	if cerr != nil {
		return Null, newError(ErrBuiltin, "matches: %s", cerr.Error())
	}
	return NewBool(re.MatchString(s)), nil
}

func biHash(in *Interpreter, args []Value) (Value, *RuntimeError) {
	s, err := wantString(in, args[0], "hash subject")
	if err != nil {
		return Null, err
	}
	return internString(in, fmt.Sprintf("sha256:%x", sha256.Sum256([]byte(s)))), nil
}

func biSha512(in *Interpreter, args []Value) (Value, *RuntimeError) {
	s, err := wantString(in, args[0], "sha512 subject")
	if err != nil {
		return Null, err
	}
	return internString(in, fmt.Sprintf("sha512:%x", sha512.Sum512([]byte(s)))), nil
}

func biValidate(in *Interpreter, args []Value) (Value, *RuntimeError) {
	name, err := wantString(in, args[1], "schema name")
	if err != nil {
		return Null, err
	}
	if in.schemas == nil {
		return Null, newError(ErrBuiltin, "no schema validator configured")
	}
	native, nerr := toNative(args[0], in.strings, in.mod.Types)
	if nerr != nil {
		return Null, newError(ErrBuiltin, "validate: %s", nerr.Error())
	}
	return NewBool(in.schemas.Validate(name, native) == nil), nil
}

func biTraceRef(in *Interpreter, args []Value) (Value, *RuntimeError) {
	return NewString(in.traceRef), nil
}

func biPrint(in *Interpreter, args []Value) (Value, *RuntimeError) {
	if in.print != nil {
		in.print(args[0].Format(in.strings))
	}
	return Null, nil
}

func biToString(in *Interpreter, args []Value) (Value, *RuntimeError) {
	if args[0].Kind() == KindString {
		return args[0].Retain(), nil
	}
	return internString(in, args[0].Format(in.strings)), nil
}

// biToInt follows the permissive conversion rule: unconvertible inputs
// yield Null rather than an error.
func biToInt(in *Interpreter, args []Value) (Value, *RuntimeError) {
	v := args[0]
	switch v.Kind() {
	case KindInt:
		return v.Retain(), nil
	case KindFloat:
		return NewInt(int64(v.Float())), nil
	case KindBool:
		if v.Bool() {
			return NewInt(1), nil
		}
		return NewInt(0), nil
	case KindString:
		if n, err := strconv.ParseInt(in.strings.Resolve(v.StringID()), 10, 64); err == nil {
			return NewInt(n), nil
		}
	}
	return Null, nil
}

func biToFloat(in *Interpreter, args []Value) (Value, *RuntimeError) {
	v := args[0]
	switch v.Kind() {
	case KindFloat:
		return v.Retain(), nil
	case KindInt:
		return NewFloat(float64(v.Int())), nil
	case KindString:
		if f, err := strconv.ParseFloat(in.strings.Resolve(v.StringID()), 64); err == nil {
			return NewFloat(f), nil
		}
	}
	return Null, nil
}

func biTypeOf(in *Interpreter, args []Value) (Value, *RuntimeError) {
	return internString(in, in.typeNameOf(args[0])), nil
}

func biJSONParse(in *Interpreter, args []Value) (Value, *RuntimeError) {
	s, err := wantString(in, args[0], "json_parse subject")
	if err != nil {
		return Null, err
	}
	var out any
	if jerr := json.Unmarshal([]byte(s), &out); jerr != nil {
		return Null, newError(ErrBuiltin, "json_parse: %s", jerr.Error())
	}
	v, ferr := FromNative(out, in.strings)
	if ferr != nil {
		return Null, newError(ErrBuiltin, "json_parse: %s", ferr.Error())
	}
	return v, nil
}

func biJSONEncode(in *Interpreter, args []Value) (Value, *RuntimeError) {
	native, nerr := toNative(args[0], in.strings, in.mod.Types)
	if nerr != nil {
		return Null, newError(ErrBuiltin, "json_encode: %s", nerr.Error())
	}
	raw, jerr := json.Marshal(native)
	if jerr != nil {
		return Null, newError(ErrBuiltin, "json_encode: %s", jerr.Error())
	}
	return internString(in, string(raw)), nil
}

func biUUID(in *Interpreter, args []Value) (Value, *RuntimeError) {
	return internString(in, uuid.NewString()), nil
}

func biTimestamp(in *Interpreter, args []Value) (Value, *RuntimeError) {
	return NewInt(time.Now().Unix()), nil
}

func biDebug(in *Interpreter, args []Value) (Value, *RuntimeError) {
	if in.print != nil {
		in.print(fmt.Sprintf("[debug] %s :: %s", args[0].Kind(), args[0].Format(in.strings)))
	}
	return args[0].Retain(), nil
}

func biClone(in *Interpreter, args []Value) (Value, *RuntimeError) {
	return deepClone(args[0]), nil
}

func biSizeof(in *Interpreter, args []Value) (Value, *RuntimeError) {
	return NewInt(int64(sizeOf(args[0]))), nil
}

// sizeOf counts the transitive number of values, a rough footprint measure.
func sizeOf(v Value) int {
	n := 1
	switch v.Kind() {
	case KindList:
		for _, e := range v.AsList().Elems {
			n += sizeOf(e)
		}
	case KindTuple:
		for _, e := range v.AsTuple().Elems {
			n += sizeOf(e)
		}
	case KindMap:
		for _, e := range v.AsMap().Entries {
			n += sizeOf(e)
		}
	case KindSet:
		for _, e := range v.AsSet().Elems {
			n += sizeOf(e)
		}
	case KindRecord:
		for _, e := range v.AsRecord().Fields {
			n += sizeOf(e)
		}
	case KindUnion:
		n += sizeOf(v.AsUnion().Payload)
	}
	return n
}

// deepClone copies collections recursively, producing an unshared value.
func deepClone(v Value) Value {
	switch v.Kind() {
	case KindList:
		src := v.AsList().Elems
		elems := make([]Value, len(src))
		for i, e := range src {
			elems[i] = deepClone(e)
		}
		return NewList(elems)
	case KindTuple:
		src := v.AsTuple().Elems
		elems := make([]Value, len(src))
		for i, e := range src {
			elems[i] = deepClone(e)
		}
		return NewTuple(elems)
	case KindMap:
		src := v.AsMap().Entries
		entries := make(map[string]Value, len(src))
		for k, e := range src {
			entries[k] = deepClone(e)
		}
		return NewMap(entries)
	case KindSet:
		src := v.AsSet().Elems
		elems := make(map[string]Value, len(src))
		for k, e := range src {
			elems[k] = deepClone(e)
		}
		return NewSet(elems)
	case KindRecord:
		r := v.AsRecord()
		fields := make([]Value, len(r.Fields))
		for i, e := range r.Fields {
			fields[i] = deepClone(e)
		}
		return NewRecord(r.Type, fields)
	case KindUnion:
		u := v.AsUnion()
		return NewUnion(u.Tag, deepClone(u.Payload))
	}
	return v.Retain()
}
