package vm

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"unicode"
)

func registerStringBuiltins(t *BuiltinTable) {
	t.Register(BiJoin, "join", 2, biJoin)
	t.Register(BiSplit, "split", 2, biSplit)
	t.Register(BiTrim, "trim", 1, biTrim)
	t.Register(BiTrimStart, "trim_start", 1, biTrimStart)
	t.Register(BiTrimEnd, "trim_end", 1, biTrimEnd)
	t.Register(BiUpper, "upper", 1, biUpper)
	t.Register(BiLower, "lower", 1, biLower)
	t.Register(BiReplace, "replace", 3, biReplace)
	t.Register(BiChars, "chars", 1, biChars)
	t.Register(BiStartsWith, "starts_with", 2, biStartsWith)
	t.Register(BiEndsWith, "ends_with", 2, biEndsWith)
	t.Register(BiIndexOf, "index_of", 2, biIndexOf)
	t.Register(BiPadLeft, "pad_left", 3, biPadLeft)
	t.Register(BiPadRight, "pad_right", 3, biPadRight)
	t.Register(BiCapitalize, "capitalize", 1, biCapitalize)
	t.Register(BiSnakeCase, "snake_case", 1, biSnakeCase)
	t.Register(BiCamelCase, "camel_case", 1, biCamelCase)
	t.Register(BiBase64Encode, "base64_encode", 1, biBase64Encode)
	t.Register(BiBase64Decode, "base64_decode", 1, biBase64Decode)
	t.Register(BiHexEncode, "hex_encode", 1, biHexEncode)
	t.Register(BiHexDecode, "hex_decode", 1, biHexDecode)
}

func biJoin(in *Interpreter, args []Value) (Value, *RuntimeError) {
	l, err := wantList(args[0], "join subject")
	if err != nil {
		return Null, err
	}
	sep, err := wantString(in, args[1], "join separator")
	if err != nil {
		return Null, err
	}
	parts := make([]string, len(l.Elems))
	for i, e := range l.Elems {
		parts[i] = e.Format(in.strings)
	}
	return internString(in, strings.Join(parts, sep)), nil
}

func biSplit(in *Interpreter, args []Value) (Value, *RuntimeError) {
	s, err := wantString(in, args[0], "split subject")
	if err != nil {
		return Null, err
	}
	sep, err := wantString(in, args[1], "split separator")
	if err != nil {
		return Null, err
	}
	parts := strings.Split(s, sep)
	out := make([]Value, len(parts))
	for i, p := range parts {
		out[i] = internString(in, p)
	}
	return NewList(out), nil
}

func stringUnary(fn func(string) string) BuiltinFunc {
	return func(in *Interpreter, args []Value) (Value, *RuntimeError) {
		s, err := wantString(in, args[0], "subject")
		if err != nil {
			return Null, err
		}
		return internString(in, fn(s)), nil
	}
}

var (
	biTrim      = stringUnary(strings.TrimSpace)
	biTrimStart = stringUnary(func(s string) string { return strings.TrimLeftFunc(s, unicode.IsSpace) })
	biTrimEnd   = stringUnary(func(s string) string { return strings.TrimRightFunc(s, unicode.IsSpace) })
	biUpper     = stringUnary(strings.ToUpper)
	biLower     = stringUnary(strings.ToLower)
)

func biReplace(in *Interpreter, args []Value) (Value, *RuntimeError) {
	s, err := wantString(in, args[0], "replace subject")
	if err != nil {
		return Null, err
	}
	old, err := wantString(in, args[1], "replace pattern")
	if err != nil {
		return Null, err
	}
	repl, err := wantString(in, args[2], "replace replacement")
	if err != nil {
		return Null, err
	}
	return internString(in, strings.ReplaceAll(s, old, repl)), nil
}

func biChars(in *Interpreter, args []Value) (Value, *RuntimeError) {
	s, err := wantString(in, args[0], "chars subject")
	if err != nil {
		return Null, err
	}
	runes := []rune(s)
	out := make([]Value, len(runes))
	for i, r := range runes {
		out[i] = internString(in, string(r))
	}
	return NewList(out), nil
}

func biStartsWith(in *Interpreter, args []Value) (Value, *RuntimeError) {
	s, err := wantString(in, args[0], "starts_with subject")
	if err != nil {
		return Null, err
	}
	prefix, err := wantString(in, args[1], "starts_with prefix")
	if err != nil {
		return Null, err
	}
	return NewBool(strings.HasPrefix(s, prefix)), nil
}

func biEndsWith(in *Interpreter, args []Value) (Value, *RuntimeError) {
	s, err := wantString(in, args[0], "ends_with subject")
	if err != nil {
		return Null, err
	}
	suffix, err := wantString(in, args[1], "ends_with suffix")
	if err != nil {
		return Null, err
	}
	return NewBool(strings.HasSuffix(s, suffix)), nil
}

// biIndexOf returns the rune index of the first occurrence, or -1.
func biIndexOf(in *Interpreter, args []Value) (Value, *RuntimeError) {
	s, err := wantString(in, args[0], "index_of subject")
	if err != nil {
		return Null, err
	}
	sub, err := wantString(in, args[1], "index_of needle")
	if err != nil {
		return Null, err
	}
	byteIdx := strings.Index(s, sub)
	if byteIdx < 0 {
		return NewInt(-1), nil
	}
	return NewInt(int64(len([]rune(s[:byteIdx])))), nil
}

func pad(s string, width int64, fill string, left bool) string {
	if fill == "" {
		fill = " "
	}
	runes := []rune(s)
	var b strings.Builder
	fillRunes := []rune(fill)
	for i := 0; int64(len(runes)+i) < width; i++ {
		b.WriteRune(fillRunes[i%len(fillRunes)])
	}
	if left {
		return b.String() + s
	}
	return s + b.String()
}

func biPadLeft(in *Interpreter, args []Value) (Value, *RuntimeError) {
	s, err := wantString(in, args[0], "pad_left subject")
	if err != nil {
		return Null, err
	}
	width, err := wantInt(args[1], "pad_left width")
	if err != nil {
		return Null, err
	}
	fill, err := wantString(in, args[2], "pad_left fill")
	if err != nil {
		return Null, err
	}
	return internString(in, pad(s, width, fill, true)), nil
}

func biPadRight(in *Interpreter, args []Value) (Value, *RuntimeError) {
	s, err := wantString(in, args[0], "pad_right subject")
	if err != nil {
		return Null, err
	}
	width, err := wantInt(args[1], "pad_right width")
	if err != nil {
		return Null, err
	}
	fill, err := wantString(in, args[2], "pad_right fill")
	if err != nil {
		return Null, err
	}
	return internString(in, pad(s, width, fill, false)), nil
}

var biCapitalize = stringUnary(func(s string) string {
	runes := []rune(s)
	if len(runes) == 0 {
		return s
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
})

var biSnakeCase = stringUnary(func(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case unicode.IsUpper(r):
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		case r == ' ' || r == '-':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
})

var biCamelCase = stringUnary(func(s string) string {
	var b strings.Builder
	upperNext := false
	for i, r := range s {
		switch {
		case r == '_' || r == ' ' || r == '-':
			upperNext = true
		case upperNext:
			b.WriteRune(unicode.ToUpper(r))
			upperNext = false
		case i == 0:
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
})

func biBase64Encode(in *Interpreter, args []Value) (Value, *RuntimeError) {
	s, err := wantString(in, args[0], "base64_encode subject")
	if err != nil {
		return Null, err
	}
	return internString(in, base64.StdEncoding.EncodeToString([]byte(s))), nil
}

func biBase64Decode(in *Interpreter, args []Value) (Value, *RuntimeError) {
	s, err := wantString(in, args[0], "base64_decode subject")
	if err != nil {
		return Null, err
	}
	raw, derr := base64.StdEncoding.DecodeString(s)
	if derr != nil {
		return Null, newError(ErrBuiltin, "base64_decode: %s", derr.Error())
	}
	return internString(in, string(raw)), nil
}

func biHexEncode(in *Interpreter, args []Value) (Value, *RuntimeError) {
	s, err := wantString(in, args[0], "hex_encode subject")
	if err != nil {
		return Null, err
	}
	return internString(in, hex.EncodeToString([]byte(s))), nil
}

func biHexDecode(in *Interpreter, args []Value) (Value, *RuntimeError) {
	s, err := wantString(in, args[0], "hex_decode subject")
	if err != nil {
		return Null, err
	}
	raw, derr := hex.DecodeString(s)
	if derr != nil {
		return Null, newError(ErrBuiltin, "hex_decode: %s", derr.Error())
	}
	return internString(in, string(raw)), nil
}
