package vm

import "context"

// ---------------------------------------------------------------------------
// Perform / Resume / handler scope instructions
// ---------------------------------------------------------------------------

// execPerform suspends the current computation up to the nearest handler
// scope declaring the operation and transfers control to that handler. The
// performed argument and a one-shot continuation land in the handler's
// registers as declared by the handler table entry.
func (in *Interpreter) execPerform(f *callFrame, ins Instruction) *RuntimeError {
	a, e := in.slot(f, ins.A())
	if e != nil {
		return e
	}
	opID := uint32(ins.Bx())

	var entry *HandlerEntry
	si := -1
	for i := len(in.scopes) - 1; i >= 0 && entry == nil; i-- {
		table := &in.mod.Handlers[in.scopes[i].table]
		for j := range table.Entries {
			if table.Entries[j].Op == opID {
				entry = &table.Entries[j]
				si = i
				break
			}
		}
	}
	if entry == nil {
		return in.fail(ErrEffect, "unhandled effect %q", in.strings.Resolve(StringID(opID)))
	}
	if in.tracer != nil {
		in.tracer.EffectPerform(in.strings.Resolve(StringID(opID)))
	}

	// f.pc already points past the Perform: that is the resume point.
	arg := in.stack.regs[a].Retain()
	cont, scopes := captureContinuation(in.stack, in.scopes, si, ins.A())
	in.scopes = scopes

	hf := in.stack.top()
	hf.pc = entry.Addr
	dst, e := in.slot(hf, entry.ArgReg)
	if e != nil {
		arg.Release()
		return e
	}
	in.setSlot(dst, arg)
	cdst, e := in.slot(hf, entry.ContReg)
	if e != nil {
		return e
	}
	in.setSlot(cdst, Value{kind: KindContinuation, ref: cont})
	return nil
}

// execHandlePop closes the innermost handler scope. Scopes close in strict
// LIFO order and only once every continuation captured against the scope
// has been consumed or discarded.
func (in *Interpreter) execHandlePop() *RuntimeError {
	n := len(in.scopes)
	if n == 0 {
		return in.fail(ErrEffect, "handler pop with no open scope")
	}
	sc := in.scopes[n-1]
	if sc.frame != in.stack.depth()-1 {
		return in.fail(ErrEffect, "handler pop outside the scope's frame")
	}
	if sc.pending != 0 {
		return in.fail(ErrEffect, "handler pop with %d outstanding continuations", sc.pending)
	}
	in.scopes[n-1] = nil
	in.scopes = in.scopes[:n-1]
	return nil
}

// execResume splices a captured continuation back onto the stack and
// delivers the resume value at its suspension point. When the resumed body
// eventually returns, its result lands in this frame via the normal return
// path and execution continues after the Resume.
func (in *Interpreter) execResume(f *callFrame, ins Instruction) *RuntimeError {
	a, e := in.slot(f, ins.A())
	if e != nil {
		return e
	}
	b, e := in.slot(f, ins.B())
	if e != nil {
		return e
	}
	cv := in.stack.regs[a]
	if cv.Kind() != KindContinuation {
		return in.fail(ErrType, "resume of %s", cv.Kind())
	}
	cont := cv.AsContinuation()
	if !cont.consume() {
		return in.fail(ErrEffect, "continuation resumed twice")
	}
	if in.tracer != nil {
		in.tracer.EffectResume()
	}
	val := in.stack.regs[b].Retain()

	restored := cont.splice(in.stack)
	in.scopes = append(in.scopes, restored...)

	top := in.stack.top()
	dst, e := in.slot(top, cont.resultReg)
	if e != nil {
		val.Release()
		return e
	}
	in.setSlot(dst, val)
	return nil
}

// ---------------------------------------------------------------------------
// Tool calls, schema checks, awaits
// ---------------------------------------------------------------------------

// execToolCall converts the argument to a native value on the engine
// thread, then dispatches on a provider goroutine. The destination register
// receives a pending future immediately.
func (in *Interpreter) execToolCall(ctx context.Context, f *callFrame, ins Instruction) *RuntimeError {
	a, e := in.slot(f, ins.A())
	if e != nil {
		return e
	}
	ai, e := in.slot(f, ins.A()+1)
	if e != nil {
		return e
	}
	ti := int(ins.Bx())
	if ti >= len(in.mod.Tools) {
		return in.fail(ErrEncoding, "tool %d outside pool", ti)
	}
	decl := in.mod.Tools[ti]
	if in.tools == nil {
		return in.fail(ErrTool, "no tool dispatcher configured for %q", decl.Alias)
	}
	args, ne := toNative(in.stack.regs[ai], in.strings, in.mod.Types)
	if ne != nil {
		return in.fail(ErrTool, "tool %q args: %s", decl.Alias, ne.Error())
	}
	policy := in.mod.MergedPolicy(decl.Alias)

	if in.tracer != nil {
		in.tracer.ToolCall(decl.Alias)
	}
	fv, fut := NewFuture()
	go func() {
		out, err := in.tools.Invoke(ctx, decl, policy, args)
		if err != nil {
			fut.Fail(err)
			return
		}
		fut.ResolveNative(out)
	}()
	in.setSlot(a, fv)
	return nil
}

// execSchema validates R[A] against the named schema. The value passes
// through unchanged; failure is a schema error naming the violation.
func (in *Interpreter) execSchema(f *callFrame, ins Instruction) *RuntimeError {
	a, e := in.slot(f, ins.A())
	if e != nil {
		return e
	}
	name := in.strings.Resolve(StringID(ins.Bx()))
	if in.schemas == nil {
		return in.fail(ErrSchema, "no schema validator configured for %q", name)
	}
	native, ne := toNative(in.stack.regs[a], in.strings, in.mod.Types)
	if ne != nil {
		return in.fail(ErrSchema, "schema %q: %s", name, ne.Error())
	}
	err := in.schemas.Validate(name, native)
	if in.tracer != nil {
		in.tracer.SchemaValidate(name, err == nil)
	}
	if err != nil {
		return in.fail(ErrSchema, "schema %q: %s", name, err.Error())
	}
	return nil
}

// execAwait blocks until the future in R[B] settles, then writes its value
// to R[A]. This is the engine's only blocking point besides tool dispatch
// itself; cancellation arrives through ctx.
func (in *Interpreter) execAwait(ctx context.Context, f *callFrame, ins Instruction) *RuntimeError {
	a, e := in.slot(f, ins.A())
	if e != nil {
		return e
	}
	b, e := in.slot(f, ins.B())
	if e != nil {
		return e
	}
	v := in.stack.regs[b]
	if v.Kind() != KindFuture {
		return in.fail(ErrType, "await of %s", v.Kind())
	}
	fut := v.AsFuture()
	if err := fut.Wait(ctx); err != nil {
		return in.fail(ErrTool, "await interrupted: %s", err.Error())
	}
	val, err := fut.result(in.strings)
	if err != nil {
		return in.fail(ErrTool, "%s", err.Error())
	}
	in.setSlot(a, val)
	return nil
}
