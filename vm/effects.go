package vm

// ---------------------------------------------------------------------------
// Algebraic effect engine
// ---------------------------------------------------------------------------
//
// Handler scopes form a stack pushed by HandlePush and popped by HandlePop,
// in strict LIFO order. Perform searches the scope stack top-down for the
// nearest scope declaring the operation, captures the frames between the
// performing frame and the scope's frame as a one-shot continuation,
// truncates the live stack, and transfers control to the handler. Resume
// splices the captured frames back and continues past the Perform.
//
// The continuation is a plain owned snapshot of frames and register slots,
// not a host coroutine: that keeps suspension portable and inspectable.

// effectScope is one live handler activation.
type effectScope struct {
	table   int // handler table index in the module
	frame   int // frame index whose cell pushed the scope; the handler runs here
	pending int // continuations captured against this scope and not yet consumed
}

// capturedFrame is a frame lifted off the live stack. Bases are stored
// relative to the first captured register slot so the snapshot can be
// spliced back at any stack position.
type capturedFrame struct {
	cell    int
	baseOff int
	size    int
	pc      int
	retDst  uint8
	closure *Closure
}

// Continuation is a one-shot suspended computation: the captured frame
// slice, their register slots, any handler scopes that lived above the
// intercepting scope, and the resumption point.
type Continuation struct {
	refs int32
	used bool

	frames    []capturedFrame
	regs      []Value
	scopes    []*effectScope // scopes above the intercepting one, frame fields relative
	resumePC  int            // resume point when no frames were captured
	resultReg uint8          // register of the resumed top frame receiving the value
	origin    *effectScope   // the scope this continuation was captured against
}

// AsContinuation returns the continuation box. Panics on other kinds.
func (v Value) AsContinuation() *Continuation {
	if v.kind != KindContinuation {
		panic("vm: Value.AsContinuation on " + v.kind.String())
	}
	return v.ref.(*Continuation)
}

// Used reports whether the continuation has already been resumed.
func (c *Continuation) Used() bool {
	return c.used
}

// Depth returns the number of captured frames, for introspection.
func (c *Continuation) Depth() int {
	return len(c.frames)
}

// discard abandons the captured frames without resuming. Their values are
// released per normal ownership rules; this is the engine's only
// cancellation primitive.
func (c *Continuation) discard() {
	if c.used {
		return
	}
	c.used = true
	if c.origin != nil {
		c.origin.pending--
	}
	releaseAll(c.regs)
	c.regs = nil
	c.frames = nil
	c.scopes = nil
}

// captureContinuation lifts every frame above scope.frame (and every scope
// above si) off the live stack into a new continuation. The top frame's pc
// must already point past the Perform instruction. resultReg names the
// register of the performing frame that receives the resume value.
func captureContinuation(stack *frameStack, scopes []*effectScope, si int, resultReg uint8) (*Continuation, []*effectScope) {
	sc := scopes[si]
	first := sc.frame + 1
	c := &Continuation{refs: 1, resultReg: resultReg, origin: sc}
	sc.pending++

	if first < len(stack.frames) {
		// Frames above the scope frame move into the snapshot.
		firstBase := stack.frames[first].base
		for i := first; i < len(stack.frames); i++ {
			f := &stack.frames[i]
			c.frames = append(c.frames, capturedFrame{
				cell:    f.cell,
				baseOff: f.base - firstBase,
				size:    f.size,
				pc:      f.pc,
				retDst:  f.retDst,
				closure: f.closure,
			})
		}
		c.regs = append(c.regs, stack.regs[firstBase:]...)
		// Scopes pushed by captured frames travel with them.
		for _, s := range scopes[si+1:] {
			s.frame -= first
			c.scopes = append(c.scopes, s)
		}
		stack.truncate(sc.frame)
	} else {
		// The performing frame is the scope frame itself; capture the
		// resumption point, plus any scopes opened above the intercepting
		// one in this frame so resume restores the handler stack to its
		// pre-perform level.
		c.resumePC = stack.top().pc
		for _, s := range scopes[si+1:] {
			s.frame -= sc.frame
			c.scopes = append(c.scopes, s)
		}
	}
	return c, scopes[:si+1]
}

// splice pushes the continuation's captured frames back onto the live
// stack. Returns the restored scopes with their frame indices rebased.
// Ownership of the captured register slots transfers back to the arena.
func (c *Continuation) splice(stack *frameStack) []*effectScope {
	if len(c.frames) == 0 {
		stack.top().pc = c.resumePC
		restored := c.scopes
		for _, s := range restored {
			s.frame += len(stack.frames) - 1
		}
		c.scopes = nil
		return restored
	}
	newFirst := len(stack.frames)
	newBase := len(stack.regs)
	stack.regs = append(stack.regs, c.regs...)
	for _, f := range c.frames {
		stack.frames = append(stack.frames, callFrame{
			cell:    f.cell,
			base:    newBase + f.baseOff,
			size:    f.size,
			pc:      f.pc,
			retDst:  f.retDst,
			closure: f.closure,
		})
	}
	restored := c.scopes
	for _, s := range restored {
		s.frame += newFirst
	}
	c.regs = nil
	c.frames = nil
	c.scopes = nil
	return restored
}

// consume marks the continuation used, decrementing the origin scope's
// outstanding count. Returns false if it was already consumed.
func (c *Continuation) consume() bool {
	if c.used {
		return false
	}
	c.used = true
	if c.origin != nil {
		c.origin.pending--
	}
	return true
}
