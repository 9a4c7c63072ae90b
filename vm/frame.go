package vm

// ---------------------------------------------------------------------------
// Call frame stack
// ---------------------------------------------------------------------------

// DefaultMaxDepth is the default call-frame depth ceiling. There is no
// tail-call elision: iterative recursion consumes one frame per call, and
// the depth bound is a hard resource ceiling.
const DefaultMaxDepth = 256

// callFrame is one activation record. Register slots live in the stack's
// shared arena; the frame owns the index range [base, base+size).
type callFrame struct {
	cell    int      // cell being executed
	base    int      // first register slot in the arena
	size    int      // register window width
	pc      int      // next instruction offset (absolute)
	retDst  uint8    // caller register receiving the return value
	closure *Closure // captured environment, nil for plain calls
}

// frameStack holds all register windows in a single growable arena, with
// frames as index ranges into it. Pushing a frame appends to the arena;
// popping releases the window's values and truncates.
type frameStack struct {
	regs   []Value
	frames []callFrame
	limit  int
}

func newFrameStack(limit int) *frameStack {
	if limit <= 0 {
		limit = DefaultMaxDepth
	}
	return &frameStack{
		regs:   make([]Value, 0, 256),
		frames: make([]callFrame, 0, 16),
		limit:  limit,
	}
}

func (s *frameStack) depth() int {
	return len(s.frames)
}

// top returns the active frame. Panics on an empty stack; an empty stack
// mid-run is engine corruption, not a user condition.
func (s *frameStack) top() *callFrame {
	return &s.frames[len(s.frames)-1]
}

// window returns the register slice owned by f.
func (s *frameStack) window(f *callFrame) []Value {
	return s.regs[f.base : f.base+f.size]
}

// push opens a frame of the given window size. Fails closed with a
// stack-overflow error instead of growing past the depth limit.
func (s *frameStack) push(cell, size int, retDst uint8, closure *Closure) (*callFrame, *RuntimeError) {
	if len(s.frames) >= s.limit {
		return nil, newError(ErrStackOverflow, "call depth exceeds limit of %d frames", s.limit)
	}
	base := len(s.regs)
	for i := 0; i < size; i++ {
		s.regs = append(s.regs, Null)
	}
	s.frames = append(s.frames, callFrame{
		cell:    cell,
		base:    base,
		size:    size,
		retDst:  retDst,
		closure: closure,
	})
	return s.top(), nil
}

// pop closes the active frame, releasing every value in its window.
func (s *frameStack) pop() {
	f := s.top()
	for i := f.base; i < f.base+f.size; i++ {
		s.regs[i].Release()
		s.regs[i] = Null
	}
	s.regs = s.regs[:f.base]
	s.frames = s.frames[:len(s.frames)-1]
}

// truncate drops every frame above index keep (exclusive) without releasing
// their windows: ownership of the dropped slots has moved elsewhere. Used
// by continuation capture.
func (s *frameStack) truncate(keep int) {
	f := &s.frames[keep]
	s.regs = s.regs[:f.base+f.size]
	s.frames = s.frames[:keep+1]
}
