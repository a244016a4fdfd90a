package heap

import (
	"testing"

	"github.com/holiman/uint256"

	"github.com/rizqme/raya/value"
)

func TestHeapAllocGetFree(t *testing.T) {
	h := New()
	s := newString("hello")
	addr := h.Alloc(s)
	if addr == 0 {
		t.Fatal("address 0 must never be allocated")
	}
	got, ok := h.Get(addr)
	if !ok || got != Object(s) {
		t.Fatalf("Get(%d) = %v, %v", addr, got, ok)
	}
	h.Free(addr)
	if _, ok := h.Get(addr); ok {
		t.Fatal("expected address to be freed")
	}
}

func TestArrayPushPopGrow(t *testing.T) {
	a := NewArray(0)
	for i := 0; i < 10; i++ {
		a.Push(value.FromI32(int32(i)))
	}
	if a.Len() != 10 {
		t.Fatalf("Len() = %d, want 10", a.Len())
	}
	for i := 9; i >= 0; i-- {
		v, ok := a.Pop()
		if !ok || value.I32(v) != int32(i) {
			t.Fatalf("Pop() = %v, %v; want %d", v, ok, i)
		}
	}
	if _, ok := a.Pop(); ok {
		t.Fatal("expected Pop on empty array to fail")
	}
}

func TestArrayGetSetBounds(t *testing.T) {
	a := NewArray(4)
	a.SetLength(4)
	if !a.Set(2, value.FromI32(42)) {
		t.Fatal("Set(2) should succeed")
	}
	v, ok := a.Get(2)
	if !ok || value.I32(v) != 42 {
		t.Fatalf("Get(2) = %v, %v", v, ok)
	}
	if a.Set(10, value.FromI32(1)) {
		t.Fatal("Set(10) should fail: out of bounds")
	}
	if _, ok := a.Get(-1); ok {
		t.Fatal("Get(-1) should fail")
	}
}

func TestStringInterningSharesIdentity(t *testing.T) {
	h := New()
	addr1, s1 := h.Strings().Intern(h, "identifier")
	addr2, s2 := h.Strings().Intern(h, "identifier")
	if addr1 != addr2 || s1 != s2 {
		t.Fatalf("Intern should return the same object: %d/%p vs %d/%p", addr1, s1, addr2, s2)
	}
	addr3, _ := h.Strings().Intern(h, "different")
	if addr3 == addr1 {
		t.Fatal("distinct strings must not share an address")
	}
}

func TestClassVtableOverride(t *testing.T) {
	t1 := NewClassTable()
	baseFn := uint32(1)
	overrideFn := uint32(2)
	base := NewClass(0, "Base", nil, 2, nil, 0, map[int]uint32{0: baseFn})
	baseID := t1.Define(base)

	baseFromTable, _ := t1.Get(baseID)
	child := NewClass(0, "Child", baseFromTable, 3, nil, 0, map[int]uint32{1: overrideFn})
	childID := t1.Define(child)
	childFromTable, _ := t1.Get(childID)

	if m, ok := childFromTable.Method(0); !ok || m != baseFn {
		t.Fatalf("inherited slot 0 = %d, %v; want %d", m, ok, baseFn)
	}
	if m, ok := childFromTable.Method(1); !ok || m != overrideFn {
		t.Fatalf("added slot 1 = %d, %v; want %d", m, ok, overrideFn)
	}
	if _, ok := childFromTable.Method(5); ok {
		t.Fatal("out-of-range slot should report false")
	}
}

func TestClassStatics(t *testing.T) {
	c := NewClass(0, "Counter", nil, 0, nil, 1, nil)
	if !c.StoreStatic(0, value.FromI32(7)) {
		t.Fatal("StoreStatic(0) should succeed")
	}
	v, ok := c.LoadStatic(0)
	if !ok || value.I32(v) != 7 {
		t.Fatalf("LoadStatic(0) = %v, %v", v, ok)
	}
}

func TestClosureCaptures(t *testing.T) {
	c := NewClosure(3, []value.Value{value.FromI32(1), value.Null})
	if !c.SetCapture(1, value.FromI32(99)) {
		t.Fatal("SetCapture(1) should succeed")
	}
	v, ok := c.Capture(1)
	if !ok || value.I32(v) != 99 {
		t.Fatalf("Capture(1) = %v, %v", v, ok)
	}
	var seen []value.Value
	c.Trace(func(v value.Value) { seen = append(seen, v) })
	if len(seen) != 2 {
		t.Fatalf("Trace visited %d values, want 2", len(seen))
	}
}

func TestRefCellLoadStore(t *testing.T) {
	r := NewRefCell(value.FromI32(1))
	r.Store(value.FromI32(2))
	if got := r.Load(); value.I32(got) != 2 {
		t.Fatalf("Load() = %v, want 2", got)
	}
}

func TestChannelRingBuffer(t *testing.T) {
	c := NewChannel(2)
	if !c.TrySend(value.FromI32(1)) {
		t.Fatal("first send should succeed")
	}
	if !c.TrySend(value.FromI32(2)) {
		t.Fatal("second send should succeed")
	}
	if c.TrySend(value.FromI32(3)) {
		t.Fatal("third send should fail: channel full")
	}
	v, ok := c.TryRecv()
	if !ok || value.I32(v) != 1 {
		t.Fatalf("first recv = %v, %v; want 1", v, ok)
	}
	if !c.TrySend(value.FromI32(3)) {
		t.Fatal("send after one recv should succeed (ring wraparound)")
	}
	v, ok = c.TryRecv()
	if !ok || value.I32(v) != 2 {
		t.Fatalf("second recv = %v, %v; want 2", v, ok)
	}
	v, ok = c.TryRecv()
	if !ok || value.I32(v) != 3 {
		t.Fatalf("third recv = %v, %v; want 3", v, ok)
	}
	if _, ok := c.TryRecv(); ok {
		t.Fatal("recv on empty channel should fail")
	}
}

func TestZeroCapacityChannelNeverBuffers(t *testing.T) {
	c := NewChannel(0)
	if !c.Full() || c.TrySend(value.FromI32(1)) {
		t.Fatal("zero-capacity channel must never accept a buffered send")
	}
}

func TestTaskHandleCompletion(t *testing.T) {
	th := NewTaskHandle(42)
	if th.Done() {
		t.Fatal("fresh TaskHandle must not be done")
	}
	th.Complete(value.FromI32(7), value.Null)
	if !th.Done() {
		t.Fatal("expected Done after Complete")
	}
	result, errVal := th.Result()
	if value.I32(result) != 7 || !errVal.IsNull() {
		t.Fatalf("Result() = %v, %v", result, errVal)
	}
}

func TestRegExpMatch(t *testing.T) {
	re, err := CompileRegExp(`^[a-z]+\d+$`, "")
	if err != nil {
		t.Fatalf("CompileRegExp: %v", err)
	}
	if !re.MatchString("abc123") {
		t.Fatal("expected match")
	}
	if re.MatchString("ABC123") {
		t.Fatal("expected no match without the i flag")
	}

	ci, err := CompileRegExp(`^[a-z]+\d+$`, "i")
	if err != nil {
		t.Fatalf("CompileRegExp with i flag: %v", err)
	}
	if !ci.MatchString("ABC123") {
		t.Fatal("expected case-insensitive match")
	}
}

func TestBigIntRoundTrip(t *testing.T) {
	b := FromUint64(1 << 50)
	want := uint256.NewInt(1 << 50)
	if b.Uint256().Cmp(want) != 0 {
		t.Fatalf("Uint256() = %v, want %v", b.Uint256(), want)
	}
}

func TestFunctionCodeStatusLifecycle(t *testing.T) {
	f := NewFunction("f", 0, 0, []byte{0})
	if f.Status() != StatusInterpreted {
		t.Fatalf("initial status = %s, want interpreted", f.Status())
	}
	var hot bool
	for i := 0; i < 10; i++ {
		_, hot = f.RecordCall(10)
	}
	if f.Status() != StatusProfiling {
		t.Fatalf("status after calls = %s, want profiling", f.Status())
	}
	if !hot {
		t.Fatal("expected hot=true once threshold reached")
	}
	if !f.BeginJitCompile() {
		t.Fatal("BeginJitCompile should succeed from Profiling")
	}
	if f.Status() != StatusJitCompiling {
		t.Fatalf("status = %s, want jit_compiling", f.Status())
	}
	f.InstallNative(0xdead, map[int]int{10: 3})
	if f.Status() != StatusJitCompiled {
		t.Fatalf("status = %s, want jit_compiled", f.Status())
	}
	entry, ok := f.NativeEntry()
	if !ok || entry != 0xdead {
		t.Fatalf("NativeEntry() = %v, %v", entry, ok)
	}
	bcPC, ok := f.DeoptBytecodePC(10)
	if !ok || bcPC != 3 {
		t.Fatalf("DeoptBytecodePC(10) = %v, %v", bcPC, ok)
	}
	f.Deoptimize()
	if f.Status() != StatusInterpreted {
		t.Fatalf("status after deopt = %s, want interpreted", f.Status())
	}
	if _, ok := f.NativeEntry(); ok {
		t.Fatal("NativeEntry should be absent after deopt")
	}
}

func TestFunctionHandlerFor(t *testing.T) {
	f := NewFunction("g", 0, 0, nil)
	f.Handlers = []ExceptionHandler{
		{StartPC: 0, EndPC: 20, CatchOffset: 25, FinallyOffset: -1},
		{StartPC: 5, EndPC: 10, CatchOffset: 12, FinallyOffset: -1},
	}
	h, ok := f.HandlerFor(7)
	if !ok || h.CatchOffset != 12 {
		t.Fatalf("HandlerFor(7) should resolve to the innermost handler, got %+v, %v", h, ok)
	}
	if _, ok := f.HandlerFor(50); ok {
		t.Fatal("HandlerFor(50) should find no handler")
	}
}

func TestBuiltinClasses(t *testing.T) {
	h := New()
	ids := RegisterBuiltinClasses(h.Classes())

	bufAddr := NewBuffer(h, ids.Buffer, []byte{1, 2, 3})
	obj, ok := h.Get(bufAddr)
	if !ok {
		t.Fatal("buffer instance missing from heap")
	}
	inst := obj.(*Instance)
	backingAddr, _ := inst.Field(0)
	backing, ok := h.Get(value.Ptr(backingAddr))
	if !ok {
		t.Fatal("buffer backing array missing from heap")
	}
	arr := backing.(*Array)
	if arr.Len() != 3 {
		t.Fatalf("buffer backing array length = %d, want 3", arr.Len())
	}

	dateAddr := NewDateInstance(h, ids.Date, 12345.0)
	dateObj, _ := h.Get(dateAddr)
	epoch, _ := dateObj.(*Instance).Field(0)
	if epoch.Float() != 12345.0 {
		t.Fatalf("date epoch = %v, want 12345", epoch.Float())
	}
}
