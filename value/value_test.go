package value

import (
	"math"
	"testing"
)

func TestNullSingleton(t *testing.T) {
	if !Null.IsBoxed() {
		t.Fatal("Null must be boxed")
	}
	if Null.Tag() != TagNull {
		t.Fatalf("Null.Tag() = %v, want TagNull", Null.Tag())
	}
	if !Null.IsNull() {
		t.Fatal("Null.IsNull() = false")
	}
	if Null.TypeOf() != "null" {
		t.Fatalf("Null.TypeOf() = %q, want %q", Null.TypeOf(), "null")
	}
}

func TestBoolRoundTrip(t *testing.T) {
	if !True.Bool() || False.Bool() {
		t.Fatal("True/False boxed incorrectly")
	}
	if True.Tag() != TagBool || False.Tag() != TagBool {
		t.Fatal("bool Values must carry TagBool")
	}
	if FromBool(true) != True || FromBool(false) != False {
		t.Fatal("FromBool must return the canonical singletons")
	}
	if True.TypeOf() != "boolean" {
		t.Fatalf("True.TypeOf() = %q, want boolean", True.TypeOf())
	}
}

func TestI32RoundTrip(t *testing.T) {
	cases := []int32{0, 1, -1, math.MaxInt32, math.MinInt32, 42, -42}
	for _, c := range cases {
		v := FromI32(c)
		if !v.IsBoxed() || v.Tag() != TagI32 {
			t.Fatalf("FromI32(%d) not tagged I32", c)
		}
		if got := I32(v); got != c {
			t.Fatalf("I32(FromI32(%d)) = %d", c, got)
		}
	}
}

func TestU32RoundTrip(t *testing.T) {
	cases := []uint32{0, 1, math.MaxUint32, 1 << 31}
	for _, c := range cases {
		v := FromU32(c)
		if v.Tag() != TagU32 {
			t.Fatalf("FromU32(%d) not tagged U32", c)
		}
		if got := U32(v); got != c {
			t.Fatalf("U32(FromU32(%d)) = %d", c, got)
		}
	}
}

func TestU64TruncatedRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, (1 << 48) - 1}
	for _, c := range cases {
		v := FromU64Truncated(c)
		if v.Tag() != TagU64 {
			t.Fatalf("FromU64Truncated(%d) not tagged U64", c)
		}
		if got := U64(v); got != c {
			t.Fatalf("U64(FromU64Truncated(%d)) = %d", c, got)
		}
	}
}

func TestPtrRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, (1 << 48) - 1, 0xDEADBEEF}
	for _, c := range cases {
		v := FromPtr(c)
		if v.Tag() != TagPtr {
			t.Fatalf("FromPtr(%#x) not tagged Ptr", c)
		}
		if got := Ptr(v); got != c {
			t.Fatalf("Ptr(FromPtr(%#x)) = %#x", c, got)
		}
		if v.TypeOf() != "object" {
			t.Fatalf("Ptr Value TypeOf() = %q, want object", v.TypeOf())
		}
	}
}

func TestFloatRoundTrip(t *testing.T) {
	cases := []float64{0, 1, -1, 3.14159, math.Inf(1), math.Inf(-1), -0.0, math.MaxFloat64, math.SmallestNonzeroFloat64}
	for _, c := range cases {
		v := FromFloat(c)
		if v.IsBoxed() {
			t.Fatalf("FromFloat(%v) was boxed, want unboxed double", c)
		}
		if got := v.Float(); got != c && !(math.IsNaN(got) && math.IsNaN(c)) {
			t.Fatalf("Float(FromFloat(%v)) = %v", c, got)
		}
		if v.TypeOf() != "number" {
			t.Fatalf("float Value TypeOf() = %q, want number", v.TypeOf())
		}
	}
}

func TestFloatNaNRoundTrips(t *testing.T) {
	nan := FromFloat(math.NaN())
	if nan.IsBoxed() {
		t.Fatal("canonical Go NaN must not be classified as boxed")
	}
	if !math.IsNaN(nan.Float()) {
		t.Fatal("NaN did not round-trip as NaN")
	}
}

func TestStrictEquals(t *testing.T) {
	if !FromI32(5).StrictEquals(FromI32(5)) {
		t.Fatal("FromI32(5) === FromI32(5) should hold")
	}
	if FromI32(5).StrictEquals(FromI32(6)) {
		t.Fatal("FromI32(5) === FromI32(6) should not hold")
	}
	if FromI32(5).StrictEquals(FromU32(5)) {
		t.Fatal("values of different tags must never be ===, even with equal payload")
	}
	nan := FromFloat(math.NaN())
	if nan.StrictEquals(nan) {
		t.Fatal("NaN === NaN must be false")
	}
	if !FromFloat(1.5).StrictEquals(FromFloat(1.5)) {
		t.Fatal("FromFloat(1.5) === FromFloat(1.5) should hold")
	}
}

func TestTagsAreDisjointFromOrdinaryDoubles(t *testing.T) {
	// A broad sample of ordinary doubles (including subnormals and large
	// magnitudes) must never be misidentified as boxed.
	samples := []float64{0, 1, -1, 1e300, 1e-300, math.Pi, -math.Pi, 123456789.123456}
	for _, s := range samples {
		if FromFloat(s).IsBoxed() {
			t.Fatalf("ordinary double %v misclassified as boxed", s)
		}
	}
}

func TestBoxedTagsDoNotLeakIntoFloatSpace(t *testing.T) {
	for _, tag := range []Tag{TagNull, TagBool, TagI32, TagU32, TagU64, TagPtr} {
		v := box(tag, 0)
		if !v.IsBoxed() {
			t.Fatalf("box(%v, 0) must be IsBoxed", tag)
		}
		if v.Tag() != tag {
			t.Fatalf("box(%v, 0).Tag() = %v", tag, v.Tag())
		}
	}
}
