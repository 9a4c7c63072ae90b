package wire

import (
	"context"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"github.com/lumen-lang/lumen/vm"
)

func sampleModule() *vm.Module {
	a := vm.NewAssembler()
	a.Cell("main", 3, 0)
	a.Emit(vm.ABC(vm.OpLoadInt, 0, 40, 0))
	a.Emit(vm.ABC(vm.OpLoadInt, 1, 2, 0))
	a.Emit(vm.ABC(vm.OpAdd, 2, 0, 1))
	a.Emit(vm.ABC(vm.OpReturn, 2, 1, 0))
	return a.Module()
}

func TestRoundTrip(t *testing.T) {
	data, err := MarshalModule(sampleModule())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	m, err := UnmarshalModule(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	engine, err := vm.Load(m, vm.Options{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	v, err := engine.CallByName(context.Background(), "main")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if v.Int() != 42 {
		t.Errorf("decoded module computed %d", v.Int())
	}
}

func TestDeterministicEncoding(t *testing.T) {
	a, err := MarshalModule(sampleModule())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	b, err := MarshalModule(sampleModule())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(a) != string(b) {
		t.Error("canonical encoding should be byte-stable")
	}
}

func TestRejectsUnknownFormat(t *testing.T) {
	data, _ := MarshalModule(sampleModule())
	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	env.Format = "lir/99"
	bad, err := cborEncMode.Marshal(&env)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if _, err := UnmarshalModule(bad); err == nil {
		t.Fatal("unknown format accepted")
	}
}

func TestRejectsChecksumMismatch(t *testing.T) {
	data, _ := MarshalModule(sampleModule())
	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	env.DocSum = "sha256:0000000000000000000000000000000000000000000000000000000000000000"
	bad, err := cborEncMode.Marshal(&env)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if _, err := UnmarshalModule(bad); err == nil {
		t.Fatal("tampered checksum accepted")
	}
}

func TestRejectsGarbage(t *testing.T) {
	if _, err := UnmarshalModule([]byte("not cbor at all")); err == nil {
		t.Fatal("garbage input accepted")
	}
}

func TestRejectsInvalidModule(t *testing.T) {
	a := vm.NewAssembler()
	a.Cell("broken", 0, 0) // zero-width register window fails validation
	a.Emit(vm.ABC(vm.OpReturn, 0, 0, 0))
	data, err := MarshalModule(a.Module())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := UnmarshalModule(data); err == nil {
		t.Fatal("invalid module accepted")
	}
}
