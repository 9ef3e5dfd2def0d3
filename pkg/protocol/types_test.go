package protocol

import "testing"

func TestMessageTypeValues(t *testing.T) {
	types := []MessageType{Evaluate, Respond, Shutdown}

	for i, typ := range types {
		if typ != MessageType(i) {
			t.Errorf("Type mismatch: got %d, want %d", typ, i)
		}
		if !typ.Valid() {
			t.Errorf("%s should be valid", typ)
		}
	}

	if MessageType(3).Valid() {
		t.Error("MessageType(3) should not be valid")
	}
	if MessageType(7).String() != "unknown" {
		t.Errorf("String mismatch: got %s, want unknown", MessageType(7))
	}
}

func TestReservedHeapIDs(t *testing.T) {
	for _, id := range []uint64{0, 127, HeapUndefined, HeapNull, HeapTrue, HeapFalse, HeapGlobal, HeapReserved - 1} {
		if !IsReservedHeapID(id) {
			t.Errorf("id %d should be reserved", id)
		}
	}

	if IsReservedHeapID(HeapReserved) {
		t.Errorf("id %d should be allocatable", HeapReserved)
	}

	if !IsBorrowedHeapID(BorrowStackSize - 1) {
		t.Errorf("id %d should be borrowed", BorrowStackSize-1)
	}
	if IsBorrowedHeapID(HeapUndefined) {
		t.Error("undefined should not be a borrowed id")
	}
}

func TestReservedFunctionIDs(t *testing.T) {
	for _, id := range []uint32{FnDropHeapRef, FnCloneHeapRef, FnCallCallback, FnDropCallback} {
		if !IsReservedFunctionID(id) {
			t.Errorf("function id %d should be reserved", id)
		}
	}

	if IsReservedFunctionID(FnReservedBase - 1) {
		t.Errorf("function id %d should be available to bindings", FnReservedBase-1)
	}
}
