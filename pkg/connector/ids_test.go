// Copyright 2024-2026 Aiku AI

package connector

import "testing"

func TestUserIDRoundTrip(t *testing.T) {
	id := MakeUserID(1234567890)
	got, err := ParseUserID(id)
	if err != nil {
		t.Fatal(err)
	}
	if got != 1234567890 {
		t.Fatalf("got %d, want 1234567890", got)
	}
}

func TestUserLoginIDRoundTrip(t *testing.T) {
	id := MakeUserLoginID(42)
	got, err := ParseUserLoginID(id)
	if err != nil {
		t.Fatal(err)
	}
	if got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
}

func TestMakeTransactionID(t *testing.T) {
	oti := int64(1700000000123 << 22)
	if got := MakeTransactionID(oti); string(got) != "7130316800515899392" {
		t.Fatalf("got %q", got)
	}
	if MakeTransactionID(1) == MakeTransactionID(2) {
		t.Fatal("distinct OTIs must produce distinct transaction ids")
	}
}

func TestMakePortalKeyNamespacesByReceiver(t *testing.T) {
	a := MakePortalKey("100044", MakeUserLoginID(1))
	b := MakePortalKey("100044", MakeUserLoginID(2))
	if a == b {
		t.Fatalf("expected different receivers to produce different portal keys, got %v == %v", a, b)
	}
	if a.ID != b.ID {
		t.Fatalf("expected same thread id across receivers, got %v != %v", a.ID, b.ID)
	}
}

func TestMakeMessagePartIDZeroIsEmpty(t *testing.T) {
	if MakeMessagePartID(0) != "" {
		t.Fatalf("expected empty part id for index 0")
	}
	if MakeMessagePartID(1) == "" {
		t.Fatalf("expected non-empty part id for index 1")
	}
}
