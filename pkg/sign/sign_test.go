package sign

import "testing"

func TestSignAndVerifyRoundTrip(t *testing.T) {
	bytecode := []byte{1, 2, 3, 4, 5}

	token, err := Sign("demo.oak", bytecode)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if token == "" {
		t.Fatal("expected a non-empty token")
	}

	claims, err := Verify(token, bytecode)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.ScriptName != "demo.oak" {
		t.Errorf("ScriptName = %q, want demo.oak", claims.ScriptName)
	}
	if claims.ContentHash != ContentHash(bytecode) {
		t.Error("ContentHash in claims does not match recomputed hash")
	}
}

func TestVerifyRejectsTamperedBytecode(t *testing.T) {
	bytecode := []byte{1, 2, 3}
	token, err := Sign("demo.oak", bytecode)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	tampered := []byte{1, 2, 4}
	if _, err := Verify(token, tampered); err == nil {
		t.Fatal("expected Verify to reject tampered bytecode, got nil error")
	}
}

func TestContentHashIsDeterministic(t *testing.T) {
	data := []byte("hello world")
	if ContentHash(data) != ContentHash(data) {
		t.Error("ContentHash is not deterministic for identical input")
	}
	if ContentHash(data) == ContentHash([]byte("hello world!")) {
		t.Error("ContentHash collided for distinct inputs")
	}
}
