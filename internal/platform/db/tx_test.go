package db

import (
	"context"
	"errors"
	"testing"
)

func TestTxFromContext_Empty(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Errorf("expected nil tx, got %v", tx)
	}
}

func TestNoTx_PassesContextThrough(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")

	called := false
	err := NoTx{}.InTx(ctx, func(inner context.Context) error {
		called = true
		if inner.Value(key{}) != "v" {
			t.Error("expected the caller's context")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("expected fn to be called")
	}
}

func TestNoTx_ReturnsError(t *testing.T) {
	want := errors.New("boom")
	err := NoTx{}.InTx(context.Background(), func(context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Errorf("expected %v, got %v", want, err)
	}
}
