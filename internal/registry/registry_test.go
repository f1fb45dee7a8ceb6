package registry

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(NewMemoryStore(), []byte("test-master-key"), zap.NewNop())
}

func TestRegisterThenGet(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	r, err := reg.Register(ctx, "R1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if r.TrustScore != 100 || r.Status != StatusActive || r.KeyVersion != 1 {
		t.Fatalf("unexpected fresh reader state: %+v", r)
	}

	got, err := reg.Get(ctx, "R1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Secret) != string(r.Secret) {
		t.Fatalf("expected cached secret to match registered secret")
	}
}

func TestRegisterDuplicateFails(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	if _, err := reg.Register(ctx, "R1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := reg.Register(ctx, "R1"); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestRotateSecretInvalidatesOldSecret(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	r, err := reg.Register(ctx, "R1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	oldSecret := append([]byte(nil), r.Secret...)

	newVersion, err := reg.RotateSecret(ctx, "R1")
	if err != nil {
		t.Fatalf("RotateSecret: %v", err)
	}
	if newVersion != 2 {
		t.Fatalf("expected key_version 2, got %d", newVersion)
	}

	got, err := reg.Get(ctx, "R1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Secret) == string(oldSecret) {
		t.Fatalf("expected rotation to produce a different secret")
	}
	if got.KeyVersion != 2 {
		t.Fatalf("expected key_version 2 on stored reader, got %d", got.KeyVersion)
	}
}

func TestRotateSecretIsDeterministic(t *testing.T) {
	ctx := context.Background()
	regA := newTestRegistry(t)
	regB := newTestRegistry(t)

	if _, err := regA.Register(ctx, "R1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := regB.Register(ctx, "R1"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Same master key + reader_id + key_version 1 must derive the same secret.
	a, _ := regA.Get(ctx, "R1")
	b, _ := regB.Get(ctx, "R1")
	if string(a.Secret) != string(b.Secret) {
		t.Fatalf("expected deterministic derivation for identical master keys")
	}
}

func TestPerReaderLockSerializes(t *testing.T) {
	reg := newTestRegistry(t)
	unlock := reg.Lock("R1")
	acquired := make(chan struct{})
	go func() {
		u := reg.Lock("R1")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatalf("expected second Lock to block while first is held")
	default:
	}
	unlock()
	<-acquired
}
