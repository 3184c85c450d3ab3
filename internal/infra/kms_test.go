package infra

import (
	"context"
	"errors"
	"testing"
)

// reverseCipher はバイト列を反転するだけのテスト用Cipher。
type reverseCipher struct {
	err error
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[len(b)-1-i] = b[i]
	}
	return out
}

func (c *reverseCipher) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	return reverse(plaintext), c.err
}

func (c *reverseCipher) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	return reverse(ciphertext), c.err
}

func TestWrapUnwrapSecret(t *testing.T) {
	ctx := context.Background()
	c := &reverseCipher{}

	wrapped, err := WrapSecret(ctx, c, "  0xabc123  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wrapped == "0xabc123" {
		t.Fatal("want wrapped value to differ from secret")
	}

	got, err := UnwrapSecret(ctx, c, wrapped+"\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "0xabc123" {
		t.Errorf("want 0xabc123, got %q", got)
	}
}

func TestWrapSecret_Errors(t *testing.T) {
	ctx := context.Background()

	if _, err := WrapSecret(ctx, &reverseCipher{}, "  "); err == nil {
		t.Error("want error for empty secret")
	}

	kmsErr := errors.New("permission denied")
	if _, err := WrapSecret(ctx, &reverseCipher{err: kmsErr}, "secret"); !errors.Is(err, kmsErr) {
		t.Errorf("want kms error, got %v", err)
	}
}

func TestUnwrapSecret_InvalidBase64(t *testing.T) {
	if _, err := UnwrapSecret(context.Background(), &reverseCipher{}, "%%%"); err == nil {
		t.Error("want error for invalid base64")
	}
}
