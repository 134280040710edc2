package crypto

import (
	"strings"
	"testing"
)

func TestSignAndVerify(t *testing.T) {
	pk, sk, err := GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	msg := []byte("stake message")
	sig := sk.Sign(msg)
	if !Verify(pk, msg, sig) {
		t.Fatalf("valid signature rejected")
	}
	if Verify(pk, []byte("other message"), sig) {
		t.Fatalf("signature verified against a different message")
	}

	otherPK, _, err := GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if Verify(otherPK, msg, sig) {
		t.Fatalf("signature verified under a different key")
	}
}

func TestPublicKeyFromBytes(t *testing.T) {
	pk, _, err := GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	parsed, err := PublicKeyFromBytes(pk.Bytes())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != pk {
		t.Fatalf("round trip mismatch")
	}
	if _, err := PublicKeyFromBytes([]byte{1, 2, 3}); err == nil {
		t.Fatalf("short input must be rejected")
	}
}

func TestSecretKeyPublicMatches(t *testing.T) {
	pk, sk, err := GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if sk.Public() != pk {
		t.Fatalf("secret key disagrees on its public half")
	}
}

func TestStringUsesBech32Prefix(t *testing.T) {
	pk, _, err := GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	rendered := pk.String()
	if !strings.HasPrefix(rendered, KeyPrefix+"1") {
		t.Fatalf("unexpected rendering %q", rendered)
	}
}

func TestCompareOrdersByBytes(t *testing.T) {
	a := PublicKey{0x01}
	b := PublicKey{0x02}
	if a.Compare(b) >= 0 || b.Compare(a) <= 0 || a.Compare(a) != 0 {
		t.Fatalf("compare is not the canonical byte order")
	}
}
