package services

import (
	"bytes"
	"testing"
)

func TestSealAndOpenMessage(t *testing.T) {
	key, err := newConversationKey()
	if err != nil {
		t.Fatalf("newConversationKey: %v", err)
	}

	sealed, err := sealMessage(key, 7, []byte("blood pressure 120/80"))
	if err != nil {
		t.Fatalf("sealMessage: %v", err)
	}
	if bytes.Contains(sealed, []byte("blood pressure")) {
		t.Fatalf("ciphertext leaks plaintext")
	}

	plaintext, err := OpenMessage(key, 7, sealed)
	if err != nil {
		t.Fatalf("OpenMessage: %v", err)
	}
	if string(plaintext) != "blood pressure 120/80" {
		t.Fatalf("unexpected plaintext %q", plaintext)
	}
}

func TestOpenMessageRejectsOtherConversation(t *testing.T) {
	key, err := newConversationKey()
	if err != nil {
		t.Fatalf("newConversationKey: %v", err)
	}
	sealed, err := sealMessage(key, 7, []byte("hello"))
	if err != nil {
		t.Fatalf("sealMessage: %v", err)
	}

	if _, err := OpenMessage(key, 8, sealed); err == nil {
		t.Fatal("expected authentication failure for another conversation")
	}
	if _, err := OpenMessage(key, 7, sealed[:10]); err == nil {
		t.Fatal("expected error for truncated ciphertext")
	}
}

func TestSealMessageUsesFreshNonces(t *testing.T) {
	key, _ := newConversationKey()
	first, _ := sealMessage(key, 1, []byte("same"))
	second, _ := sealMessage(key, 1, []byte("same"))
	if bytes.Equal(first, second) {
		t.Fatal("expected different ciphertexts for repeated plaintext")
	}
}
