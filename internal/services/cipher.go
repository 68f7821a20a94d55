package services

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

func newConversationKey() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate conversation key: %w", err)
	}
	return key, nil
}

// sealMessage encrypts plaintext with the conversation key. The output is the
// random nonce followed by the ciphertext; the conversation id is bound as
// additional data so a blob cannot be replayed into another conversation.
func sealMessage(key []byte, conversationID int64, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, conversationAD(conversationID)), nil
}

// OpenMessage reverses sealMessage for holders of the conversation key.
func OpenMessage(key []byte, conversationID int64, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	if len(sealed) < chacha20poly1305.NonceSizeX+aead.Overhead() {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]
	return aead.Open(nil, nonce, ciphertext, conversationAD(conversationID))
}

func conversationAD(conversationID int64) []byte {
	ad := make([]byte, 8)
	binary.BigEndian.PutUint64(ad, uint64(conversationID))
	return ad
}
