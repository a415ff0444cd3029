package store

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

var ErrCorrupt = errors.New("store: sealed value cannot be opened")

// fixed salt: the key only needs to be stable per passphrase on one machine
var sealSalt = []byte("lms-realtime/store/sealed/v1")

// Sealed encrypts every value before handing it to the wrapped KV. Keys are
// stored in the clear.
type Sealed struct {
	inner KV
	key   [32]byte
}

func NewSealed(inner KV, passphrase string) (*Sealed, error) {
	raw, err := scrypt.Key([]byte(passphrase), sealSalt, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, err
	}
	s := &Sealed{inner: inner}
	copy(s.key[:], raw)
	return s, nil
}

func (s *Sealed) Get(key string) (string, error) {
	enc, err := s.inner.Get(key)
	if err != nil {
		return "", err
	}
	box, err := base64.StdEncoding.DecodeString(enc)
	if err != nil || len(box) < 24 {
		return "", ErrCorrupt
	}
	var nonce [24]byte
	copy(nonce[:], box[:24])
	plain, ok := secretbox.Open(nil, box[24:], &nonce, &s.key)
	if !ok {
		return "", ErrCorrupt
	}
	if Absent(string(plain)) {
		return "", ErrNotFound
	}
	return string(plain), nil
}

func (s *Sealed) Set(key, value string) error {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return err
	}
	box := secretbox.Seal(nonce[:], []byte(value), &nonce, &s.key)
	return s.inner.Set(key, base64.StdEncoding.EncodeToString(box))
}

func (s *Sealed) Remove(key string) error {
	return s.inner.Remove(key)
}
