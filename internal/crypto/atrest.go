package crypto

// SealAtRest encrypts a stored record with the server's master key.
// Layout: nonce (12) || ciphertext+tag.
func SealAtRest(masterKey [KeySize]byte, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(masterKey[:])
	if err != nil {
		return nil, err
	}
	return seal(aead, make([]byte, 0, nonceSize+len(plaintext)+tagSize), plaintext)
}

// OpenAtRest reverses SealAtRest.
func OpenAtRest(masterKey [KeySize]byte, data []byte) ([]byte, error) {
	aead, err := newAEAD(masterKey[:])
	if err != nil {
		return nil, err
	}
	return open(aead, data)
}
