package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// AESCTR XORs data with the AES-CTR keystream for key and iv. Encryption and decryption are the same
// operation. There is no authentication and no padding.
func AESCTR(key, iv, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	if len(iv) != block.BlockSize() {
		return nil, fmt.Errorf("bad iv size: need %d", block.BlockSize())
	}
	out := make([]byte, len(data))
	cipher.NewCTR(block, iv).XORKeyStream(out, data)
	return out, nil
}
