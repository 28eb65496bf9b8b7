package model

type (
	// KeyMaterial is the per-session Diffie-Hellman keypair derived from a wallet signature.
	KeyMaterial struct {
		X25519Private [32]byte `json:"x25519_private"`
		X25519Public  [32]byte `json:"x25519_public"`
	}
)
