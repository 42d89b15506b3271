package chain

import "crypto/ed25519"

// verify checks a signed transaction against its embedded public key.
func verify(st SignedTransaction) bool {
	if len(st.Signer) != ed25519.PublicKeySize {
		return false
	}
	body, err := encMode.Marshal(st.Transaction)
	if err != nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(st.Signer), body, st.Signature)
}
