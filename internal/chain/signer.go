package chain

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for turning account credentials into a signing seed.
const (
	kdfTime    = 1
	kdfMemory  = 64 * 1024
	kdfThreads = 4
	kdfSalt    = "gear-connector/account:"
)

var ErrEmptyCredentials = errors.New("chain: account id and password are required")

// Signer holds the account key derived from the user's credentials.
type Signer struct {
	priv  ed25519.PrivateKey
	nonce atomic.Uint64
}

func NewSigner(accountID, password string) (*Signer, error) {
	if accountID == "" || password == "" {
		return nil, ErrEmptyCredentials
	}
	seed := argon2.IDKey([]byte(password), []byte(kdfSalt+accountID), kdfTime, kdfMemory, kdfThreads, ed25519.SeedSize)
	s := &Signer{priv: ed25519.NewKeyFromSeed(seed)}
	s.nonce.Store(uint64(time.Now().UnixNano()))
	return s, nil
}

func (s *Signer) PublicKey() ed25519.PublicKey { return s.priv.Public().(ed25519.PublicKey) }

// ActorID is the on-chain identity of the signing key.
func (s *Signer) ActorID() ActorID {
	var id ActorID
	copy(id[:], s.PublicKey())
	return id
}

// Address is the hex form of the public key used by balance queries.
func (s *Signer) Address() string { return "0x" + hex.EncodeToString(s.PublicKey()) }

// Sign fills in the nonce and signs the deterministic CBOR form of tx.
func (s *Signer) Sign(tx Transaction) (SignedTransaction, error) {
	tx.Nonce = s.nonce.Add(1)
	body, err := encMode.Marshal(tx)
	if err != nil {
		return SignedTransaction{}, err
	}
	return SignedTransaction{
		Transaction: tx,
		Signer:      s.PublicKey(),
		Signature:   ed25519.Sign(s.priv, body),
	}, nil
}
