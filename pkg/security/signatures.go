package security

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gowebpki/jcs"
	"github.com/stellar/go/keypair"
)

// ErrInvalidSignature is returned when a signature does not match its signer.
var ErrInvalidSignature = errors.New("invalid signature")

// Signer produces detached signatures over canonical JSON.
type Signer interface {
	Address() string
	Sign(v any) (string, error)
}

// Identity is a validator key pair.
type Identity struct {
	kp *keypair.Full
}

// NewIdentity parses a Stellar secret seed (S...).
func NewIdentity(seed string) (*Identity, error) {
	kp, err := keypair.ParseFull(seed)
	if err != nil {
		return nil, fmt.Errorf("failed to parse validator key pair: %w", err)
	}
	return &Identity{kp: kp}, nil
}

// GenerateIdentity creates a fresh random key pair.
func GenerateIdentity() (*Identity, error) {
	kp, err := keypair.Random()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	return &Identity{kp: kp}, nil
}

// Address is the public identity (G...) matched against selected validators.
func (i *Identity) Address() string { return i.kp.Address() }

// Seed returns the secret seed.
func (i *Identity) Seed() string { return i.kp.Seed() }

// Sign signs the RFC 8785 canonical form of v.
func (i *Identity) Sign(v any) (string, error) {
	data, err := Canonical(v)
	if err != nil {
		return "", err
	}
	sig, err := i.kp.Sign(data)
	if err != nil {
		return "", fmt.Errorf("failed to sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks that signature was produced by address over v.
func Verify(address string, v any, signature string) error {
	kp, err := keypair.ParseAddress(address)
	if err != nil {
		return fmt.Errorf("%w: bad signer address: %v", ErrInvalidSignature, err)
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	data, err := Canonical(v)
	if err != nil {
		return err
	}
	if err := kp.Verify(data, sig); err != nil {
		return ErrInvalidSignature
	}
	return nil
}

// Canonical returns the RFC 8785 encoding of v.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal: %w", err)
	}
	return jcs.Transform(raw)
}
