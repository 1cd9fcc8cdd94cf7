package settlement

import (
	"context"
	"fmt"

	"tabsplit/crypto"
)

// LocalSigner signs settlement requests with an in-process secp256k1 key. It
// stands in for wallet or KMS signers behind the same Signer interface.
type LocalSigner struct {
	key *crypto.PrivateKey
}

// NewLocalSigner wraps the given key.
func NewLocalSigner(key *crypto.PrivateKey) *LocalSigner {
	return &LocalSigner{key: key}
}

// Address returns the signer's settlement address.
func (s *LocalSigner) Address() (crypto.Address, error) {
	if s == nil || s.key == nil {
		return crypto.Address{}, fmt.Errorf("%w: no key loaded", ErrSignerUnavailable)
	}
	return s.key.PubKey().Address(), nil
}

// Sign implements the Signer interface over the request digest.
func (s *LocalSigner) Sign(ctx context.Context, req *Request) ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, fmt.Errorf("%w: no key loaded", ErrSignerUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", ErrSignatureRejected)
	}
	digest := req.Digest()
	sig, err := s.key.Sign(digest[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureRejected, err)
	}
	return sig, nil
}
