package identity

import "errors"

var (
	// ErrAuthDenied is returned when the owner declines a signing request.
	ErrAuthDenied = errors.New("signing request denied")

	// ErrSigningUnsupported is returned by signers that cannot produce
	// ad-hoc message signatures (e.g. constrained session signers).
	ErrSigningUnsupported = errors.New("signer cannot sign arbitrary messages")

	// ErrDerivationUnavailable is returned when no derivation path can
	// produce key material: signing is unsupported and the fallback is
	// disabled or failed.
	ErrDerivationUnavailable = errors.New("key derivation unavailable")

	// ErrSecretNotFound is returned by a SecretStore when no secret is
	// persisted for the requested owner.
	ErrSecretNotFound = errors.New("user secret not found")
)
