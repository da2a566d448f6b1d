package app

import (
	"errors"
	"fmt"

	"instant/cmd/internal/auth/session"
	"instant/cmd/security/token"
)

// minTokenHMACBytes is the shortest digest key accepted under RequireTokenHMAC.
const minTokenHMACBytes = 32

// ValidateSecurityConfig refuses to start the server when RequireTokenHMAC
// is set but refresh-token digests would fall back to plain SHA-256.
func ValidateSecurityConfig(cfg Config, sess session.Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}
	policyErr := func(reason string) error {
		return fmt.Errorf("security policy: INSTANT_REQUIRE_TOKEN_HMAC=true but %s", reason)
	}

	_, err := token.HMACKeyFromEnv(minTokenHMACBytes)
	switch {
	case errors.Is(err, token.ErrHMACKeyMissing):
		return policyErr(token.HMACEnvKey + " is missing")
	case errors.Is(err, token.ErrHMACKeyTooShort):
		return policyErr(fmt.Sprintf("%s is too short (min %d bytes)", token.HMACEnvKey, minTokenHMACBytes))
	case err != nil:
		return err
	}

	if !token.NewDigester(sess.DigestKey).Keyed() {
		return policyErr("refresh-token digests are not keyed")
	}
	return nil
}
