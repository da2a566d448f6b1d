package session

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"instant/cmd/identity"
	"instant/cmd/internal/metrics"
	"instant/cmd/security/token"
)

// tokenDecision is what a token-set mutation wants stored. result is returned
// to the caller once next has been stored.
type tokenDecision struct {
	next   []string
	result error
	reuse  bool
}

// mutateTokens runs read → decide → compare-and-swap on the token set of
// userID, retrying from a fresh read whenever the swap finds the set changed.
// decide may run several times; it must not have side effects.
func (s *Service) mutateTokens(ctx context.Context, userID string, decide func(identity.User) (tokenDecision, error)) error {
	backoff := retry.WithCappedDuration(100*time.Millisecond,
		retry.NewExponential(s.cfg.SwapBackoff))
	backoff = retry.WithMaxRetries(s.cfg.SwapAttempts-1, backoff)

	var final tokenDecision
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		u, err := s.users.FindByID(ctx, userID)
		if err != nil {
			return err
		}
		d, err := decide(u)
		if err != nil {
			return err
		}
		if d.next == nil {
			d.next = []string{}
		}
		if err := s.users.SwapRefreshTokens(ctx, u.ID, u.RefreshTokens, d.next); err != nil {
			if identity.IsStale(err) {
				metrics.TokenSetConflicts.Inc()
				return retry.RetryableError(err)
			}
			return err
		}
		final = d
		return nil
	})
	if err != nil {
		return err
	}

	if final.reuse {
		metrics.RefreshReuseDetected.Inc()
		s.log.Warn("auth.refresh.reuse_detected", "user_id", userID)
	}
	return final.result
}

// mapTokenSetErr turns a mutateTokens failure into a session Error.
func (s *Service) mapTokenSetErr(op string, err error, storeMsg string) error {
	var se *Error
	switch {
	case errors.As(err, &se):
		return err
	case identity.IsNotFound(err):
		return forbidden(op, MsgInvalidRequest)
	default:
		return storeFailure(op, storeMsg, err)
	}
}

// verifyRefresh checks a presented refresh token's signature and expiry.
func (s *Service) verifyRefresh(op, presented string) (token.Claims, error) {
	if presented == "" {
		return token.Claims{}, unauthorized(op)
	}
	v := s.codec.Verify(presented, token.PurposeRefresh, s.now())
	switch v.Outcome {
	case token.OutcomeValid:
		return v.Claims, nil
	case token.OutcomeExpired:
		return token.Claims{}, forbidden(op, MsgTokenExpired)
	default:
		return token.Claims{}, forbidden(op, MsgAuthFailed)
	}
}

// revokeAll is the decision taken when a presented refresh token is no longer live.
func revokeAll(op string) tokenDecision {
	return tokenDecision{
		next:   []string{},
		result: forbidden(op, MsgInvalidRequest),
		reuse:  true,
	}
}

// Refresh exchanges a live refresh token for a new pair. The presented token's
// digest is replaced in place by the new one. A verified token whose digest is
// not live revokes every refresh token of the user.
func (s *Service) Refresh(ctx context.Context, presented string) (_ Issued, err error) {
	const op = "session.Refresh"
	ctx, span := startSpan(ctx, op)
	defer func() { s.finish("refresh", span, err) }()

	presented = strings.TrimSpace(presented)
	claims, err := s.verifyRefresh(op, presented)
	if err != nil {
		return Issued{}, err
	}

	issued, err := s.mint(op, claims.Subject, s.now())
	if err != nil {
		return Issued{}, err
	}
	oldDigest := s.digest.Digest(presented)
	newDigest := s.digest.Digest(issued.RefreshToken)

	var owner identity.User
	err = s.mutateTokens(ctx, claims.Subject, func(u identity.User) (tokenDecision, error) {
		owner = u
		i := slices.Index(u.RefreshTokens, oldDigest)
		if i < 0 {
			return revokeAll(op), nil
		}
		next := slices.Clone(u.RefreshTokens)
		next[i] = newDigest
		return tokenDecision{next: next}, nil
	})
	if err != nil {
		return Issued{}, s.mapTokenSetErr(op, err, MsgTryAgain)
	}

	issued.Username, issued.Email = owner.Username, owner.Email
	return issued, nil
}

// Logout removes the presented refresh token from the live set. Logging out
// twice with the same token is treated as reuse on the second call.
func (s *Service) Logout(ctx context.Context, presented string) (err error) {
	const op = "session.Logout"
	ctx, span := startSpan(ctx, op)
	defer func() { s.finish("logout", span, err) }()

	presented = strings.TrimSpace(presented)
	claims, err := s.verifyRefresh(op, presented)
	if err != nil {
		return err
	}
	digest := s.digest.Digest(presented)

	err = s.mutateTokens(ctx, claims.Subject, func(u identity.User) (tokenDecision, error) {
		i := slices.Index(u.RefreshTokens, digest)
		if i < 0 {
			return revokeAll(op), nil
		}
		return tokenDecision{next: slices.Delete(slices.Clone(u.RefreshTokens), i, i+1)}, nil
	})
	if err != nil {
		return s.mapTokenSetErr(op, err, MsgTryAgain)
	}
	return nil
}
