package badge

import (
	"context"
	"fmt"
	"time"

	"openbackpack.org/internal/obs"
)

// Reconcile computes the canonical revocation status of one assertion and
// syncs the assertion's cached Revoked flag against it.
//
// Revocation has two independent causes: automatic time-based expiry,
// handled here, and administrative revocation recorded out of band directly
// in the revocation record. The final decision is always based on a fresh
// re-read of the record, so an administrative revocation racing with the
// expiry check is never overwritten. Note this mutates persistent state
// even on a read path.
//
// Expiry-caused revocation is the only kind this engine ever undoes: when
// an assertion marked revoked with reason "expired" is no longer past its
// expiration (the validity period was extended), the record is rectified
// back to not-revoked. Administrative revocations are sticky.
func (s *Service) Reconcile(ctx context.Context, a *Assertion) (RevocationRecord, error) {
	rec, err := s.revocationRecord(ctx, a.UID)
	if err != nil {
		return RevocationRecord{}, err
	}

	if a.Expires != "" {
		expires, err := time.Parse(time.RFC3339, a.Expires)
		if err != nil {
			return RevocationRecord{}, fmt.Errorf("assertion %s: bad expires %q: %w", a.UID, a.Expires, err)
		}

		if s.now().UTC().After(expires) {
			if !a.Revoked {
				if err := s.setRevocation(ctx, a, RevocationRecord{RevokedStatus: true, Reason: ReasonExpired}); err != nil {
					return RevocationRecord{}, err
				}
				obs.ReconcileWrite(ReasonExpired)
			}
		} else if a.Revoked && rec.Reason == ReasonExpired {
			if err := s.setRevocation(ctx, a, RevocationRecord{RevokedStatus: false, Reason: ReasonPlaceholder}); err != nil {
				return RevocationRecord{}, err
			}
			obs.ReconcileWrite(ReasonPlaceholder)
		}
	}

	// Re-read so a concurrent administrative revocation wins over anything
	// we decided from the record cached above.
	rec, err = s.revocationRecord(ctx, a.UID)
	if err != nil {
		return RevocationRecord{}, err
	}

	if rec.RevokedStatus {
		if err := s.setAssertionRevoked(ctx, a, true); err != nil {
			return RevocationRecord{}, err
		}
		return s.revocationRecord(ctx, a.UID)
	}

	if err := s.setAssertionRevoked(ctx, a, false); err != nil {
		return RevocationRecord{}, err
	}
	return rec, nil
}

func (s *Service) revocationRecord(ctx context.Context, assertionID string) (RevocationRecord, error) {
	var rec RevocationRecord
	if err := s.store.Get(ctx, revokedPath(assertionID), &rec); err != nil {
		return RevocationRecord{}, fmt.Errorf("revocation record for %s: %w", assertionID, err)
	}
	return rec, nil
}

// setRevocation writes the record first, then the cached flag; the record
// is the source of truth and must never lag behind the cache.
func (s *Service) setRevocation(ctx context.Context, a *Assertion, rec RevocationRecord) error {
	if err := s.store.Set(ctx, revokedPath(a.UID), rec); err != nil {
		return err
	}
	return s.setAssertionRevoked(ctx, a, rec.RevokedStatus)
}

func (s *Service) setAssertionRevoked(ctx context.Context, a *Assertion, revoked bool) error {
	if err := s.store.Set(ctx, assertionPath(a.UID)+"/revoked", revoked); err != nil {
		return err
	}
	a.Revoked = revoked
	return nil
}
