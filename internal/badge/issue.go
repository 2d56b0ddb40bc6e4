package badge

import (
	"context"
	"fmt"
	"time"

	"openbackpack.org/internal/obs"
)

// Issue awards the project's badge to the learner, enforcing the
// at-most-one-assertion-per-(user, badge class) rule. A learner who already
// holds the badge gets a *ConflictError (or *RevokedError) carrying the
// freshly reconciled existing assertion; a new assertion is never created
// in that case, even when the old one is expired or revoked. Reissuance is
// an administrative action outside this engine.
func (s *Service) Issue(ctx context.Context, userID, projectID string) (Assertion, error) {
	var user User
	if err := s.store.Get(ctx, userPath(userID), &user); err != nil {
		return Assertion{}, notFoundOr("user", userID, err)
	}

	var project Project
	if err := s.store.Get(ctx, projectPath(projectID), &project); err != nil {
		return Assertion{}, notFoundOr("project", projectID, err)
	}

	var badgeClass BadgeClass
	if err := s.store.Get(ctx, badgePath(project.BadgeClass), &badgeClass); err != nil {
		return Assertion{}, notFoundOr("badge class", project.BadgeClass, err)
	}

	// Serialize the existence check and the writes below per
	// (user, badge class): two racing Issue calls must not both observe
	// "no assertion" and both create one. The badge-map entry and the
	// point total are re-read under the lock; the user document loaded
	// above may already be stale.
	unlock := s.issueLocks.lock(userID + "\x00" + project.BadgeClass)
	defer unlock()

	var held UserBadge
	switch err := s.store.Get(ctx, userPath(userID)+"/badges/"+project.BadgeClass, &held); {
	case err == nil:
		return s.existingAssertion(ctx, held.AssertionID, badgeClass.Image)
	case !isStoreNotFound(err):
		return Assertion{}, fmt.Errorf("check held badge: %w", err)
	}
	if err := s.store.Get(ctx, userPath(userID)+"/points", &user.Points); err != nil && !isStoreNotFound(err) {
		return Assertion{}, fmt.Errorf("read points: %w", err)
	}

	now := s.now().UTC()
	issuedOn := now.Format(time.RFC3339)

	key, err := s.store.Push(ctx, "assertions", nil)
	if err != nil {
		return Assertion{}, fmt.Errorf("reserve assertion key: %w", err)
	}
	uid := key
	if s.envPrefix != "" {
		uid = s.envPrefix + "-" + key
	}

	assertion := Assertion{
		Context: obContext,
		Type:    "Assertion",
		UID:     uid,
		Recipient: Recipient{
			Identity: user.Email,
			Type:     "email",
			Hashed:   false,
		},
		IssuedOn: issuedOn,
		Badge:    s.baseURL + "/v1/badges/" + project.BadgeClass,
		Verify: Verification{
			Type: "hosted",
			URL:  s.baseURL + "/v1/assertions/" + uid,
		},
		Revoked: false,
		RecipientProfile: &RecipientProfile{
			Name:    user.Name,
			Context: obProfileContext,
			Type:    []string{"Extension", "extensions:RecipientProfile"},
		},
		Course:  project.Course,
		Project: projectID,
		Points:  project.Points, // copied by value; later project edits do not backdate
	}
	if project.PeriodOfValidity > 0 {
		assertion.Expires = now.AddDate(0, 0, project.PeriodOfValidity).Format(time.RFC3339)
	}

	// Write order matters: the assertion must be durable before anything
	// claims it exists, and the revocation record must exist before the
	// first reconciliation ever reads it.
	if err := s.store.Set(ctx, assertionPath(uid), assertion); err != nil {
		return Assertion{}, fmt.Errorf("persist assertion: %w", err)
	}
	if err := s.store.Set(ctx, revokedPath(uid), RevocationRecord{
		RevokedStatus: false,
		Reason:        ReasonPlaceholder,
	}); err != nil {
		return Assertion{}, fmt.Errorf("persist revocation record: %w", err)
	}

	award := UserBadge{AssertionID: uid, Timestamp: now.UnixMilli()}
	if err := s.store.Set(ctx, userPath(userID)+"/badges/"+project.BadgeClass, award); err != nil {
		return Assertion{}, fmt.Errorf("record user badge: %w", err)
	}
	if err := s.store.Set(ctx, userPath(userID)+"/points", user.Points+project.Points); err != nil {
		return Assertion{}, fmt.Errorf("award points: %w", err)
	}

	// Best effort; a failed history write never fails the issuance.
	if s.history {
		s.appendHistory(ctx, HistoryEvent{
			Type:       "Open Badge assertion",
			Assertion:  uid,
			Course:     project.Course,
			BadgeClass: project.BadgeClass,
			User:       userID,
			Email:      user.Email,
			Timestamp:  now.UnixMilli(),
		})
	}

	obs.AssertionIssued()
	return assertion, nil
}

// existingAssertion reconciles the already-held assertion and reports it as
// a conflict or, when currently revoked, as a revocation with details.
func (s *Service) existingAssertion(ctx context.Context, assertionID, imageURL string) (Assertion, error) {
	var assertion Assertion
	if err := s.store.Get(ctx, assertionPath(assertionID), &assertion); err != nil {
		return Assertion{}, notFoundOr("assertion", assertionID, err)
	}

	rec, err := s.Reconcile(ctx, &assertion)
	if err != nil {
		return Assertion{}, err
	}

	if rec.RevokedStatus {
		assertion.RevocationDetails = &rec
		return Assertion{}, &RevokedError{Assertion: assertion, Record: rec, ImageURL: imageURL}
	}
	return Assertion{}, &ConflictError{Assertion: assertion, ImageURL: imageURL}
}

func notFoundOr(kind, id string, err error) error {
	if isStoreNotFound(err) {
		return notFound(kind, id)
	}
	return fmt.Errorf("load %s %q: %w", kind, id, err)
}
