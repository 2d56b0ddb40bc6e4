package badge

import (
	"context"
	"errors"
	"sort"

	"openbackpack.org/internal/store"
)

// Collect gathers every badge the learner holds, reconciling each
// assertion on the way out. Any missing downstream record (badge class,
// issuer, assertion, course) fails the whole collection; there is no
// partial-backpack mode.
//
// Entries come back in award order: assertion identifiers are
// time-ordered, so sorting the badge map by held assertion id reproduces
// the order badges were earned in.
func (s *Service) Collect(ctx context.Context, userID string) ([]BadgeRecord, error) {
	var user User
	if err := s.store.Get(ctx, userPath(userID), &user); err != nil {
		return nil, notFoundOr("user", userID, err)
	}

	badgeClassIDs := make([]string, 0, len(user.Badges))
	for id := range user.Badges {
		badgeClassIDs = append(badgeClassIDs, id)
	}
	sort.Slice(badgeClassIDs, func(i, j int) bool {
		return user.Badges[badgeClassIDs[i]].AssertionID < user.Badges[badgeClassIDs[j]].AssertionID
	})

	records := make([]BadgeRecord, 0, len(badgeClassIDs))
	for _, badgeClassID := range badgeClassIDs {
		held := user.Badges[badgeClassID]

		var badgeClass BadgeClass
		if err := s.store.Get(ctx, badgePath(badgeClassID), &badgeClass); err != nil {
			return nil, notFoundOr("badge class", badgeClassID, err)
		}
		var issuer Issuer
		if err := s.store.Get(ctx, issuerPath(badgeClass.Issuer), &issuer); err != nil {
			return nil, notFoundOr("issuer", badgeClass.Issuer, err)
		}
		var assertion Assertion
		if err := s.store.Get(ctx, assertionPath(held.AssertionID), &assertion); err != nil {
			return nil, notFoundOr("assertion", held.AssertionID, err)
		}
		var course Course
		if err := s.store.Get(ctx, coursePath(assertion.Course), &course); err != nil {
			return nil, notFoundOr("course", assertion.Course, err)
		}

		rec, err := s.Reconcile(ctx, &assertion)
		if err != nil {
			return nil, err
		}

		records = append(records, BadgeRecord{
			Name:          badgeClass.Name,
			ImageURL:      badgeClass.Image,
			BadgeClass:    badgeClass,
			Issuer:        issuer,
			Course:        course,
			Assertion:     assertion,
			RevokedStatus: rec.RevokedStatus,
			RevokedReason: rec.Reason,
		})
	}
	return records, nil
}

// Profile returns the learner's display name and point total.
func (s *Service) Profile(ctx context.Context, userID string) (string, int, error) {
	var user User
	if err := s.store.Get(ctx, userPath(userID), &user); err != nil {
		return "", 0, notFoundOr("user", userID, err)
	}
	return user.Name, user.Points, nil
}

// Contact returns the learner's email address and display name.
func (s *Service) Contact(ctx context.Context, userID string) (string, string, error) {
	var user User
	if err := s.store.Get(ctx, userPath(userID), &user); err != nil {
		return "", "", notFoundOr("user", userID, err)
	}
	return user.Email, user.Name, nil
}

// Hosted returns the reconciled assertion for hosted verification.
func (s *Service) Hosted(ctx context.Context, assertionID string) (Assertion, error) {
	var assertion Assertion
	if err := s.store.Get(ctx, assertionPath(assertionID), &assertion); err != nil {
		return Assertion{}, notFoundOr("assertion", assertionID, err)
	}
	if _, err := s.Reconcile(ctx, &assertion); err != nil {
		return Assertion{}, err
	}
	return assertion, nil
}

// BadgeClassByID exposes a badge class for its hosted URL.
func (s *Service) BadgeClassByID(ctx context.Context, id string) (BadgeClass, error) {
	var bc BadgeClass
	if err := s.store.Get(ctx, badgePath(id), &bc); err != nil {
		return BadgeClass{}, notFoundOr("badge class", id, err)
	}
	return bc, nil
}

func isStoreNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
