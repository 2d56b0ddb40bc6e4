package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"openbackpack.org/internal/auth"
	"openbackpack.org/internal/badge"
	"openbackpack.org/internal/mailer"
	"openbackpack.org/internal/obs"
)

type issueRequest struct {
	ProjectID string `json:"project_id"`
}

func (a *API) handleAssertionsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.issueAssertion(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) issueAssertion(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req issueRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.ProjectID) == "" {
		writeError(w, r, http.StatusBadRequest, "project_id is required")
		return
	}

	assertion, err := a.svc.Issue(r.Context(), userID, req.ProjectID)
	if err != nil {
		a.handleIssueError(w, r, err)
		return
	}

	if a.mail != nil {
		go a.notifyAward(userID, assertion)
	}
	writeJSON(w, http.StatusCreated, assertion)
}

func (a *API) handleIssueError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *badge.ConflictError
	var revoked *badge.RevokedError
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     "badge already awarded",
			"assertion": conflict.Assertion,
			"imageUrl":  conflict.ImageURL,
		})
	case errors.As(err, &revoked):
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error":             "assertion is revoked",
			"assertion":         revoked.Assertion,
			"imageUrl":          revoked.ImageURL,
			"revocationDetails": revoked.Record,
		})
	case errors.Is(err, badge.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// notifyAward emails the learner about a fresh assertion. Runs detached
// from the issuing request; any failure is logged, never surfaced.
func (a *API) notifyAward(userID string, assertion badge.Assertion) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	email, name, err := a.svc.Contact(ctx, userID)
	if err != nil {
		obs.LogError("mail", err)
		return
	}
	bc, err := a.svc.BadgeClassByID(ctx, path.Base(assertion.Badge))
	if err != nil {
		obs.LogError("mail", err)
		return
	}
	baked, err := a.baker.BakeFromURL(ctx, bc.Image, assertion)
	if err != nil {
		obs.LogError("mail", err)
		baked = nil // badge image is decoration; still send the email
	}
	token, err := a.svc.CreateDownloadToken(ctx, userID)
	if err != nil {
		obs.LogError("mail", err)
		return
	}

	downloadURL := a.publicBaseURL + "/v1/backpack/email?uid=" +
		url.QueryEscape(userID) + "&token=" + url.QueryEscape(token)
	if err := a.mail.SendAward(ctx, mailer.Award{
		To:          email,
		Recipient:   name,
		BadgeName:   bc.Name,
		DownloadURL: downloadURL,
		BadgePNG:    baked,
	}); err != nil {
		obs.LogError("mail", err)
	}
}

func (a *API) handleAssertionResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/assertions/")
	if rest == "bake" {
		a.bakeAssertion(w, r)
		return
	}
	if rest == "" || strings.Contains(rest, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	a.hostedAssertion(w, r, rest)
}

// hostedAssertion serves the verification object behind every assertion's
// verify URL. A revoked assertion answers 410 Gone per the hosted
// verification contract.
func (a *API) hostedAssertion(w http.ResponseWriter, r *http.Request, uid string) {
	assertion, err := a.svc.Hosted(r.Context(), uid)
	if err != nil {
		if errors.Is(err, badge.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if assertion.Revoked {
		writeJSON(w, http.StatusGone, map[string]any{
			"uid":     assertion.UID,
			"revoked": true,
		})
		return
	}
	writeJSON(w, http.StatusOK, assertion)
}

// bakeAssertion embeds caller-supplied assertion JSON into the referenced
// badge image and returns the baked PNG.
func (a *API) bakeAssertion(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rawAssertion := strings.TrimSpace(q.Get("assertion"))
	imageURL := strings.TrimSpace(q.Get("image"))
	if rawAssertion == "" || imageURL == "" {
		writeError(w, r, http.StatusBadRequest, "assertion and image are required")
		return
	}
	if !json.Valid([]byte(rawAssertion)) {
		writeError(w, r, http.StatusBadRequest, "assertion must be valid JSON")
		return
	}

	baked, err := a.baker.BakeFromURL(r.Context(), imageURL, json.RawMessage(rawAssertion))
	if err != nil {
		writeError(w, r, http.StatusBadGateway, "bake failed: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", `attachment; filename="badge.png"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(baked)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(baked)
}

func (a *API) handleBadgeClass(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/badges/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	bc, err := a.svc.BadgeClassByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, badge.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, bc)
}

func (a *API) handleBackpack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	a.serveBackpack(w, r, userID)
}

// handleBackpackEmail serves the same document through the single-use
// token mailed with an award. The token burns on first use even when the
// export itself fails; the learner can always fall back to the
// authenticated route.
func (a *API) handleBackpackEmail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	q := r.URL.Query()
	userID := strings.TrimSpace(q.Get("uid"))
	token := strings.TrimSpace(q.Get("token"))
	if userID == "" || token == "" {
		writeError(w, r, http.StatusBadRequest, "uid and token are required")
		return
	}

	if err := a.svc.RedeemDownloadToken(r.Context(), userID, token); err != nil {
		switch {
		case errors.Is(err, badge.ErrInvalidToken):
			writeError(w, r, http.StatusForbidden, "invalid or spent download token")
		case errors.Is(err, badge.ErrNotFound):
			writeError(w, r, http.StatusNotFound, err.Error())
		default:
			writeError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	a.serveBackpack(w, r, userID)
}

func (a *API) serveBackpack(w http.ResponseWriter, r *http.Request, userID string) {
	if a.backpack == nil {
		writeError(w, r, http.StatusServiceUnavailable, "export is not configured")
		return
	}
	pdf, err := a.backpack.Build(r.Context(), userID)
	if err != nil {
		if errors.Is(err, badge.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, r, http.StatusBadGateway, "export failed: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="backpack.pdf"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}
