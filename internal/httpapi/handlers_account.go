package httpapi

import (
	"net/http"

	"github.com/keystep-id/keystep/internal/stepup"
)

type changeContactRequest struct {
	NewAddress string `json:"new_address" validate:"required,max=320"`
}

// handleChangeContact commits a contact change. Both legs of the
// two-stage verification must already be approved: the caller proved
// control of the old address, then of the new one.
func (a *API) handleChangeContact(w http.ResponseWriter, r *http.Request) {
	var req changeContactRequest
	if err := decodeBody(r, &req); err != nil {
		a.respondError(w, err)
		return
	}

	uid := userID(r.Context())
	if err := a.verifier.Authorize(r.Context(), uid, stepup.PurposeContactChangeNew); err != nil {
		a.respondError(w, err)
		return
	}

	if err := a.accounts.UpdateAccountAddress(r.Context(), uid, req.NewAddress, a.clock().UTC()); err != nil {
		// the consumed approval must survive a failed commit
		a.verifier.RestoreApproval(r.Context(), uid, stepup.PurposeContactChangeNew)
		a.respondError(w, err)
		return
	}
	a.verifier.ReleaseApproval(r.Context(), uid, stepup.PurposeContactChangeOld)

	a.log.WithField("user_id", uid).Info("contact address changed")
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// handleDeleteAccount removes the account and every credential it owns.
func (a *API) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	uid := userID(r.Context())
	if err := a.verifier.Authorize(r.Context(), uid, stepup.PurposeAccountDeletion); err != nil {
		a.respondError(w, err)
		return
	}

	if err := a.registry.DeleteAllCredentials(r.Context(), uid); err != nil {
		a.respondError(w, err)
		return
	}
	if err := a.accounts.DeleteAccount(r.Context(), uid); err != nil {
		a.respondError(w, err)
		return
	}

	a.log.WithField("user_id", uid).Info("account deleted")
	respondJSON(w, http.StatusNoContent, nil)
}
