package api

import (
	"net/http"

	"github.com/driftchat/backend/internal/domain"
	"github.com/driftchat/backend/internal/middleware"
	"github.com/driftchat/backend/pkg/response"
)

// TURNHandler hands out short-lived relay credentials for clients whose
// direct peer-to-peer connectivity fails.
type TURNHandler struct {
	issuer *domain.TURNIssuer
}

func NewTURNHandler(issuer *domain.TURNIssuer) *TURNHandler {
	return &TURNHandler{issuer: issuer}
}

// Credentials returns relay credentials for the authenticated device.
func (h *TURNHandler) Credentials(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := middleware.GetDeviceID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}
	response.OK(w, h.issuer.IssueCredentials(deviceID))
}
