package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/driftchat/backend/internal/auth"
	"github.com/driftchat/backend/pkg/response"
	"github.com/driftchat/backend/pkg/validator"
)

// DeviceHandler is the anonymous entry point: a device registers itself
// and receives the token that gates every realtime operation.
type DeviceHandler struct {
	jwtManager *auth.JWTManager
	logger     *zap.Logger
}

func NewDeviceHandler(jwtManager *auth.JWTManager, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{jwtManager: jwtManager, logger: logger}
}

type registerDeviceRequest struct {
	DeviceID string `json:"device_id,omitempty"`
}

type registerDeviceResponse struct {
	DeviceID  string    `json:"device_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Register issues a device token. The client may supply its stable
// installation identifier; otherwise one is generated.
func (h *DeviceHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if r.Body != nil {
		// An empty body means "generate an ID for me".
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	deviceID := req.DeviceID
	if deviceID == "" {
		deviceID = uuid.New().String()
	} else if !validator.ValidateDeviceID(deviceID) {
		response.BadRequest(w, "invalid device id")
		return
	}

	token, expiresAt, err := h.jwtManager.GenerateDeviceToken(deviceID)
	if err != nil {
		h.logger.Error("failed to issue device token", zap.Error(err))
		response.InternalError(w, "failed to issue token")
		return
	}

	response.Created(w, registerDeviceResponse{
		DeviceID:  deviceID,
		Token:     token,
		ExpiresAt: expiresAt,
	})
}
