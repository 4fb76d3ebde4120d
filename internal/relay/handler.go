package relay

import (
	"io"
	"net/http"

	"argus_relay/internal/eventstore"
	"argus_relay/platform/apperr"
	"argus_relay/platform/config"
	"argus_relay/platform/httpkit"
	"argus_relay/platform/phone"

	"github.com/gin-gonic/gin"
)

// maxBodyBytes caps the inbound body; dialer notifications are small.
const maxBodyBytes = 1 << 20

// queryPhoneParams are the query parameters accepted as phone hints.
var queryPhoneParams = []string{"ani", "phone", "caller"}

// Handler handles webhook HTTP requests.
type Handler struct {
	service *Service
	cfg     config.RelayConfig
}

// NewHandler creates a new relay handler.
func NewHandler(service *Service, cfg config.RelayConfig) *Handler {
	return &Handler{service: service, cfg: cfg}
}

// webhookResponse is returned for every processed delivery.
type webhookResponse struct {
	ExternalID string `json:"externalId"`
	Status     string `json:"status"`
	CallID     string `json:"callId,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Replayed   bool   `json:"replayed,omitempty"`
}

// HandleArgusWebhook processes an inbound Argus call-event notification.
// POST /api/v1/argus/webhook
// POST /api/v1/argus/webhook/:phone
// Authenticated by SecretAuthMiddleware.
func (h *Handler) HandleArgusWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "unreadable request body")
		return
	}

	payload := DecodePayload(body)
	in := Inbound{
		Payload: payload,
		Aux:     h.buildAux(c, body),
		Meta:    requestMeta(c),
	}

	out, err := h.service.ProcessEvent(c.Request.Context(), in)
	if err != nil {
		if apperr.Is(err, apperr.KindUnavailable) && !h.cfg.GetStrictStoreErrors() {
			// Nothing was durably recorded; tell the sender to retry.
			c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "error": "event not recorded, retry"})
			return
		}
		httpkit.HandleError(c, err)
		return
	}

	status := http.StatusOK
	if out.Status == eventstore.StatusCallAPIError && h.cfg.GetStrictDispatchErrors() {
		status = http.StatusBadGateway
	}

	c.JSON(status, webhookResponse{
		ExternalID: out.ExternalID,
		Status:     string(out.Status),
		CallID:     out.CallReference,
		Reason:     out.Reason,
		Replayed:   out.Replayed,
	})
}

// buildAux gathers transport-level phone hints: the value co-packed with
// the auth secret, the recognized query parameters, and the final path
// segment when it resembles a phone number.
func (h *Handler) buildAux(c *gin.Context, body []byte) Aux {
	aux := Aux{RawBody: string(body)}

	aux.HeaderPhone = c.GetString(ContextAuthPhoneKey)

	for _, param := range queryPhoneParams {
		if v := c.Query(param); v != "" {
			aux.QueryPhone = v
			break
		}
	}

	if segment := c.Param("phone"); segment != "" {
		if _, ok := phone.Normalize(segment); ok {
			aux.PathPhone = segment
		}
	}

	return aux
}

// requestMeta captures request diagnostics for storage. The presented
// secret is already masked by the auth middleware; it must never be
// persisted in cleartext.
func requestMeta(c *gin.Context) map[string]any {
	meta := map[string]any{
		"path":      c.Request.URL.Path,
		"client_ip": c.ClientIP(),
	}
	if query := c.Request.URL.RawQuery; query != "" {
		meta["query"] = query
	}
	if masked := c.GetString(ContextMaskedSecretKey); masked != "" {
		meta["secret"] = masked
	}
	if ua := c.Request.UserAgent(); ua != "" {
		meta["user_agent"] = ua
	}
	return meta
}
