package relay

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"argus_relay/platform/mask"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderSecret is the dedicated inbound authentication header.
	HeaderSecret = "X-Argus-Secret"

	// ContextAuthPhoneKey holds a phone candidate co-packed with the secret.
	ContextAuthPhoneKey = "relayAuthPhone"
	// ContextMaskedSecretKey holds the masked presented secret for diagnostics.
	ContextMaskedSecretKey = "relayMaskedSecret"
)

// SecretAuthMiddleware validates the shared webhook secret before anything
// is persisted or dispatched. The secret arrives in X-Argus-Secret or, as a
// fallback, in Authorization (a Bearer prefix is tolerated). Some dialer
// configurations can only set one header value, so "secret|phone" co-packing
// on a pipe is accepted; the phone half becomes a high-trust candidate.
// An empty configured secret disables the check.
func SecretAuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		presented, phone := presentedSecret(c)

		if presented != "" {
			c.Set(ContextMaskedSecretKey, mask.Secret(presented))
		}
		if phone != "" {
			c.Set(ContextAuthPhoneKey, phone)
		}

		if secret == "" {
			c.Next()
			return
		}

		if subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook secret"})
			return
		}

		c.Next()
	}
}

func presentedSecret(c *gin.Context) (secret, phone string) {
	raw := strings.TrimSpace(c.GetHeader(HeaderSecret))
	if raw == "" {
		raw = strings.TrimSpace(c.GetHeader("Authorization"))
		if len(raw) >= 7 && strings.EqualFold(raw[:7], "Bearer ") {
			raw = strings.TrimSpace(raw[7:])
		}
	}

	if i := strings.IndexByte(raw, '|'); i >= 0 {
		return raw[:i], strings.TrimSpace(raw[i+1:])
	}
	return raw, ""
}
