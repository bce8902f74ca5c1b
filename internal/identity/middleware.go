package identity

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/coachgate/internal/apierror"
	"github.com/mbd888/coachgate/internal/logging"
)

// ContextKeyIdentity is the gin context key holding the verified *Identity.
const ContextKeyIdentity = "identity"

// RequireIdentity rejects requests without a valid Clerk session token.
// On success the identity is stored in the gin context and the request context.
func RequireIdentity(v Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			apierror.Respond(c, &apierror.AuthError{
				Status:  http.StatusUnauthorized,
				Message: "Authentication required. Include 'Authorization: Bearer <session token>' header.",
			})
			return
		}

		id, err := v.Verify(c.Request.Context(), raw)
		if err != nil {
			var cfgErr *apierror.ConfigurationError
			if errors.As(err, &cfgErr) {
				apierror.Respond(c, err)
				return
			}
			logging.L(c.Request.Context()).Debug("session token rejected", "error", err)
			apierror.Respond(c, &apierror.AuthError{
				Status:  http.StatusUnauthorized,
				Message: "Invalid or expired session",
			})
			return
		}

		c.Set(ContextKeyIdentity, id)
		c.Request = c.Request.WithContext(logging.WithIdentity(c.Request.Context(), id.Ref))
		c.Next()
	}
}

// FromGin returns the identity set by RequireIdentity.
func FromGin(c *gin.Context) (*Identity, bool) {
	v, ok := c.Get(ContextKeyIdentity)
	if !ok {
		return nil, false
	}
	id, ok := v.(*Identity)
	return id, ok && id != nil
}

// Ref returns the identity reference set by RequireIdentity, or "".
func Ref(c *gin.Context) string {
	if id, ok := FromGin(c); ok {
		return id.Ref
	}
	return ""
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	tok := strings.TrimSpace(parts[1])
	return tok, tok != ""
}
