package chat

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/coachgate/internal/apierror"
	"github.com/mbd888/coachgate/internal/entitlement"
	"github.com/mbd888/coachgate/internal/identity"
	"github.com/mbd888/coachgate/internal/provider"
)

// Handler provides the chat endpoint.
type Handler struct {
	service *Service
}

// NewHandler creates a new chat handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up routes that require a verified identity.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/chat", h.Chat)
}

type chatRequest struct {
	Model     string            `json:"model"`
	MaxTokens int               `json:"max_tokens" binding:"gte=0"`
	System    string            `json:"system"`
	Messages  []json.RawMessage `json:"messages" binding:"required,min=1"`
}

// Chat handles POST /api/chat. On success the upstream body is returned as is.
func (h *Handler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.Respond(c, apierror.Invalid("", "Invalid chat request: messages are required"))
		return
	}

	res, err := h.service.Chat(c.Request.Context(), identity.Ref(c), provider.Request{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		System:    req.System,
		Messages:  req.Messages,
	})
	if err != nil {
		var qErr *QuotaError
		if errors.As(err, &qErr) {
			respondLimitReached(c, qErr.Decision)
			return
		}
		apierror.Respond(c, err)
		return
	}

	c.Data(http.StatusOK, res.Response.ContentType, res.Response.Body)
}

func respondLimitReached(c *gin.Context, d entitlement.Decision) {
	_, code := apierror.Status(apierror.ErrQuotaExceeded)
	body := gin.H{
		"error":         code,
		"message":       "You've used all free chats. Upgrade to keep chatting.",
		"limit_reached": true,
		"usage_count":   d.Usage,
		"tier":          d.Tier,
	}
	if !d.Unlimited() {
		body["limit"] = d.Limit
	}
	c.AbortWithStatusJSON(http.StatusForbidden, body)
}
