package server

import (
	"net/http"
	"strconv"

	"github.com/mhjmaas/famly-sub002/internal/auth"
	"github.com/mhjmaas/famly-sub002/internal/gateway"
	"github.com/mhjmaas/famly-sub002/internal/ids"
	"github.com/mhjmaas/famly-sub002/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Handler 聚合 HTTP handler，消息创建与实时通道共用 gateway 的幂等流程。
type Handler struct {
	gw    *gateway.Gateway
	chats *service.ChatService
	msgs  *service.MessageService
}

func NewHandler(gw *gateway.Gateway, chats *service.ChatService, msgs *service.MessageService) *Handler {
	return &Handler{gw: gw, chats: chats, msgs: msgs}
}

var statusByCode = map[gateway.Code]int{
	gateway.CodeValidation:   http.StatusBadRequest,
	gateway.CodeUnauthorized: http.StatusUnauthorized,
	gateway.CodeForbidden:    http.StatusForbidden,
	gateway.CodeRateLimited:  http.StatusTooManyRequests,
	gateway.CodeNotFound:     http.StatusNotFound,
	gateway.CodeInternal:     http.StatusInternalServerError,
}

func writeError(c *gin.Context, err error) {
	code, msg := gateway.Classify(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	cid := uuid.NewString()
	ev := log.Info()
	if status >= http.StatusInternalServerError {
		ev = log.Error()
	}
	ev.Err(err).Str("path", c.FullPath()).Str("code", string(code)).Str("correlation_id", cid).Msg("http request failed")
	c.JSON(status, gin.H{"error": code, "message": msg, "correlationId": cid})
}

// CreateMessage 处理 POST /chats/:id/messages。新建返回 201，幂等命中返回 200。
func (h *Handler) CreateMessage(c *gin.Context) {
	chatID, err := ids.Parse(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, gateway.MaxHTTPBodyBytes+4096)
	var req struct {
		ClientID string `json:"clientId"`
		Body     string `json:"body"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gateway.CodeValidation, "message": "invalid payload"})
		return
	}
	res, err := h.gw.CreateMessage(c.Request.Context(), auth.GetUserID(c), gateway.SendInput{
		ChatID:   chatID,
		ClientID: req.ClientID,
		Body:     req.Body,
	}, gateway.SourceHTTP)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	c.JSON(status, res)
}

// ListMessages 处理 GET /chats/:id/messages，仅成员可读。
func (h *Handler) ListMessages(c *gin.Context) {
	chatID, err := ids.Parse(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	var before ids.ID
	if raw := c.Query("before"); raw != "" {
		if before, err = ids.Parse(raw); err != nil {
			writeError(c, err)
			return
		}
	}

	ctx := c.Request.Context()
	member, err := h.chats.IsMember(ctx, auth.GetUserID(c), chatID)
	if err != nil {
		writeError(c, err)
		return
	}
	if !member {
		writeError(c, gateway.ErrForbidden)
		return
	}
	msgs, err := h.msgs.ListByChat(ctx, chatID, limit, before)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]gateway.MessageView, 0, len(msgs))
	for i := range msgs {
		out = append(out, gateway.ViewOf(&msgs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}
