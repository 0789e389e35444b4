package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/poolify/poolify/internal/model"
	"github.com/poolify/poolify/internal/service"
	logger "github.com/poolify/poolify/middleware/log"
)

var errSystemFromClient = service.NewError(service.ErrForbidden, "system messages cannot be posted")

type ChatHandler struct {
	chatService service.IChatService
	logger      *logger.Logger
}

func NewChatHandler(chatService service.IChatService, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		logger:      log.Named("chat-handler"),
	}
}

// PostMessage appends a text or payment message from the caller.
func (h *ChatHandler) PostMessage(c *gin.Context) {
	var req service.PostMessageRequest
	if !bindJSON(c, &req) {
		return
	}

	kind := model.MessageKind(strings.ToLower(strings.TrimSpace(req.Type)))
	if kind == model.MessageKindSystem {
		fail(c, h.logger, errSystemFromClient)
		return
	}

	msg, err := h.chatService.PostMessage(c.Request.Context(), service.PostMessageInput{
		PoolID:         c.Param("id"),
		SenderID:       currentUser(c),
		Kind:           kind,
		Text:           req.Text,
		Amount:         req.Amount,
		PaymentFor:     req.PaymentFor,
		PaymentAddress: req.PaymentAddress,
	})
	if err != nil {
		fail(c, h.logger, err)
		return
	}

	ok(c, http.StatusOK, msg, gin.H{"messageId": strconv.FormatInt(msg.ID, 10)})
}

// ListMessages returns one page in chat order. ?after= resumes after a
// sequence id, ?limit= shrinks the page.
func (h *ChatHandler) ListMessages(c *gin.Context) {
	var (
		after int64
		limit int
		err   error
	)
	if s := c.Query("after"); s != "" {
		after, err = strconv.ParseInt(s, 10, 64)
		if err != nil || after < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid after"})
			return
		}
	}
	if s := c.Query("limit"); s != "" {
		limit, err = strconv.Atoi(s)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
	}

	msgs, err := h.chatService.ListMessages(c.Request.Context(), c.Param("id"), after, limit)
	if err != nil {
		fail(c, h.logger, err)
		return
	}

	ok(c, http.StatusOK, msgs, gin.H{"count": len(msgs)})
}
