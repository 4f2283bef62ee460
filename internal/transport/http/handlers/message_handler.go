package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/vedran77/orderchat/internal/domain"
	"github.com/vedran77/orderchat/internal/service"
	"github.com/vedran77/orderchat/internal/transport/http/middleware"
	"github.com/vedran77/orderchat/pkg/validator"
)

type MessageHandler struct {
	chat   *service.ChatService
	logger zerolog.Logger
}

func NewMessageHandler(chat *service.ChatService, logger zerolog.Logger) *MessageHandler {
	return &MessageHandler{chat: chat, logger: logger}
}

type sendMessageRequest struct {
	Body string `json:"body"`
}

type historyResponse struct {
	Messages []domain.Message `json:"messages"`
	LastSeq  int64            `json:"last_seq"`
}

type readResponse struct {
	Receipts []domain.ReadReceipt `json:"receipts"`
}

// Send posts a message without a live connection; it is still broadcast to
// everyone in the order room.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	orderID, errs := validator.ValidateOrderID(chi.URLParam(r, "id"))
	if errs.HasErrors() {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid order ID")
		return
	}

	var input sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	msg, err := h.chat.Send(r.Context(), service.SendInput{
		OrderID: orderID,
		Sender:  identity,
		Body:    input.Body,
	})
	if err != nil {
		writeServiceError(w, h.logger, "send message", err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

// History returns the order's messages, optionally only those after ?after_seq.
func (h *MessageHandler) History(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	orderID, errs := validator.ValidateOrderID(chi.URLParam(r, "id"))
	if errs.HasErrors() {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid order ID")
		return
	}

	var afterSeq int64
	if s := r.URL.Query().Get("after_seq"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_CURSOR", "after_seq must be a non-negative integer")
			return
		}
		afterSeq = n
	}

	msgs, err := h.chat.GetHistory(r.Context(), orderID, identity, afterSeq)
	if err != nil {
		writeServiceError(w, h.logger, "get history", err)
		return
	}

	lastSeq := afterSeq
	if n := len(msgs); n > 0 {
		lastSeq = msgs[n-1].Seq
	}
	writeJSON(w, http.StatusOK, historyResponse{Messages: msgs, LastSeq: lastSeq})
}

// MarkAllRead marks every unread message from the other side of the order as read.
func (h *MessageHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	orderID, errs := validator.ValidateOrderID(chi.URLParam(r, "id"))
	if errs.HasErrors() {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid order ID")
		return
	}

	receipts, err := h.chat.MarkAllRead(r.Context(), orderID, identity)
	if err != nil {
		writeServiceError(w, h.logger, "mark all read", err)
		return
	}

	writeJSON(w, http.StatusOK, readResponse{Receipts: receipts})
}

// MarkRead marks a single message as read. Already-read messages and the
// caller's own side's messages produce an empty receipt list.
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	messageID := chi.URLParam(r, "id")
	if messageID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid message ID")
		return
	}

	receipt, err := h.chat.MarkRead(r.Context(), messageID, identity)
	if err != nil {
		writeServiceError(w, h.logger, "mark read", err)
		return
	}

	resp := readResponse{Receipts: []domain.ReadReceipt{}}
	if receipt != nil {
		resp.Receipts = append(resp.Receipts, *receipt)
	}
	writeJSON(w, http.StatusOK, resp)
}
