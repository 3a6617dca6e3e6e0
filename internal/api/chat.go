package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/whatson/internal/chat"
)

func handleChat(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chat.Request
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}

		reply, err := deps.Chat.Send(r.Context(), req)
		if err != nil {
			chatError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, reply)
	}
}

func handleGetSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := deps.Chat.Get(chi.URLParam(r, "id"))
		if err != nil {
			chatError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, info)
	}
}

func handleCloseSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Chat.Close(chi.URLParam(r, "id")); err != nil {
			chatError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
	}
}

func chatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, chat.ErrSessionNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, chat.ErrSessionClosed):
		httpError(w, http.StatusConflict, "session_closed", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "chat failed: %v", err)
	}
}
