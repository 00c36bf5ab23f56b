package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/jonzim-cmd/kura-training-sub000/pkg/event"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/kernel"
)

// newHandler wires the HTTP surface over the kernel.
func newHandler(k *kernel.Kernel) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /v1/write", func(w http.ResponseWriter, r *http.Request) {
		var req event.WriteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
			return
		}
		resp, err := k.WriteWithProof(r.Context(), &req)
		if err != nil {
			slog.ErrorContext(r.Context(), "write failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}
		status := http.StatusOK
		if !resp.Accepted {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, resp)
	})

	mux.HandleFunc("POST /v1/confirmations", func(w http.ResponseWriter, r *http.Request) {
		var req event.WriteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
			return
		}
		token, err := k.RequestConfirmation(r.Context(), &req)
		if err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"confirmation_token": token})
	})

	mux.HandleFunc("POST /v1/drafts/{id}/promote", draftHandler(k, "promote"))
	mux.HandleFunc("POST /v1/drafts/{id}/resolve", draftHandler(k, "resolve"))
	mux.HandleFunc("POST /v1/drafts/{id}/dismiss", draftHandler(k, "dismiss"))

	return mux
}

func draftHandler(k *kernel.Kernel, action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		draftID := r.PathValue("id")
		userID := r.URL.Query().Get("user_id")
		if draftID == "" || userID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "draft id and user_id are required"})
			return
		}

		var receipts []event.WriteReceipt
		var err error
		switch action {
		case "promote":
			receipts, err = k.Drafts().Promote(r.Context(), userID, draftID)
		case "resolve":
			receipts, err = k.Drafts().ResolveAsObservation(r.Context(), userID, draftID)
		default:
			receipts, err = k.Drafts().Dismiss(r.Context(), userID, draftID)
		}
		if err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"receipts": receipts})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
