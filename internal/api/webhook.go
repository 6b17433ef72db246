package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"tlsync/internal/logs"
	"tlsync/internal/models"
	"tlsync/internal/tlink"
)

// POST /api/webhooks/tlink
func (h *HTTP) ingestPush(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 8<<20))
	if err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad request", "cannot read body", nil)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil || len(payload) == 0 {
		models.WriteProblem(w, http.StatusBadRequest, "Bad request", "invalid or empty JSON body", nil)
		return
	}

	if !verifySignature(h.opts.WebhookSecret, raw, r.Header.Get(h.opts.SignatureHeader)) {
		models.WriteProblem(w, http.StatusUnauthorized, "Unauthorized", "invalid webhook signature", nil)
		return
	}

	stored, err := h.syncer.ProcessPush(r.Context(), payload)
	if err != nil {
		var vErr *tlink.ValidationError
		if errors.As(err, &vErr) {
			models.WriteProblem(w, http.StatusBadRequest, "Validation failed", vErr.Msg, nil)
			return
		}
		logs.Logger.Errorf("webhook push store failed: %v", err)
		models.WriteProblem(w, http.StatusInternalServerError, "Storage failure", "could not store push payload", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":         "ok",
		"storedReadings": stored,
	})
}

// verifySignature сверяет HMAC-SHA256 тела с подписью из заголовка.
// Поддерживаются оба вида: "sha256=<hex>" и голый "<hex>".
// Без настроенного секрета проверка всегда проходит.
func verifySignature(secret string, payload []byte, incoming string) bool {
	if secret == "" {
		return true
	}
	if incoming == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	parts := strings.SplitN(incoming, "=", 2)
	provided := strings.TrimSpace(parts[len(parts)-1])
	return hmac.Equal([]byte(expected), []byte(provided))
}
