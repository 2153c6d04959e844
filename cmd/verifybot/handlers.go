package main

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/verifybot/internal/store"
	"github.com/knadh/verifybot/pkg/models"
)

const maxRecords = 1000

type httpResp struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type statsResp struct {
	Pending   int       `json:"pending_verifications"`
	Queued    int       `json:"queued_mails"`
	NextFlush time.Time `json:"next_flush"`
}

func handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	var (
		app = r.Context().Value("app").(*App)
	)

	if err := app.store.Ping(r.Context()); err != nil {
		app.lo.Error("error pinging store", "error", err)
		sendErrorResponse(w, "Unable to reach store.", http.StatusServiceUnavailable, nil)
		return
	}

	sendResponse(w, "OK")
}

// handleGetStats returns the number of pending verifications and
// queued mails.
func handleGetStats(w http.ResponseWriter, r *http.Request) {
	var (
		app = r.Context().Value("app").(*App)
	)

	sendResponse(w, statsResp{
		Pending:   app.cache.Len(),
		Queued:    app.queue.Len(),
		NextFlush: app.queue.NextFlush(),
	})
}

// handleGetRecords returns verification records in the order they were
// made, optionally filtered by user_id or identity.
func handleGetRecords(w http.ResponseWriter, r *http.Request) {
	var (
		app      = r.Context().Value("app").(*App)
		userID   = r.URL.Query().Get("user_id")
		identity = r.URL.Query().Get("identity")
		limit    = maxRecords
	)

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxRecords {
			sendErrorResponse(w, "Invalid `limit` value.", http.StatusBadRequest, nil)
			return
		}
		limit = n
	}

	out := []models.Record{}
	err := app.store.Stream(r.Context(), func(rec models.Record) error {
		if userID != "" && rec.UserID != userID {
			return nil
		}
		if identity != "" && !strings.EqualFold(rec.Identity, identity) {
			return nil
		}

		out = append(out, rec)
		if len(out) >= limit {
			return store.ErrStop
		}
		return nil
	})
	if err != nil {
		app.lo.Error("error fetching records", "error", err)
		sendErrorResponse(w, "Error fetching records.", http.StatusInternalServerError, nil)
		return
	}

	sendResponse(w, out)
}

// wrap is a middleware that wraps HTTP handlers and injects the "app" context.
func wrap(app *App, next http.HandlerFunc) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), "app", app)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sendResponse sends a JSON envelope to the HTTP response.
func sendResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	out, err := json.Marshal(httpResp{Status: "success", Data: data})
	if err != nil {
		sendErrorResponse(w, "Internal Server Error.", http.StatusInternalServerError, nil)
		return
	}

	w.Write(out)
}

// sendErrorResponse sends a JSON error envelope to the HTTP response.
func sendErrorResponse(w http.ResponseWriter, message string, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)

	resp := httpResp{Status: "error",
		Message: message,
		Data:    data}
	out, _ := json.Marshal(resp)
	w.Write(out)
}

// auth is a simple authentication middleware.
func auth(authMap map[string]string, next http.HandlerFunc) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const authBasic = "Basic"
		var (
			pair  [][]byte
			delim = []byte(":")

			h = r.Header.Get("Authorization")
		)

		// Basic auth scheme.
		if !strings.HasPrefix(h, authBasic) {
			sendErrorResponse(w, "Missing Basic Authorization header.",
				http.StatusUnauthorized, nil)
			return
		}

		payload, err := base64.StdEncoding.DecodeString(strings.TrimSpace(h[len(authBasic):]))
		if err != nil {
			sendErrorResponse(w, "Invalid Base64 value in Basic Authorization header.",
				http.StatusUnauthorized, nil)
			return
		}

		pair = bytes.SplitN(payload, delim, 2)
		if len(pair) != 2 {
			sendErrorResponse(w, "Invalid value in Basic Authorization header.",
				http.StatusUnauthorized, nil)
			return
		}

		var (
			username = string(pair[0])
			password = pair[1]
		)
		p, ok := authMap[username]
		if !ok || subtle.ConstantTimeCompare([]byte(p), password) != 1 {
			sendErrorResponse(w, "Invalid API credentials.",
				http.StatusUnauthorized, nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
