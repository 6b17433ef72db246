package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"tlsync/internal/repo"
	"tlsync/internal/synclog"
	"tlsync/internal/tlink"
)

// Options — параметры HTTP-слоя.
type Options struct {
	WebhookSecret   string
	SignatureHeader string
	AccountID       int64 // аккаунт TLINK, от имени которого пишется журнал
	DefaultPageSize int
	MaxPageSize     int
	HistoryLimit    int
}

type HTTP struct {
	opts    Options
	store   *repo.TelemetryStore
	syncer  *tlink.Syncer
	journal *synclog.Store
}

func NewHTTP(opts Options, store *repo.TelemetryStore, syncer *tlink.Syncer, journal *synclog.Store) *HTTP {
	if opts.SignatureHeader == "" {
		opts.SignatureHeader = "X-TLink-Signature"
	}
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = 25
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = 100
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}
	return &HTTP{opts: opts, store: store, syncer: syncer, journal: journal}
}

func (h *HTTP) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/webhooks/tlink", h.ingestPush).Methods(http.MethodPost)

	api.HandleFunc("/devices", h.listDevices).Methods(http.MethodGet)
	api.HandleFunc("/devices/{deviceID:[0-9]+}/latest", h.deviceLatest).Methods(http.MethodGet)
	api.HandleFunc("/devices/{deviceID:[0-9]+}/history", h.deviceHistory).Methods(http.MethodGet)

	api.HandleFunc("/logs/{deviceID:[0-9]+}", h.deviceLogs).Methods(http.MethodGet)
	api.HandleFunc("/logs/{deviceID:[0-9]+}/{sensorID:[0-9]+}", h.deviceLogs).Methods(http.MethodGet)
}

// ───────────────────────── парсинг query-параметров ─────────────────────────

func (h *HTTP) pageParams(r *http.Request) (page, pageSize int) {
	page = queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}
	pageSize = queryInt(r, "pageSize", h.opts.DefaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > h.opts.MaxPageSize {
		pageSize = h.opts.MaxPageSize
	}
	return page, pageSize
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func queryTime(r *http.Request, name string) *time.Time {
	return parseTime(r.URL.Query().Get(name))
}

func parseTime(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range []string{
		"2006-01-02 15:04:05",
		"2006/01/02 15:04:05",
		"2006-01-02T15:04:05",
		time.RFC3339,
	} {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
