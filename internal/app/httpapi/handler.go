package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	app "github.com/R3E-Network/fosterhub/internal/app"
	"github.com/R3E-Network/fosterhub/internal/app/domain/sprite"
	"github.com/R3E-Network/fosterhub/internal/app/domain/wallet"
	"github.com/R3E-Network/fosterhub/internal/app/events"
	"github.com/R3E-Network/fosterhub/internal/app/metrics"
	"github.com/R3E-Network/fosterhub/internal/app/services/sprites"
	walletsvc "github.com/R3E-Network/fosterhub/internal/app/services/wallet"
	"github.com/R3E-Network/fosterhub/internal/app/storage"
	"github.com/R3E-Network/fosterhub/internal/middleware"
	"github.com/R3E-Network/fosterhub/pkg/logger"
)

const (
	// DefaultStreamInterval matches the one-minute decay granularity.
	DefaultStreamInterval = time.Minute

	maxWebhookBytes = 1 << 20

	insufficientTokensMessage = "Not enough tokens to feed the sprite."
)

// Options configures the HTTP surface.
type Options struct {
	StreamInterval time.Duration
	// FeedLimiter throttles feed requests per user. Nil disables throttling.
	FeedLimiter *middleware.RateLimiter
	Log         *logger.Logger
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app            *app.Application
	log            *logger.Logger
	streamInterval time.Duration
	upgrader       websocket.Upgrader
}

// NewHandler returns a router exposing the sprite and wallet API.
func NewHandler(application *app.Application, opts Options) http.Handler {
	if opts.Log == nil {
		opts.Log = logger.NewDefault("httpapi")
	}
	if opts.StreamInterval <= 0 {
		opts.StreamInterval = DefaultStreamInterval
	}
	h := &handler{
		app:            application,
		log:            opts.Log,
		streamInterval: opts.StreamInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origins are policed by the CORS middleware.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	var feed http.Handler = http.HandlerFunc(h.feedSprite)
	if opts.FeedLimiter != nil {
		feed = opts.FeedLimiter.Handler(feed)
	}
	feed = middleware.RequireUserID(feed)

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/events", h.recentEvents).Methods(http.MethodGet)

	r.HandleFunc("/users/{userID}/sprites", h.fosterSprite).Methods(http.MethodPost)
	r.HandleFunc("/users/{userID}/sprites", h.listSprites).Methods(http.MethodGet)
	r.HandleFunc("/users/{userID}/wallet", h.getWallet).Methods(http.MethodGet)

	r.HandleFunc("/sprites/{spriteID}", h.getSprite).Methods(http.MethodGet)
	r.Handle("/sprites/{spriteID}", middleware.RequireUserID(http.HandlerFunc(h.releaseSprite))).Methods(http.MethodDelete)
	r.HandleFunc("/sprites/{spriteID}/update-status", h.updateStatus).Methods(http.MethodGet)
	r.Handle("/sprites/{spriteID}/feed", feed).Methods(http.MethodPost)
	r.HandleFunc("/sprites/{spriteID}/stream", h.streamStatus).Methods(http.MethodGet)

	r.HandleFunc("/webhooks/payments", h.paymentWebhook).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, fmt.Errorf("no route for %s", r.URL.Path))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	})

	return middleware.UserIdentity(r)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"services": h.app.Services(),
	})
}

func (h *handler) fosterSprite(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	var payload struct {
		AnimalID string `json:"animal_id"`
		Breed    string `json:"breed"`
		Colour   string `json:"colour"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sp, err := h.app.Sprites.Foster(r.Context(), userID, payload.AnimalID, payload.Breed, payload.Colour)
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, sp)
}

func (h *handler) listSprites(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Sprites.List(r.Context(), mux.Vars(r)["userID"])
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}
	if list == nil {
		list = []sprite.Sprite{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) getSprite(w http.ResponseWriter, r *http.Request) {
	sp, err := h.app.Sprites.Get(r.Context(), mux.Vars(r)["spriteID"])
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sp)
}

func (h *handler) releaseSprite(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if err := h.app.Sprites.Release(r.Context(), mux.Vars(r)["spriteID"], userID); err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.app.Sprites.Refresh(r.Context(), mux.Vars(r)["spriteID"])
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *handler) feedSprite(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	out, err := h.app.Sprites.Feed(r.Context(), mux.Vars(r)["spriteID"], userID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, out)
	case errors.Is(err, sprite.ErrInsufficientFunds):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   insufficientTokensMessage,
		})
	default:
		writeServiceError(w, err, http.StatusInternalServerError)
	}
}

func (h *handler) getWallet(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	balance, err := h.app.Wallets.Balance(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}
	txs, err := h.app.Wallets.Transactions(r.Context(), userID, limit)
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	if txs == nil {
		txs = []wallet.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"wallet":       balance,
		"transactions": txs,
	})
}

func (h *handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}

	result, err := h.app.Wallets.HandlePaymentEvent(r.Context(), body, h.app.TokensPerPurchase())
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) recentEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if limit <= 0 {
		limit = 50
	}

	var list []events.Event
	if t := r.URL.Query().Get("type"); t != "" {
		list = h.app.Events.RecentByType(events.Type(t), limit)
	} else {
		list = h.app.Events.Recent(limit)
	}
	if list == nil {
		list = []events.Event{}
	}
	writeJSON(w, http.StatusOK, list)
}

// statusFor maps service errors onto HTTP codes, falling back when the error
// carries no known sentinel.
func statusFor(err error, fallback int) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrAnimalFostered):
		return http.StatusConflict
	case errors.Is(err, sprites.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, sprite.ErrInsufficientFunds),
		errors.Is(err, walletsvc.ErrInvalidPaymentEvent):
		return http.StatusBadRequest
	default:
		return fallback
	}
}

func writeServiceError(w http.ResponseWriter, err error, fallback int) {
	writeError(w, statusFor(err, fallback), err)
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return v, nil
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
