package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	apperrors "github.com/louisbranch/folio/internal/platform/errors"
	"github.com/louisbranch/folio/internal/services/edge/domain"
	"github.com/louisbranch/folio/internal/services/edge/lifecycle"
	"github.com/louisbranch/folio/internal/services/edge/storage"
)

const (
	adminTokenIssuer   = "folio-edge"
	adminTokenAudience = "folio-edge-admin"

	defaultEventLimit = 50
	maxEventLimit     = 500
)

// AdminConfig wires the admin API.
type AdminConfig struct {
	// Secret signs HS256 admin tokens. Empty disables the admin API.
	Secret     []byte
	Controller *lifecycle.Controller
	// Events is optional; without it /_edge/events answers 404.
	Events storage.TelemetryStore
	Now    func() time.Time
}

type adminClaims struct {
	jwt.RegisteredClaims
}

// IssueAdminToken signs an admin bearer token for subject valid for ttl.
func IssueAdminToken(secret []byte, subject string, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("admin token secret is required")
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", errors.New("admin token subject is required")
	}
	if ttl <= 0 {
		return "", errors.New("admin token ttl must be positive")
	}
	claims := adminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    adminTokenIssuer,
			Audience:  jwt.ClaimStrings{adminTokenAudience},
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign admin token: %w", err)
	}
	return signed, nil
}

// NewAdminHandler returns the admin API, or nil when no secret is set.
func NewAdminHandler(cfg AdminConfig) http.Handler {
	if len(cfg.Secret) == 0 || cfg.Controller == nil {
		return nil
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	h := &adminHandler{cfg: cfg}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+AdminPathPrefix+"status", h.status)
	mux.HandleFunc("GET "+AdminPathPrefix+"events", h.events)
	return h.requireToken(mux)
}

type adminHandler struct {
	cfg AdminConfig
}

func (h *adminHandler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h.verify(r.Header.Get("Authorization")); err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="folio-edge"`)
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *adminHandler) verify(header string) error {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return apperrors.New(apperrors.CodeAdminTokenMissing, "bearer token is required")
	}

	var claims adminClaims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(token), &claims, func(*jwt.Token) (any, error) {
		return h.cfg.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(adminTokenIssuer),
		jwt.WithAudience(adminTokenAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(h.cfg.Now),
	)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeAdminTokenInvalid, "admin token is invalid", err)
	}
	return nil
}

type statusResponse struct {
	Active    bool           `json:"active"`
	Version   string         `json:"version,omitempty"`
	State     string         `json:"state,omitempty"`
	Policies  []string       `json:"policies,omitempty"`
	SeedPaths []string       `json:"seed_paths,omitempty"`
	Tiers     []tierResponse `json:"tiers"`
}

type tierResponse struct {
	Name    string `json:"name"`
	Purpose string `json:"purpose,omitempty"`
	Known   bool   `json:"known"`
	Entries int    `json:"entries"`
}

func (h *adminHandler) status(w http.ResponseWriter, r *http.Request) {
	active := h.cfg.Controller.Active()
	if active == nil {
		writeJSON(w, http.StatusOK, statusResponse{Tiers: []tierResponse{}})
		return
	}

	rt := active.Router()
	store := rt.Store()
	names, err := store.Tiers(r.Context())
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeStorageUnavailable, "list tiers", err))
		return
	}
	known := rt.Tiers()
	tiers := make([]tierResponse, 0, len(names))
	for _, name := range names {
		keys, err := store.Keys(r.Context(), name)
		if err != nil {
			writeError(w, apperrors.Wrap(apperrors.CodeStorageUnavailable, "list keys", err))
			return
		}
		purpose, _, _ := domain.ParseTierName(name)
		tiers = append(tiers, tierResponse{
			Name:    name,
			Purpose: purpose,
			Known:   known.Known(name),
			Entries: len(keys),
		})
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Active:    true,
		Version:   active.Version(),
		State:     string(active.State()),
		Policies:  rt.Policies(),
		SeedPaths: active.SeedPaths(),
		Tiers:     tiers,
	})
}

type eventResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Severity  string    `json:"severity"`
	Tier      string    `json:"tier,omitempty"`
	Key       string    `json:"key,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *adminHandler) events(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Events == nil {
		writeError(w, apperrors.New(apperrors.CodeEventsNotRecorded, "this storage backend does not record events"))
		return
	}
	limit := defaultEventLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxEventLimit {
			writeError(w, apperrors.WithMetadata(apperrors.CodeInvalidRequestLimit,
				fmt.Sprintf("limit must be between 1 and %d", maxEventLimit),
				map[string]string{"limit": raw}))
			return
		}
		limit = parsed
	}

	events, err := h.cfg.Events.ListTelemetryEvents(r.Context(), limit)
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeStorageUnavailable, "list events", err))
		return
	}
	out := make([]eventResponse, 0, len(events))
	for _, evt := range events {
		out = append(out, eventResponse{
			ID:        evt.ID,
			Name:      evt.Name,
			Severity:  evt.Severity,
			Tier:      evt.Tier,
			Key:       evt.Key,
			Message:   evt.Message,
			Timestamp: evt.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	message := http.StatusText(code.HTTPStatus())
	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) {
		message = domainErr.Message
	}
	writeJSON(w, code.HTTPStatus(), map[string]errorBody{
		"error": {Code: string(code), Message: message},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode admin response: %v", err)
	}
}
