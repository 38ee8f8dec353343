// Package api serves committed artifact sets over HTTP and pushes update
// notifications over WebSocket.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cgaf/gaf-engine/internal/imaging"
	"github.com/cgaf/gaf-engine/internal/model"
	"github.com/cgaf/gaf-engine/internal/store"
)

// Image kinds addressable under /gafs/{product}/images/{kind}.
const (
	ImageMidpointSummation  = "midpoint_summation"
	ImageMidpointDifference = "midpoint_difference"
	ImageOrderbook          = "orderbook"
	ImageBuy                = "buy"
	ImageSell               = "sell"
)

// Service handles read-only artifact queries.
type Service struct {
	store store.Store
	hub   *WSHub // optional
}

// NewService creates a new artifact service.
// Pass nil for hub if WebSocket updates are not needed.
func NewService(st store.Store, hub *WSHub) *Service {
	return &Service{store: st, hub: hub}
}

// Routes mounts the service's endpoints on r.
func (s *Service) Routes(r chi.Router) {
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}
	r.Get("/gafs", s.ListArtifacts)
	r.Get("/gafs/{product}", s.GetArtifacts)
	r.Get("/gafs/{product}/images/{kind}", s.GetImage)
}

// --- Response types ---

// ArtifactSummary is the list view of an artifact set, without images.
type ArtifactSummary struct {
	Product   string    `json:"product"`
	Size      int       `json:"size"`
	Midpoint  float64   `json:"midpoint"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListArtifacts handles GET /api/v1/gafs
func (s *Service) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	sets, err := s.store.ListArtifacts(r.Context())
	if err != nil {
		slog.Error("list artifacts failed", "err", err)
		writeError(w, "failed to list artifacts", http.StatusInternalServerError)
		return
	}

	out := make([]ArtifactSummary, 0, len(sets))
	for _, a := range sets {
		out = append(out, ArtifactSummary{
			Product:   a.Product,
			Size:      a.Size,
			Midpoint:  a.Midpoint,
			UpdatedAt: a.UpdatedAt,
		})
	}
	writeJSON(w, out)
}

// GetArtifacts handles GET /api/v1/gafs/{product}
func (s *Service) GetArtifacts(w http.ResponseWriter, r *http.Request) {
	a, ok := s.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, a)
}

// GetImage handles GET /api/v1/gafs/{product}/images/{kind} and serves the
// decoded PNG.
func (s *Service) GetImage(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	a, ok := s.load(w, r)
	if !ok {
		return
	}

	encoded, found := imageOf(a, kind)
	if !found {
		writeError(w, "image not found", http.StatusNotFound)
		return
	}
	raw, err := imaging.PNGBytes(encoded)
	if err != nil {
		slog.Error("stored image is corrupt", "product", a.Product, "kind", kind, "err", err)
		writeError(w, "stored image is corrupt", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Last-Modified", a.UpdatedAt.UTC().Format(http.TimeFormat))
	w.Write(raw)
}

func (s *Service) load(w http.ResponseWriter, r *http.Request) (*model.ArtifactSet, bool) {
	product := chi.URLParam(r, "product")
	if _, err := model.ParseProduct(product); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}

	a, err := s.store.GetArtifacts(r.Context(), product)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "artifacts not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		slog.Error("get artifacts failed", "product", product, "err", err)
		writeError(w, "failed to load artifacts", http.StatusInternalServerError)
		return nil, false
	}
	return a, true
}

// imageOf returns the encoded image of kind; an unknown kind and an empty
// slot are both reported as not found.
func imageOf(a *model.ArtifactSet, kind string) (string, bool) {
	var encoded string
	switch kind {
	case ImageMidpointSummation, ImageMidpointDifference:
		idx := 0
		if kind == ImageMidpointDifference {
			idx = 1
		}
		if len(a.MidpointImages) > idx {
			encoded = a.MidpointImages[idx]
		}
	case ImageOrderbook:
		encoded = a.OrderbookImage
	case ImageBuy:
		encoded = a.BuyImage
	case ImageSell:
		encoded = a.SellImage
	}
	return encoded, encoded != ""
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
