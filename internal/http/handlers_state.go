package http

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
	"github.com/kjstillabower/weather-dashboard/internal/units"
	"github.com/kjstillabower/weather-dashboard/internal/validation"
)

// ListFavorites handles GET /api/favorites.
func (h *Handler) ListFavorites(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, citiesResponse{Cities: h.state.Favorites()})
}

type favoriteRequest struct {
	Name    string  `json:"name"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// AddFavorite handles POST /api/favorites. The id is derived from the
// coordinates; adding a city twice is a no-op answered with 200.
func (h *Handler) AddFavorite(w http.ResponseWriter, r *http.Request) {
	var req favoriteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be a city object")
		return
	}
	city := models.NewCity(strings.TrimSpace(req.Name), strings.TrimSpace(req.Country), req.Lat, req.Lon)
	if err := validation.ValidateCity(city); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return
	}

	status := http.StatusOK
	if h.state.AddFavorite(city) {
		status = http.StatusCreated
		observability.LoggerFromContext(r.Context()).Info("favorite added", zap.String("city_id", city.ID))
	}
	writeJSON(w, status, citiesResponse{Cities: h.state.Favorites()})
}

// RemoveFavorite handles DELETE /api/favorites/{cityId}.
func (h *Handler) RemoveFavorite(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["cityId"]
	if !h.state.RemoveFavorite(id) {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "city is not a favorite")
		return
	}
	observability.LoggerFromContext(r.Context()).Info("favorite removed", zap.String("city_id", id))
	w.WriteHeader(http.StatusNoContent)
}

type unitResponse struct {
	Unit   units.Unit `json:"unit"`
	Suffix string     `json:"suffix"`
}

func newUnitResponse(u units.Unit) unitResponse {
	return unitResponse{Unit: u, Suffix: units.TemperatureSuffix(u)}
}

// GetUnit handles GET /api/settings/unit.
func (h *Handler) GetUnit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newUnitResponse(h.state.Unit()))
}

// SetUnit handles PUT /api/settings/unit with body {"unit": "celsius"|"fahrenheit"}.
func (h *Handler) SetUnit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Unit string `json:"unit"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be {\"unit\": ...}")
		return
	}
	u, ok := units.ParseUnit(req.Unit)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "INVALID_UNIT", "unit must be celsius or fahrenheit")
		return
	}
	h.state.SetUnit(u)
	writeJSON(w, http.StatusOK, newUnitResponse(u))
}

// ToggleUnit handles POST /api/settings/unit/toggle.
func (h *Handler) ToggleUnit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newUnitResponse(h.state.ToggleUnit()))
}
