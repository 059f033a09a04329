package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/resona-audio/resona/internal/core/domain"
	"github.com/resona-audio/resona/internal/core/ports"
)

const (
	errCodeDimensionMismatch = "DIMENSION_MISMATCH"
	errCodeExtractionFailed  = "EXTRACTION_FAILED"
)

// recommendRequest defines what the client sends us. Exactly one of Vector
// and AudioPath is required; TrackID is optional and defaults to a fresh
// uuid so batch collaborators can correlate results.
type recommendRequest struct {
	TrackID   string    `json:"track_id"`
	AudioPath string    `json:"audio_path"`
	Vector    []float32 `json:"vector"`
}

type recommendResponse struct {
	TrackID string              `json:"track_id"`
	Result  domain.ResultRecord `json:"result"`
}

// Recommend handles POST /api/recommend.
func (h *Handler) Recommend(w http.ResponseWriter, r *http.Request) {
	if !isJSONContentType(r) {
		writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}

	var req recommendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if (len(req.Vector) == 0) == (req.AudioPath == "") {
		writeError(w, http.StatusBadRequest, "exactly one of vector and audio_path is required")
		return
	}

	if req.TrackID == "" {
		req.TrackID = uuid.NewString()
	}

	var (
		res domain.RecommendationResult
		err error
	)
	if len(req.Vector) > 0 {
		res, err = h.svc.Recommend(r.Context(), req.TrackID, req.Vector)
	} else {
		res, err = h.svc.RecommendFile(r.Context(), req.TrackID, req.AudioPath)
	}
	if err != nil {
		var dimErr domain.DimensionMismatchError
		if errors.As(err, &dimErr) {
			writeErrorWithCode(w, http.StatusUnprocessableEntity, dimErr.Error(), errCodeDimensionMismatch)
			return
		}
		if errors.Is(err, ports.ErrExtractionFailed) {
			writeErrorWithCode(w, http.StatusBadGateway, err.Error(), errCodeExtractionFailed)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, recommendResponse{
		TrackID: req.TrackID,
		Result:  domain.NewResultRecord(res),
	})
}
