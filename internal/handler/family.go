package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/family-history/internal/domain"
	"github.com/family-history/internal/ranking"
	"github.com/family-history/internal/service"
)

func familyParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "family"))
}

// criteriaFrom reads the q and class filters
func criteriaFrom(r *http.Request) ranking.Criteria {
	query := r.URL.Query()
	return ranking.Criteria{
		Query:   query.Get("q"),
		ClassID: query.Get("class"),
	}
}

// dateParam parses an optional YYYY-MM-DD query parameter
func dateParam(r *http.Request, name string) (domain.Date, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return domain.Date{}, nil
	}
	return domain.ParseDate(raw)
}

func windowParams(r *http.Request) (domain.Date, domain.Date, error) {
	from, err := dateParam(r, "from_date")
	if err != nil {
		return domain.Date{}, domain.Date{}, err
	}
	to, err := dateParam(r, "to_date")
	if err != nil {
		return domain.Date{}, domain.Date{}, err
	}
	return from, to, nil
}

// GetLatest returns the ranked rows of the most recent snapshot
func (h *Handler) GetLatest(w http.ResponseWriter, r *http.Request) {
	family := familyParam(r)
	if family == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
			return
		}
		limit = n
	}

	rows, err := h.service.Latest(r.Context(), family, criteriaFrom(r), limit)
	if err != nil {
		h.writeServiceError(w, r, "latest", err)
		return
	}
	h.writeJSON(w, http.StatusOK, rows)
}

// GetLeaderboard returns the filtered leaderboard with its podium
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	family := familyParam(r)
	if family == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	board, err := h.service.Leaderboard(r.Context(), family, criteriaFrom(r))
	if err != nil {
		h.writeServiceError(w, r, "leaderboard", err)
		return
	}
	h.writeJSON(w, http.StatusOK, board)
}

// GetSnapshots returns the snapshot dates of a family
func (h *Handler) GetSnapshots(w http.ResponseWriter, r *http.Request) {
	dates, err := h.service.Snapshots(r.Context(), familyParam(r))
	if err != nil {
		h.writeServiceError(w, r, "snapshots", err)
		return
	}
	if dates == nil {
		dates = []domain.Date{}
	}
	h.writeJSON(w, http.StatusOK, dates)
}

// GetHistory returns the history table over the requested window
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	from, to, err := windowParams(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	table, err := h.service.History(r.Context(), familyParam(r), service.HistoryQuery{
		From:     from,
		To:       to,
		Criteria: criteriaFrom(r),
	})
	if err != nil {
		h.writeServiceError(w, r, "history", err)
		return
	}
	h.writeJSON(w, http.StatusOK, table)
}

// GetPlayerByNickname returns the evolution of one player
func (h *Handler) GetPlayerByNickname(w http.ResponseWriter, r *http.Request) {
	from, to, err := windowParams(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	view, err := h.service.PlayerByNickname(r.Context(), familyParam(r), chi.URLParam(r, "nickname"), from, to)
	if err != nil {
		h.writeServiceError(w, r, "player", err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// UpdateNickname renames a member
func (h *Handler) UpdateNickname(w http.ResponseWriter, r *http.Request) {
	playerID, err := strconv.ParseInt(chi.URLParam(r, "playerID"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	var req domain.NicknameUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	member, err := h.service.UpdateNickname(r.Context(), familyParam(r), playerID, req.Nickname)
	if err != nil {
		h.writeServiceError(w, r, "update nickname", err)
		return
	}
	h.writeJSON(w, http.StatusOK, member)
}

// Import stores the gmbr and gexp exports uploaded as a multipart form
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.config.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("%w: upload too large", domain.ErrInvalidImport))
			return
		}
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: expected multipart form", domain.ErrInvalidImport))
		return
	}

	gmbr, err := formText(r, "gmbr")
	if err != nil || strings.TrimSpace(gmbr) == "" {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: gmbr file is required", domain.ErrInvalidImport))
		return
	}
	gexp, err := formText(r, "gexp")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: unreadable gexp file", domain.ErrInvalidImport))
		return
	}

	snapshotDate := r.URL.Query().Get("snapshot_date")
	if snapshotDate == "" {
		snapshotDate = r.FormValue("snapshot_date")
	}

	result, err := h.service.Import(r.Context(), domain.ImportRequest{
		Family:       familyParam(r),
		SnapshotDate: snapshotDate,
		Gmbr:         gmbr,
		Gexp:         gexp,
	})
	if err != nil {
		h.writeServiceError(w, r, "import", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// formText returns an uploaded file as text, falling back to a plain form
// field of the same name. A missing field is the empty string.
func formText(r *http.Request, field string) (string, error) {
	file, _, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return r.FormValue(field), nil
		}
		return "", err
	}
	defer file.Close()
	return readAll(file)
}

func readAll(file multipart.File) (string, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
