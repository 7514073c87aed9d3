package stats

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/adjei-dev/drivetrack-server/cmd/models"
	"github.com/adjei-dev/drivetrack-server/cmd/utils"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

type StatsHandler struct {
	db *gorm.DB
}

func NewStatsHandler(db *gorm.DB) *StatsHandler {
	return &StatsHandler{db: db}
}

func (h *StatsHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/stats/files/{fileId}/history", h.GetFileHistory).Methods("GET")
}

// GetFileHistory rolls the file's finalized session forms up into the trend
// series, mistake heatmap and moving average used by the history views.
func (h *StatsHandler) GetFileHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	fileID, err := strconv.ParseUint(vars["fileId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid file ID", http.StatusBadRequest)
		return
	}

	var file models.File
	if err := h.db.First(&file, fileID).Error; err != nil {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	caller, err := utils.GetCaller(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if !caller.CanAccessFile(&file) {
		http.Error(w, "Not allowed to view this file", http.StatusForbidden)
		return
	}

	window := 3
	if raw := r.URL.Query().Get("window"); raw != "" {
		window, err = strconv.Atoi(raw)
		if err != nil || window < 1 {
			http.Error(w, "Invalid moving average window", http.StatusBadRequest)
			return
		}
	}

	var forms []models.SessionForm
	if err := h.db.
		Joins("JOIN appointments ON appointments.id = session_forms.appointment_id").
		Where("appointments.file_id = ? AND session_forms.is_locked = ?", fileID, true).
		Order("appointments.date, appointments.start_time").
		Preload("Appointment").
		Find(&forms).Error; err != nil {
		http.Error(w, "Error retrieving session forms", http.StatusInternalServerError)
		return
	}

	sessions := make([]FinalizedSession, 0, len(forms))
	for _, form := range forms {
		session := FinalizedSession{Mistakes: form.Mistakes}
		if form.Appointment != nil {
			session.Date = form.Appointment.Date
		}
		if form.TotalPoints != nil {
			session.Total = *form.TotalPoints
		}
		sessions = append(sessions, session)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"series":         BuildSeries(sessions),
		"heatmap":        BuildHeatmap(sessions),
		"moving_average": MovingAverage(sessions, window),
	})
}
