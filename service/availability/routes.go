package availability

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/adjei-dev/drivetrack-server/cmd/models"
	"github.com/adjei-dev/drivetrack-server/cmd/utils"
	"github.com/adjei-dev/drivetrack-server/service/scheduling"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

type AvailabilityHandler struct {
	db     *gorm.DB
	locker *scheduling.ResourceLocker
}

func NewAvailabilityHandler(db *gorm.DB, locker *scheduling.ResourceLocker) *AvailabilityHandler {
	return &AvailabilityHandler{db: db, locker: locker}
}

func (h *AvailabilityHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/instructors/{instructorId}/availability", h.CreateInterval).Methods("POST")
	router.HandleFunc("/instructors/{instructorId}/availability", h.ListFutureIntervals).Methods("GET")
	router.HandleFunc("/instructors/{instructorId}/availability/{id}", h.UpdateInterval).Methods("PUT")
	router.HandleFunc("/instructors/{instructorId}/availability/{id}", h.DeleteInterval).Methods("DELETE")
}

type intervalRequest struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// parseInterval validates the raw payload into (date, startMinute, endMinute).
func parseInterval(req intervalRequest) (time.Time, int, int, string) {
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return time.Time{}, 0, 0, "Invalid date format. Use YYYY-MM-DD"
	}
	start, err := scheduling.ParseClock(req.StartTime)
	if err != nil {
		return time.Time{}, 0, 0, "Invalid start time. Use HH:MM"
	}
	end, err := scheduling.ParseClock(req.EndTime)
	if err != nil {
		return time.Time{}, 0, 0, "Invalid end time. Use HH:MM"
	}
	if start >= end {
		return time.Time{}, 0, 0, "End time must be after start time"
	}
	return scheduling.DateOnly(date), start, end, ""
}

func (h *AvailabilityHandler) loadInstructor(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	vars := mux.Vars(r)
	instructorID, err := strconv.ParseUint(vars["instructorId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid instructor ID", http.StatusBadRequest)
		return nil, false
	}

	var instructor models.User
	if err := h.db.Where("id = ? AND role = ?", instructorID, models.RoleInstructor).First(&instructor).Error; err != nil {
		http.Error(w, "Instructor not found", http.StatusNotFound)
		return nil, false
	}

	caller, err := utils.GetCaller(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	if !caller.CanActForInstructor(&instructor) {
		http.Error(w, "Not allowed to manage this instructor's availability", http.StatusForbidden)
		return nil, false
	}
	return &instructor, true
}

// hasOverlap applies the half-open overlap rule against the instructor's own
// same-date intervals, excluding the one being edited.
func (h *AvailabilityHandler) hasOverlap(instructorID uint, date time.Time, start, end int, excludeID uint) (bool, error) {
	var existing []models.AvailabilityInterval
	query := h.db.Where("instructor_id = ? AND date = ?", instructorID, date)
	if excludeID != 0 {
		query = query.Where("id != ?", excludeID)
	}
	if err := query.Find(&existing).Error; err != nil {
		return false, err
	}
	for _, interval := range existing {
		otherStart, err := scheduling.ParseClock(interval.StartTime)
		if err != nil {
			return false, err
		}
		otherEnd, err := scheduling.ParseClock(interval.EndTime)
		if err != nil {
			return false, err
		}
		if scheduling.Overlaps(start, end, otherStart, otherEnd) {
			return true, nil
		}
	}
	return false, nil
}

// hasBookings is the coarse guard on edits and deletes: any committed
// appointment of this instructor intersecting the interval's window blocks
// the change, whether or not it was booked through this interval.
func (h *AvailabilityHandler) hasBookings(instructorID uint, date time.Time, start, end int) (bool, error) {
	checker := scheduling.NewConflictChecker(h.db)
	return checker.HasConflict(scheduling.KindInstructor, instructorID, date, start, end, 0)
}

func (h *AvailabilityHandler) CreateInterval(w http.ResponseWriter, r *http.Request) {
	instructor, ok := h.loadInstructor(w, r)
	if !ok {
		return
	}

	var req intervalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	date, start, end, msg := parseInterval(req)
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}
	if date.Before(scheduling.Today()) {
		http.Error(w, "Cannot create availability in the past", http.StatusBadRequest)
		return
	}

	release := h.locker.Lock(scheduling.ResourceKey(scheduling.KindInstructor, instructor.ID, date))
	defer release()

	overlap, err := h.hasOverlap(instructor.ID, date, start, end, 0)
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	if overlap {
		http.Error(w, "Time slot overlaps with existing availability", http.StatusBadRequest)
		return
	}

	interval := models.AvailabilityInterval{
		InstructorID: instructor.ID,
		Date:         date,
		StartTime:    scheduling.FormatClock(start),
		EndTime:      scheduling.FormatClock(end),
	}

	if err := h.db.Create(&interval).Error; err != nil {
		http.Error(w, "Error creating availability", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(interval)
}

func (h *AvailabilityHandler) ListFutureIntervals(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	instructorID, err := strconv.ParseUint(vars["instructorId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid instructor ID", http.StatusBadRequest)
		return
	}

	var intervals []models.AvailabilityInterval
	if err := h.db.Where("instructor_id = ? AND date >= ?", instructorID, scheduling.Today()).
		Order("date, start_time").
		Find(&intervals).Error; err != nil {
		http.Error(w, "Error retrieving availability", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(intervals)
}

func (h *AvailabilityHandler) UpdateInterval(w http.ResponseWriter, r *http.Request) {
	instructor, ok := h.loadInstructor(w, r)
	if !ok {
		return
	}

	vars := mux.Vars(r)
	intervalID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid availability ID", http.StatusBadRequest)
		return
	}

	var interval models.AvailabilityInterval
	if err := h.db.Where("id = ? AND instructor_id = ?", intervalID, instructor.ID).First(&interval).Error; err != nil {
		http.Error(w, "Availability not found", http.StatusNotFound)
		return
	}

	var req intervalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	date, start, end, msg := parseInterval(req)
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}
	if date.Before(scheduling.Today()) {
		http.Error(w, "Cannot move availability into the past", http.StatusBadRequest)
		return
	}

	// The bookings guard below runs against the original window, so moving an
	// interval to another date must hold both dates' keys.
	release := h.locker.LockKeys(
		scheduling.ResourceKey(scheduling.KindInstructor, instructor.ID, interval.Date),
		scheduling.ResourceKey(scheduling.KindInstructor, instructor.ID, date),
	)
	defer release()

	overlap, err := h.hasOverlap(instructor.ID, date, start, end, interval.ID)
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	if overlap {
		http.Error(w, "Time slot overlaps with existing availability", http.StatusBadRequest)
		return
	}

	// Bookings are checked against the original window, not the new one.
	origStart, err := scheduling.ParseClock(interval.StartTime)
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	origEnd, err := scheduling.ParseClock(interval.EndTime)
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	booked, err := h.hasBookings(instructor.ID, interval.Date, origStart, origEnd)
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	if booked {
		http.Error(w, "Availability has booked appointments", http.StatusBadRequest)
		return
	}

	interval.Date = date
	interval.StartTime = scheduling.FormatClock(start)
	interval.EndTime = scheduling.FormatClock(end)

	if err := h.db.Save(&interval).Error; err != nil {
		http.Error(w, "Error updating availability", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(interval)
}

func (h *AvailabilityHandler) DeleteInterval(w http.ResponseWriter, r *http.Request) {
	instructor, ok := h.loadInstructor(w, r)
	if !ok {
		return
	}

	vars := mux.Vars(r)
	intervalID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid availability ID", http.StatusBadRequest)
		return
	}

	var interval models.AvailabilityInterval
	if err := h.db.Where("id = ? AND instructor_id = ?", intervalID, instructor.ID).First(&interval).Error; err != nil {
		http.Error(w, "Availability not found", http.StatusNotFound)
		return
	}

	if interval.Date.Before(scheduling.Today()) {
		http.Error(w, "Cannot delete past availability", http.StatusBadRequest)
		return
	}

	release := h.locker.Lock(scheduling.ResourceKey(scheduling.KindInstructor, instructor.ID, interval.Date))
	defer release()

	start, err := scheduling.ParseClock(interval.StartTime)
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	end, err := scheduling.ParseClock(interval.EndTime)
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	booked, err := h.hasBookings(instructor.ID, interval.Date, start, end)
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	if booked {
		http.Error(w, "Availability has booked appointments", http.StatusBadRequest)
		return
	}

	if err := h.db.Delete(&interval).Error; err != nil {
		http.Error(w, "Error deleting availability", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
