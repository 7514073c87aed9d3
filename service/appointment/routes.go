package appointment

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

type AppointmentHandler struct {
	db     *gorm.DB
	locker *scheduling.ResourceLocker
}

func NewAppointmentHandler(db *gorm.DB, locker *scheduling.ResourceLocker) *AppointmentHandler {
	return &AppointmentHandler{db: db, locker: locker}
}

func (h *AppointmentHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/appointments", h.CreateAppointment).Methods("POST")
	router.HandleFunc("/appointments/{id}", h.GetAppointment).Methods("GET")
	router.HandleFunc("/appointments/{id}", h.UpdateAppointment).Methods("PUT")
	router.HandleFunc("/appointments/{id}", h.DeleteAppointment).Methods("DELETE")
	router.HandleFunc("/appointments/file/{fileId}", h.GetFileAppointments).Methods("GET")
	router.HandleFunc("/files/{fileId}/slots", h.GetAvailableSlots).Methods("GET")
}

type appointmentRequest struct {
	FileID    uint   `json:"file_id"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// resolveFile loads the enrollment file with its teaching category and checks
// it carries everything a booking needs.
func (h *AppointmentHandler) resolveFile(fileID uint) (*models.File, string) {
	var file models.File
	if err := h.db.Preload("TeachingCategory").First(&file, fileID).Error; err != nil {
		return nil, "File not found"
	}
	if file.InstructorID == nil {
		return nil, "File has no instructor assigned"
	}
	if file.TeachingCategoryID == nil || file.TeachingCategory == nil {
		return nil, "File has no teaching category"
	}
	return &file, ""
}

// validateSlot runs the full booking validation chain (time format, range,
// future, exact duration, covering availability, conflicts) and returns the
// resolved slot. The caller must hold the slot's resource locks before the
// conflict checks are trusted.
func (h *AppointmentHandler) validateSlot(file *models.File, req appointmentRequest, excludeID uint) (*scheduling.AppointmentSlot, string, int) {
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return nil, "Invalid date format. Use YYYY-MM-DD", http.StatusBadRequest
	}
	start, err := scheduling.ParseClock(req.StartTime)
	if err != nil {
		return nil, "Invalid start time. Use HH:MM", http.StatusBadRequest
	}
	end, err := scheduling.ParseClock(req.EndTime)
	if err != nil {
		return nil, "Invalid end time. Use HH:MM", http.StatusBadRequest
	}
	if start >= end {
		return nil, "End time must be after start time", http.StatusBadRequest
	}

	slot := scheduling.AppointmentSlot{
		InstructorID: *file.InstructorID,
		VehicleID:    file.VehicleID,
		Date:         scheduling.DateOnly(date),
		StartMinute:  start,
		EndMinute:    end,
	}

	if !scheduling.At(slot.Date, start).After(time.Now()) {
		return nil, "Appointment must be in the future", http.StatusBadRequest
	}
	if end-start != file.TeachingCategory.SessionDuration {
		return nil, "Appointment length must match the category session duration", http.StatusBadRequest
	}

	covered, err := h.isCovered(slot)
	if err != nil {
		return nil, "Database error", http.StatusInternalServerError
	}
	if !covered {
		return nil, "Instructor is not available in this time slot", http.StatusBadRequest
	}

	checker := scheduling.NewConflictChecker(h.db)
	kind, conflict, err := checker.SlotConflict(slot, excludeID)
	if err != nil {
		return nil, "Database error", http.StatusInternalServerError
	}
	if conflict {
		if kind == scheduling.KindVehicle {
			return nil, "Vehicle is already booked in this time slot", http.StatusConflict
		}
		return nil, "Instructor is already booked in this time slot", http.StatusConflict
	}

	return &slot, "", 0
}

// isCovered reports whether one of the instructor's availability intervals on
// the slot's date fully contains the slot.
func (h *AppointmentHandler) isCovered(slot scheduling.AppointmentSlot) (bool, error) {
	var intervals []models.AvailabilityInterval
	err := h.db.Where("instructor_id = ? AND date = ?", slot.InstructorID, slot.Date).
		Find(&intervals).Error
	if err != nil {
		return false, err
	}
	for _, interval := range intervals {
		start, err := scheduling.ParseClock(interval.StartTime)
		if err != nil {
			return false, err
		}
		end, err := scheduling.ParseClock(interval.EndTime)
		if err != nil {
			return false, err
		}
		if scheduling.Covers(start, end, slot.StartMinute, slot.EndMinute) {
			return true, nil
		}
	}
	return false, nil
}

func (h *AppointmentHandler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	var req appointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	file, msg := h.resolveFile(req.FileID)
	if msg != "" {
		status := http.StatusBadRequest
		if msg == "File not found" {
			status = http.StatusNotFound
		}
		http.Error(w, msg, status)
		return
	}

	caller, err := utils.GetCaller(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if !caller.CanAccessFile(file) {
		http.Error(w, "Not allowed to book for this file", http.StatusForbidden)
		return
	}

	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		http.Error(w, "Invalid date format. Use YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	release := h.locker.LockSlot(scheduling.AppointmentSlot{
		InstructorID: *file.InstructorID,
		VehicleID:    file.VehicleID,
		Date:         date,
	})
	defer release()

	slot, msg, status := h.validateSlot(file, req, 0)
	if msg != "" {
		http.Error(w, msg, status)
		return
	}

	appointment := models.Appointment{
		FileID:    file.ID,
		Date:      slot.Date,
		StartTime: scheduling.FormatClock(slot.StartMinute),
		EndTime:   scheduling.FormatClock(slot.EndMinute),
	}

	if err := h.db.Create(&appointment).Error; err != nil {
		http.Error(w, "Error creating appointment", http.StatusInternalServerError)
		return
	}

	appointment.File = file

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(appointment)
}

func (h *AppointmentHandler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	appointmentID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid appointment ID", http.StatusBadRequest)
		return
	}

	var appointment models.Appointment
	if err := h.db.Preload("File").First(&appointment, appointmentID).Error; err != nil {
		http.Error(w, "Appointment not found", http.StatusNotFound)
		return
	}

	caller, err := utils.GetCaller(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if !caller.CanAccessFile(appointment.File) {
		http.Error(w, "Not allowed to view this appointment", http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(appointment)
}

func (h *AppointmentHandler) UpdateAppointment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	appointmentID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid appointment ID", http.StatusBadRequest)
		return
	}

	var appointment models.Appointment
	if err := h.db.First(&appointment, appointmentID).Error; err != nil {
		http.Error(w, "Appointment not found", http.StatusNotFound)
		return
	}

	var req appointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.FileID = appointment.FileID

	file, msg := h.resolveFile(appointment.FileID)
	if msg != "" {
		status := http.StatusBadRequest
		if msg == "File not found" {
			status = http.StatusNotFound
		}
		http.Error(w, msg, status)
		return
	}

	caller, err := utils.GetCaller(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if !caller.CanAccessFile(file) {
		http.Error(w, "Not allowed to modify this appointment", http.StatusForbidden)
		return
	}

	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		http.Error(w, "Invalid date format. Use YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	release := h.locker.LockSlot(scheduling.AppointmentSlot{
		InstructorID: *file.InstructorID,
		VehicleID:    file.VehicleID,
		Date:         date,
	})
	defer release()

	slot, msg, status := h.validateSlot(file, req, appointment.ID)
	if msg != "" {
		http.Error(w, msg, status)
		return
	}

	appointment.Date = slot.Date
	appointment.StartTime = scheduling.FormatClock(slot.StartMinute)
	appointment.EndTime = scheduling.FormatClock(slot.EndMinute)

	if err := h.db.Save(&appointment).Error; err != nil {
		http.Error(w, "Error updating appointment", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(appointment)
}

func (h *AppointmentHandler) DeleteAppointment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	appointmentID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid appointment ID", http.StatusBadRequest)
		return
	}

	var appointment models.Appointment
	if err := h.db.Preload("File").First(&appointment, appointmentID).Error; err != nil {
		http.Error(w, "Appointment not found", http.StatusNotFound)
		return
	}

	caller, err := utils.GetCaller(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if !caller.CanAccessFile(appointment.File) {
		http.Error(w, "Not allowed to delete this appointment", http.StatusForbidden)
		return
	}

	end, err := scheduling.ParseClock(appointment.EndTime)
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	if !scheduling.At(appointment.Date, end).After(time.Now()) {
		http.Error(w, "Cannot delete an appointment that already took place", http.StatusBadRequest)
		return
	}

	if err := h.db.Delete(&appointment).Error; err != nil {
		http.Error(w, "Error deleting appointment", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Appointment deleted successfully",
	})
}

func (h *AppointmentHandler) GetFileAppointments(w http.ResponseWriter, r *http.Request) {
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

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize := 100

	query := h.db.Model(&models.Appointment{}).Where("file_id = ?", fileID)

	var total int64
	query.Count(&total)

	var appointments []models.Appointment
	if err := query.Offset((page - 1) * pageSize).Limit(pageSize).
		Order("date DESC, start_time DESC").Find(&appointments).Error; err != nil {
		http.Error(w, "Error retrieving appointments", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"appointments": appointments,
		"total":        total,
		"page":         page,
		"page_size":    pageSize,
		"total_pages":  (total + int64(pageSize) - 1) / int64(pageSize),
	})
}

// GetAvailableSlots enumerates bookable windows for a file on a date.
func (h *AppointmentHandler) GetAvailableSlots(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	fileID, err := strconv.ParseUint(vars["fileId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid file ID", http.StatusBadRequest)
		return
	}

	file, msg := h.resolveFile(uint(fileID))
	if msg != "" {
		status := http.StatusBadRequest
		if msg == "File not found" {
			status = http.StatusNotFound
		}
		http.Error(w, msg, status)
		return
	}

	caller, err := utils.GetCaller(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if !caller.CanAccessFile(file) {
		http.Error(w, "Not allowed to view this file", http.StatusForbidden)
		return
	}

	date, err := time.Parse("2006-01-02", r.URL.Query().Get("date"))
	if err != nil {
		http.Error(w, "Invalid date format. Use YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	if scheduling.DateOnly(date).Before(scheduling.Today()) {
		http.Error(w, "Cannot list slots for a past date", http.StatusBadRequest)
		return
	}

	planner := scheduling.NewSlotPlanner(h.db)
	slots, err := planner.Enumerate(*file.InstructorID, file.VehicleID, date, file.TeachingCategory.SessionDuration)
	if err != nil {
		http.Error(w, "Error computing slots", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"session_duration": file.TeachingCategory.SessionDuration,
		"slots":            slots,
	})
}
