package sessionform

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

type SessionFormHandler struct {
	db     *gorm.DB
	locker *scheduling.ResourceLocker
}

func NewSessionFormHandler(db *gorm.DB, locker *scheduling.ResourceLocker) *SessionFormHandler {
	return &SessionFormHandler{db: db, locker: locker}
}

func (h *SessionFormHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/appointments/{appointmentId}/session-form", h.StartForm).Methods("POST")
	router.HandleFunc("/session-forms/{id}", h.GetForm).Methods("GET")
	router.HandleFunc("/session-forms/{id}/items", h.UpdateItem).Methods("PATCH")
	router.HandleFunc("/session-forms/{id}/finalize", h.FinalizeForm).Methods("POST")
	router.HandleFunc("/session-forms/student/{studentId}", h.GetStudentForms).Methods("GET")
}

// StartForm creates the open evaluation record for an appointment. One form
// per appointment, created by the owning instructor.
func (h *SessionFormHandler) StartForm(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	appointmentID, err := strconv.ParseUint(vars["appointmentId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid appointment ID", http.StatusBadRequest)
		return
	}

	var appointment models.Appointment
	if err := h.db.Preload("File").First(&appointment, appointmentID).Error; err != nil {
		http.Error(w, "Appointment not found", http.StatusNotFound)
		return
	}
	if appointment.File == nil {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	caller, err := utils.GetCaller(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if !caller.OwnsForm(appointment.File) {
		http.Error(w, "Only the file's instructor can start a session form", http.StatusForbidden)
		return
	}

	if appointment.File.TeachingCategoryID == nil {
		http.Error(w, "File has no teaching category", http.StatusBadRequest)
		return
	}

	var examForm models.ExamForm
	if err := h.db.Where("teaching_category_id = ?", *appointment.File.TeachingCategoryID).
		First(&examForm).Error; err != nil {
		http.Error(w, "No exam form exists for this teaching category", http.StatusBadRequest)
		return
	}

	// The exists-check and create must not interleave with a concurrent start
	// for the same appointment.
	release := h.locker.Lock(scheduling.AppointmentFormKey(appointment.ID))
	defer release()

	var existing models.SessionForm
	if err := h.db.Where("appointment_id = ?", appointment.ID).First(&existing).Error; err == nil {
		http.Error(w, "Session form already exists for this appointment", http.StatusConflict)
		return
	}

	form := models.SessionForm{
		AppointmentID: appointment.ID,
		ExamFormID:    examForm.ID,
		Mistakes:      models.MistakeSet{},
	}

	if err := h.db.Create(&form).Error; err != nil {
		http.Error(w, "Error creating session form", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(form)
}

// loadOwnedForm fetches a form with its file chain and verifies the caller is
// the owning instructor.
func (h *SessionFormHandler) loadOwnedForm(w http.ResponseWriter, r *http.Request) (*models.SessionForm, bool) {
	vars := mux.Vars(r)
	formID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid session form ID", http.StatusBadRequest)
		return nil, false
	}

	var form models.SessionForm
	if err := h.db.Preload("Appointment.File").First(&form, formID).Error; err != nil {
		http.Error(w, "Session form not found", http.StatusNotFound)
		return nil, false
	}

	caller, err := utils.GetCaller(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	if form.Appointment == nil || !caller.OwnsForm(form.Appointment.File) {
		http.Error(w, "Only the owning instructor can modify this form", http.StatusForbidden)
		return nil, false
	}
	return &form, true
}

type itemUpdateRequest struct {
	ItemID uint `json:"item_id"`
	Delta  int  `json:"delta"`
}

// UpdateItem adds or removes one tally of a mistake. Counts floor at zero and
// zero entries are pruned; decrementing an absent item returns 0.
func (h *SessionFormHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	form, ok := h.loadOwnedForm(w, r)
	if !ok {
		return
	}

	var req itemUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Delta != 1 && req.Delta != -1 {
		http.Error(w, "Delta must be +1 or -1", http.StatusBadRequest)
		return
	}

	release := h.locker.Lock(scheduling.FormKey(form.ID))
	defer release()

	// Re-read under the lock; another device may have finalized meanwhile.
	if err := h.db.First(form, form.ID).Error; err != nil {
		http.Error(w, "Session form not found", http.StatusNotFound)
		return
	}
	if form.IsLocked {
		http.Error(w, "Session form is finalized", http.StatusLocked)
		return
	}

	var item models.ExamItem
	if err := h.db.Where("id = ? AND exam_form_id = ?", req.ItemID, form.ExamFormID).
		First(&item).Error; err != nil {
		http.Error(w, "Exam item does not belong to this form", http.StatusBadRequest)
		return
	}

	count := form.Mistakes.Apply(req.ItemID, req.Delta)

	if err := h.db.Model(form).Update("mistakes", form.Mistakes).Error; err != nil {
		http.Error(w, "Error updating session form", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"item_id": req.ItemID,
		"count":   count,
	})
}

// FinalizeForm seals the record: computes the penalty total and pass/fail
// result, stamps the time and locks it. Irreversible.
func (h *SessionFormHandler) FinalizeForm(w http.ResponseWriter, r *http.Request) {
	form, ok := h.loadOwnedForm(w, r)
	if !ok {
		return
	}

	release := h.locker.Lock(scheduling.FormKey(form.ID))
	defer release()

	if err := h.db.First(form, form.ID).Error; err != nil {
		http.Error(w, "Session form not found", http.StatusNotFound)
		return
	}
	if form.IsLocked {
		http.Error(w, "Session form is already finalized", http.StatusLocked)
		return
	}

	var examForm models.ExamForm
	if err := h.db.Preload("Items").First(&examForm, form.ExamFormID).Error; err != nil {
		http.Error(w, "Exam form not found", http.StatusNotFound)
		return
	}

	penalties := make(map[uint]int, len(examForm.Items))
	for _, item := range examForm.Items {
		penalties[item.ID] = item.PenaltyPoints
	}

	total := form.Mistakes.TotalPoints(penalties)
	result := models.SessionResultOK
	if total > examForm.MaxPoints {
		result = models.SessionResultFailed
	}
	now := time.Now()

	form.TotalPoints = &total
	form.Result = result
	form.IsLocked = true
	form.FinalizedAt = &now

	if err := h.db.Save(form).Error; err != nil {
		http.Error(w, "Error finalizing session form", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(form)
}

func (h *SessionFormHandler) GetForm(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	formID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid session form ID", http.StatusBadRequest)
		return
	}

	var form models.SessionForm
	if err := h.db.Preload("Appointment.File").Preload("ExamForm.Items").
		First(&form, formID).Error; err != nil {
		http.Error(w, "Session form not found", http.StatusNotFound)
		return
	}

	caller, err := utils.GetCaller(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if form.Appointment == nil || !caller.CanAccessFile(form.Appointment.File) {
		http.Error(w, "Not allowed to view this session form", http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(form)
}

// GetStudentForms lists a student's session forms with date-range and
// pagination filters.
func (h *SessionFormHandler) GetStudentForms(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	studentID, err := strconv.ParseUint(vars["studentId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid student ID", http.StatusBadRequest)
		return
	}

	var student models.User
	if err := h.db.First(&student, studentID).Error; err != nil {
		http.Error(w, "Student not found", http.StatusNotFound)
		return
	}

	caller, err := utils.GetCaller(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if !caller.CanReadStudent(uint(studentID), &student) {
		http.Error(w, "Not allowed to view this student's history", http.StatusForbidden)
		return
	}

	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil || page < 1 {
			http.Error(w, "Invalid page number", http.StatusBadRequest)
			return
		}
	}
	pageSize := 20

	query := h.db.Model(&models.SessionForm{}).
		Joins("JOIN appointments ON appointments.id = session_forms.appointment_id").
		Joins("JOIN files ON files.id = appointments.file_id").
		Where("files.student_id = ?", studentID)

	if from := r.URL.Query().Get("from"); from != "" {
		fromDate, err := time.Parse("2006-01-02", from)
		if err != nil {
			http.Error(w, "Invalid from date. Use YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		query = query.Where("appointments.date >= ?", scheduling.DateOnly(fromDate))
	}
	if to := r.URL.Query().Get("to"); to != "" {
		toDate, err := time.Parse("2006-01-02", to)
		if err != nil {
			http.Error(w, "Invalid to date. Use YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		query = query.Where("appointments.date <= ?", scheduling.DateOnly(toDate))
	}

	var total int64
	query.Count(&total)

	var forms []models.SessionForm
	if err := query.Offset((page - 1) * pageSize).Limit(pageSize).
		Order("appointments.date DESC, appointments.start_time DESC").
		Preload("Appointment").
		Find(&forms).Error; err != nil {
		http.Error(w, "Error retrieving session forms", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"session_forms": forms,
		"total":         total,
		"page":          page,
		"page_size":     pageSize,
		"total_pages":   (total + int64(pageSize) - 1) / int64(pageSize),
	})
}
