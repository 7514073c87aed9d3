package file

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/adjei-dev/drivetrack-server/cmd/models"
	"github.com/adjei-dev/drivetrack-server/cmd/utils"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

// FileHandler exposes the enrollment-file records and the read-only catalogs
// (teaching categories, vehicles, exam forms) the scheduling core consumes.
type FileHandler struct {
	db *gorm.DB
}

func NewFileHandler(db *gorm.DB) *FileHandler {
	return &FileHandler{db: db}
}

func (h *FileHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/files", h.CreateFile).Methods("POST")
	router.HandleFunc("/files", h.GetFiles).Methods("GET")
	router.HandleFunc("/files/{id}", h.GetFile).Methods("GET")
	router.HandleFunc("/teaching-categories", h.GetTeachingCategories).Methods("GET")
	router.HandleFunc("/vehicles", h.GetVehicles).Methods("GET")
	router.HandleFunc("/exam-forms/category/{categoryId}", h.GetCategoryExamForm).Methods("GET")
}

func (h *FileHandler) CreateFile(w http.ResponseWriter, r *http.Request) {
	caller, err := utils.GetCaller(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if !caller.IsAdmin() {
		http.Error(w, "Admin access required", http.StatusForbidden)
		return
	}

	var req struct {
		StudentID          uint  `json:"student_id"`
		InstructorID       *uint `json:"instructor_id"`
		VehicleID          *uint `json:"vehicle_id"`
		TeachingCategoryID *uint `json:"teaching_category_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var student models.User
	if err := h.db.Where("id = ? AND role = ?", req.StudentID, models.RoleStudent).First(&student).Error; err != nil {
		http.Error(w, "Student not found", http.StatusBadRequest)
		return
	}
	if student.SchoolID != caller.SchoolID {
		http.Error(w, "Student belongs to another school", http.StatusForbidden)
		return
	}

	if req.InstructorID != nil {
		var instructor models.User
		if err := h.db.Where("id = ? AND role = ? AND school_id = ?",
			*req.InstructorID, models.RoleInstructor, caller.SchoolID).First(&instructor).Error; err != nil {
			http.Error(w, "Instructor not found", http.StatusBadRequest)
			return
		}
	}
	if req.VehicleID != nil {
		var vehicle models.Vehicle
		if err := h.db.Where("id = ? AND school_id = ?", *req.VehicleID, caller.SchoolID).First(&vehicle).Error; err != nil {
			http.Error(w, "Vehicle not found", http.StatusBadRequest)
			return
		}
	}
	if req.TeachingCategoryID != nil {
		var category models.TeachingCategory
		if err := h.db.First(&category, *req.TeachingCategoryID).Error; err != nil {
			http.Error(w, "Teaching category not found", http.StatusBadRequest)
			return
		}
	}

	file := models.File{
		Reference:          uuid.NewString(),
		StudentID:          req.StudentID,
		InstructorID:       req.InstructorID,
		VehicleID:          req.VehicleID,
		TeachingCategoryID: req.TeachingCategoryID,
		SchoolID:           caller.SchoolID,
	}

	if err := h.db.Create(&file).Error; err != nil {
		http.Error(w, "Error creating file", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(file)
}

func (h *FileHandler) GetFiles(w http.ResponseWriter, r *http.Request) {
	caller, err := utils.GetCaller(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize := 50

	query := h.db.Model(&models.File{})
	switch caller.Role {
	case models.RoleStudent:
		query = query.Where("student_id = ?", caller.UserID)
	case models.RoleInstructor:
		query = query.Where("instructor_id = ?", caller.UserID)
	default:
		query = query.Where("school_id = ?", caller.SchoolID)
	}

	var total int64
	query.Count(&total)

	var files []models.File
	if err := query.Offset((page - 1) * pageSize).Limit(pageSize).
		Preload("Student").Preload("Instructor").Preload("TeachingCategory").
		Find(&files).Error; err != nil {
		http.Error(w, "Error retrieving files", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"files":       files,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
		"total_pages": (total + int64(pageSize) - 1) / int64(pageSize),
	})
}

func (h *FileHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	fileID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid file ID", http.StatusBadRequest)
		return
	}

	var file models.File
	if err := h.db.Preload("Student").Preload("Instructor").
		Preload("Vehicle").Preload("TeachingCategory").
		First(&file, fileID).Error; err != nil {
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

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(file)
}

func (h *FileHandler) GetTeachingCategories(w http.ResponseWriter, r *http.Request) {
	var categories []models.TeachingCategory
	if err := h.db.Order("code").Find(&categories).Error; err != nil {
		http.Error(w, "Error retrieving teaching categories", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(categories)
}

func (h *FileHandler) GetVehicles(w http.ResponseWriter, r *http.Request) {
	caller, err := utils.GetCaller(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var vehicles []models.Vehicle
	if err := h.db.Where("school_id = ?", caller.SchoolID).Find(&vehicles).Error; err != nil {
		http.Error(w, "Error retrieving vehicles", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(vehicles)
}

func (h *FileHandler) GetCategoryExamForm(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	categoryID, err := strconv.ParseUint(vars["categoryId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid category ID", http.StatusBadRequest)
		return
	}

	var examForm models.ExamForm
	if err := h.db.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("exam_items.order_index")
	}).Where("teaching_category_id = ?", categoryID).First(&examForm).Error; err != nil {
		http.Error(w, "No exam form for this teaching category", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(examForm)
}
