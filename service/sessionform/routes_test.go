package sessionform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/adjei-dev/drivetrack-server/cmd/models"
	"github.com/adjei-dev/drivetrack-server/cmd/utils"
	"github.com/adjei-dev/drivetrack-server/service/scheduling"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testEnv struct {
	db          *gorm.DB
	handler     *SessionFormHandler
	school      models.School
	student     models.User
	instructor  models.User
	category    models.TeachingCategory
	file        models.File
	appointment models.Appointment
	examForm    models.ExamForm
	items       []models.ExamItem
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.School{}, &models.User{}, &models.TeachingCategory{}, &models.File{},
		&models.Appointment{}, &models.ExamForm{}, &models.ExamItem{}, &models.SessionForm{},
	))

	env := &testEnv{db: db, handler: NewSessionFormHandler(db, scheduling.NewResourceLocker())}

	env.school = models.School{Name: "Central Driving School"}
	require.NoError(t, db.Create(&env.school).Error)
	env.student = models.User{FullName: "Ama Student", Email: "ama@test.local", PasswordHash: "x", Role: models.RoleStudent, SchoolID: env.school.ID}
	require.NoError(t, db.Create(&env.student).Error)
	env.instructor = models.User{FullName: "Kofi Instructor", Email: "kofi@test.local", PasswordHash: "x", Role: models.RoleInstructor, SchoolID: env.school.ID}
	require.NoError(t, db.Create(&env.instructor).Error)
	env.category = models.TeachingCategory{Code: "B", Name: "Category B", SessionDuration: 90, LessonCount: 30}
	require.NoError(t, db.Create(&env.category).Error)
	env.file = models.File{
		Reference:          "ref-1",
		StudentID:          env.student.ID,
		InstructorID:       &env.instructor.ID,
		TeachingCategoryID: &env.category.ID,
		SchoolID:           env.school.ID,
	}
	require.NoError(t, db.Create(&env.file).Error)
	env.appointment = models.Appointment{FileID: env.file.ID, Date: scheduling.Today(), StartTime: "09:00", EndTime: "10:30"}
	require.NoError(t, db.Create(&env.appointment).Error)

	env.examForm = models.ExamForm{TeachingCategoryID: env.category.ID, Title: "Practical exam B", MaxPoints: 21}
	require.NoError(t, db.Create(&env.examForm).Error)
	env.items = []models.ExamItem{
		{ExamFormID: env.examForm.ID, Description: "Mirror check", PenaltyPoints: 3, OrderIndex: 1},
		{ExamFormID: env.examForm.ID, Description: "Stalling", PenaltyPoints: 6, OrderIndex: 2},
		{ExamFormID: env.examForm.ID, Description: "Priority", PenaltyPoints: 9, OrderIndex: 3},
	}
	for i := range env.items {
		require.NoError(t, db.Create(&env.items[i]).Error)
	}
	return env
}

func (env *testEnv) instructorCaller() utils.Caller {
	return utils.Caller{UserID: env.instructor.ID, Role: models.RoleInstructor, SchoolID: env.school.ID}
}

func doRequest(handler http.HandlerFunc, method string, body interface{}, caller utils.Caller, vars map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, "/", &buf)
	req = req.WithContext(context.WithValue(req.Context(), utils.CallerKey, caller))
	req = mux.SetURLVars(req, vars)
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func (env *testEnv) startForm(t *testing.T) models.SessionForm {
	t.Helper()
	rec := doRequest(env.handler.StartForm, "POST", nil, env.instructorCaller(),
		map[string]string{"appointmentId": fmt.Sprint(env.appointment.ID)})
	require.Equal(t, http.StatusCreated, rec.Code)
	var form models.SessionForm
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &form))
	return form
}

func (env *testEnv) tally(form models.SessionForm, itemID uint, delta int) *httptest.ResponseRecorder {
	return doRequest(env.handler.UpdateItem, "PATCH", map[string]interface{}{
		"item_id": itemID, "delta": delta,
	}, env.instructorCaller(), map[string]string{"id": fmt.Sprint(form.ID)})
}

func TestSessionFormLifecycle(t *testing.T) {
	env := newTestEnv(t)

	form := env.startForm(t)
	assert.Empty(t, form.Mistakes)
	assert.False(t, form.IsLocked)
	assert.Nil(t, form.FinalizedAt)

	// Two tallies on the stalling item.
	rec := env.tally(form, env.items[1].ID, 1)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.tally(form, env.items[1].ID, 1)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		ItemID uint `json:"item_id"`
		Count  int  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)

	// Three decrements floor at zero and prune the entry.
	for i := 0; i < 3; i++ {
		rec = env.tally(form, env.items[1].ID, -1)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Count)

	var stored models.SessionForm
	require.NoError(t, env.db.First(&stored, form.ID).Error)
	assert.Empty(t, stored.Mistakes)
}

func TestFinalizeFailsOverMaxPoints(t *testing.T) {
	env := newTestEnv(t)
	form := env.startForm(t)

	// 2 x 3 points + 2 x 9 points = 24, over the 21 point ceiling.
	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, env.tally(form, env.items[0].ID, 1).Code)
		require.Equal(t, http.StatusOK, env.tally(form, env.items[2].ID, 1).Code)
	}

	rec := doRequest(env.handler.FinalizeForm, "POST", nil, env.instructorCaller(),
		map[string]string{"id": fmt.Sprint(form.ID)})
	require.Equal(t, http.StatusOK, rec.Code)

	var finalized models.SessionForm
	require.NoError(t, env.db.First(&finalized, form.ID).Error)
	assert.True(t, finalized.IsLocked)
	assert.NotNil(t, finalized.FinalizedAt)
	require.NotNil(t, finalized.TotalPoints)
	assert.Equal(t, 24, *finalized.TotalPoints)
	assert.Equal(t, models.SessionResultFailed, finalized.Result)

	// The sealed form rejects further tallies and a second finalize.
	assert.Equal(t, http.StatusLocked, env.tally(form, env.items[0].ID, 1).Code)
	rec = doRequest(env.handler.FinalizeForm, "POST", nil, env.instructorCaller(),
		map[string]string{"id": fmt.Sprint(form.ID)})
	assert.Equal(t, http.StatusLocked, rec.Code)
}

func TestFinalizePassUnderMaxPoints(t *testing.T) {
	env := newTestEnv(t)
	form := env.startForm(t)

	require.Equal(t, http.StatusOK, env.tally(form, env.items[0].ID, 1).Code)

	rec := doRequest(env.handler.FinalizeForm, "POST", nil, env.instructorCaller(),
		map[string]string{"id": fmt.Sprint(form.ID)})
	require.Equal(t, http.StatusOK, rec.Code)

	var finalized models.SessionForm
	require.NoError(t, env.db.First(&finalized, form.ID).Error)
	require.NotNil(t, finalized.TotalPoints)
	assert.Equal(t, 3, *finalized.TotalPoints)
	assert.Equal(t, models.SessionResultOK, finalized.Result)
}

func TestStartFormRejections(t *testing.T) {
	env := newTestEnv(t)

	// Only the file's instructor may start a form.
	student := utils.Caller{UserID: env.student.ID, Role: models.RoleStudent, SchoolID: env.school.ID}
	rec := doRequest(env.handler.StartForm, "POST", nil, student,
		map[string]string{"appointmentId": fmt.Sprint(env.appointment.ID)})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	other := utils.Caller{UserID: env.instructor.ID + 99, Role: models.RoleInstructor, SchoolID: env.school.ID}
	rec = doRequest(env.handler.StartForm, "POST", nil, other,
		map[string]string{"appointmentId": fmt.Sprint(env.appointment.ID)})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Unknown appointment.
	rec = doRequest(env.handler.StartForm, "POST", nil, env.instructorCaller(),
		map[string]string{"appointmentId": "99999"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// One form per appointment.
	env.startForm(t)
	rec = doRequest(env.handler.StartForm, "POST", nil, env.instructorCaller(),
		map[string]string{"appointmentId": fmt.Sprint(env.appointment.ID)})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStartFormConcurrentDuplicate(t *testing.T) {
	env := newTestEnv(t)

	codes := make(chan int, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := doRequest(env.handler.StartForm, "POST", nil, env.instructorCaller(),
				map[string]string{"appointmentId": fmt.Sprint(env.appointment.ID)})
			codes <- rec.Code
		}()
	}
	wg.Wait()
	close(codes)

	got := []int{}
	for code := range codes {
		got = append(got, code)
	}
	sort.Ints(got)
	assert.Equal(t, []int{http.StatusCreated, http.StatusConflict}, got)

	var count int64
	env.db.Model(&models.SessionForm{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestStartFormNoExamForm(t *testing.T) {
	env := newTestEnv(t)

	bare := models.TeachingCategory{Code: "A", Name: "Category A", SessionDuration: 60, LessonCount: 20}
	require.NoError(t, env.db.Create(&bare).Error)
	file := models.File{Reference: "ref-2", StudentID: env.student.ID, InstructorID: &env.instructor.ID, TeachingCategoryID: &bare.ID, SchoolID: env.school.ID}
	require.NoError(t, env.db.Create(&file).Error)
	appt := models.Appointment{FileID: file.ID, Date: scheduling.Today(), StartTime: "11:00", EndTime: "12:00"}
	require.NoError(t, env.db.Create(&appt).Error)

	rec := doRequest(env.handler.StartForm, "POST", nil, env.instructorCaller(),
		map[string]string{"appointmentId": fmt.Sprint(appt.ID)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "exam form")
}

func TestUpdateItemUnknownItem(t *testing.T) {
	env := newTestEnv(t)
	form := env.startForm(t)

	// An item from another exam form is rejected.
	otherForm := models.ExamForm{TeachingCategoryID: env.category.ID, Title: "Theory exam", MaxPoints: 10}
	require.NoError(t, env.db.Create(&otherForm).Error)
	foreign := models.ExamItem{ExamFormID: otherForm.ID, Description: "Signs", PenaltyPoints: 1, OrderIndex: 1}
	require.NoError(t, env.db.Create(&foreign).Error)

	rec := env.tally(form, foreign.ID, 1)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.tally(form, 99999, 1)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Deltas other than one tally are rejected.
	rec = env.tally(form, env.items[0].ID, 5)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetStudentForms(t *testing.T) {
	env := newTestEnv(t)
	env.startForm(t)

	rec := doRequest(env.handler.GetStudentForms, "GET", nil, env.instructorCaller(),
		map[string]string{"studentId": fmt.Sprint(env.student.ID)})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		SessionForms []models.SessionForm `json:"session_forms"`
		Total        int64                `json:"total"`
		Page         int                  `json:"page"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.Total)
	assert.Len(t, resp.SessionForms, 1)

	// Another student cannot read this history.
	other := models.User{FullName: "Efua Student", Email: "efua@test.local", PasswordHash: "x", Role: models.RoleStudent, SchoolID: env.school.ID}
	require.NoError(t, env.db.Create(&other).Error)
	rec = doRequest(env.handler.GetStudentForms, "GET", nil,
		utils.Caller{UserID: other.ID, Role: models.RoleStudent, SchoolID: env.school.ID},
		map[string]string{"studentId": fmt.Sprint(env.student.ID)})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetStudentFormsBadFilters(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("GET", "/?page=0", nil)
	req = req.WithContext(context.WithValue(req.Context(), utils.CallerKey, env.instructorCaller()))
	req = mux.SetURLVars(req, map[string]string{"studentId": fmt.Sprint(env.student.ID)})
	rec := httptest.NewRecorder()
	env.handler.GetStudentForms(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest("GET", "/?from=banana", nil)
	req = req.WithContext(context.WithValue(req.Context(), utils.CallerKey, env.instructorCaller()))
	req = mux.SetURLVars(req, map[string]string{"studentId": fmt.Sprint(env.student.ID)})
	rec = httptest.NewRecorder()
	env.handler.GetStudentForms(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
