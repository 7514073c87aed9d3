package availability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

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
	db         *gorm.DB
	locker     *scheduling.ResourceLocker
	handler    *AvailabilityHandler
	school     models.School
	instructor models.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.School{}, &models.User{}, &models.Vehicle{}, &models.TeachingCategory{},
		&models.File{}, &models.AvailabilityInterval{}, &models.Appointment{},
	))

	env := &testEnv{db: db, locker: scheduling.NewResourceLocker()}
	env.handler = NewAvailabilityHandler(db, env.locker)
	env.school = models.School{Name: "Central Driving School"}
	require.NoError(t, db.Create(&env.school).Error)
	env.instructor = models.User{FullName: "Kofi Instructor", Email: "kofi@test.local", PasswordHash: "x", Role: models.RoleInstructor, SchoolID: env.school.ID}
	require.NoError(t, db.Create(&env.instructor).Error)
	return env
}

func (env *testEnv) caller() utils.Caller {
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

func (env *testEnv) instructorVars() map[string]string {
	return map[string]string{"instructorId": fmt.Sprint(env.instructor.ID)}
}

func futureDate(days int) string {
	return scheduling.Today().AddDate(0, 0, days).Format("2006-01-02")
}

func TestCreateInterval(t *testing.T) {
	env := newTestEnv(t)

	rec := doRequest(env.handler.CreateInterval, "POST", map[string]string{
		"date": futureDate(7), "start_time": "09:00", "end_time": "12:00",
	}, env.caller(), env.instructorVars())
	assert.Equal(t, http.StatusCreated, rec.Code)

	var interval models.AvailabilityInterval
	require.NoError(t, env.db.First(&interval).Error)
	assert.Equal(t, "09:00", interval.StartTime)
	assert.Equal(t, "12:00", interval.EndTime)
	assert.Equal(t, env.instructor.ID, interval.InstructorID)
}

func TestCreateIntervalValidation(t *testing.T) {
	env := newTestEnv(t)

	// start >= end
	rec := doRequest(env.handler.CreateInterval, "POST", map[string]string{
		"date": futureDate(7), "start_time": "12:00", "end_time": "09:00",
	}, env.caller(), env.instructorVars())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// past date
	rec = doRequest(env.handler.CreateInterval, "POST", map[string]string{
		"date": scheduling.Today().AddDate(0, 0, -1).Format("2006-01-02"), "start_time": "09:00", "end_time": "12:00",
	}, env.caller(), env.instructorVars())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// bad clock format
	rec = doRequest(env.handler.CreateInterval, "POST", map[string]string{
		"date": futureDate(7), "start_time": "9am", "end_time": "12:00",
	}, env.caller(), env.instructorVars())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateIntervalOverlap(t *testing.T) {
	env := newTestEnv(t)

	rec := doRequest(env.handler.CreateInterval, "POST", map[string]string{
		"date": futureDate(7), "start_time": "09:00", "end_time": "12:00",
	}, env.caller(), env.instructorVars())
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(env.handler.CreateInterval, "POST", map[string]string{
		"date": futureDate(7), "start_time": "11:00", "end_time": "13:00",
	}, env.caller(), env.instructorVars())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Touching intervals do not overlap.
	rec = doRequest(env.handler.CreateInterval, "POST", map[string]string{
		"date": futureDate(7), "start_time": "12:00", "end_time": "14:00",
	}, env.caller(), env.instructorVars())
	assert.Equal(t, http.StatusCreated, rec.Code)

	// Same window on another date is fine.
	rec = doRequest(env.handler.CreateInterval, "POST", map[string]string{
		"date": futureDate(8), "start_time": "09:00", "end_time": "12:00",
	}, env.caller(), env.instructorVars())
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreateIntervalForbidden(t *testing.T) {
	env := newTestEnv(t)

	other := utils.Caller{UserID: env.instructor.ID + 99, Role: models.RoleInstructor, SchoolID: env.school.ID}
	rec := doRequest(env.handler.CreateInterval, "POST", map[string]string{
		"date": futureDate(7), "start_time": "09:00", "end_time": "12:00",
	}, other, env.instructorVars())
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// An admin of another school is rejected too.
	foreignAdmin := utils.Caller{UserID: 12345, Role: models.RoleAdmin, SchoolID: env.school.ID + 1}
	rec = doRequest(env.handler.CreateInterval, "POST", map[string]string{
		"date": futureDate(7), "start_time": "09:00", "end_time": "12:00",
	}, foreignAdmin, env.instructorVars())
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// An admin of the same school may manage the instructor's intervals.
	admin := utils.Caller{UserID: 54321, Role: models.RoleAdmin, SchoolID: env.school.ID}
	rec = doRequest(env.handler.CreateInterval, "POST", map[string]string{
		"date": futureDate(7), "start_time": "09:00", "end_time": "12:00",
	}, admin, env.instructorVars())
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func (env *testEnv) seedInterval(t *testing.T, date time.Time, start, end string) models.AvailabilityInterval {
	t.Helper()
	interval := models.AvailabilityInterval{
		InstructorID: env.instructor.ID,
		Date:         scheduling.DateOnly(date),
		StartTime:    start,
		EndTime:      end,
	}
	require.NoError(t, env.db.Create(&interval).Error)
	return interval
}

func (env *testEnv) seedBooking(t *testing.T, date time.Time, start, end string) {
	t.Helper()
	category := models.TeachingCategory{Code: "B", Name: "Category B", SessionDuration: 90, LessonCount: 30}
	require.NoError(t, env.db.Create(&category).Error)
	student := models.User{FullName: "Ama Student", Email: fmt.Sprintf("ama-%s@test.local", t.Name()), PasswordHash: "x", Role: models.RoleStudent, SchoolID: env.school.ID}
	require.NoError(t, env.db.Create(&student).Error)
	file := models.File{Reference: fmt.Sprintf("ref-%s", t.Name()), StudentID: student.ID, InstructorID: &env.instructor.ID, TeachingCategoryID: &category.ID, SchoolID: env.school.ID}
	require.NoError(t, env.db.Create(&file).Error)
	appt := models.Appointment{FileID: file.ID, Date: scheduling.DateOnly(date), StartTime: start, EndTime: end}
	require.NoError(t, env.db.Create(&appt).Error)
}

func TestUpdateIntervalRejectedWhenBooked(t *testing.T) {
	env := newTestEnv(t)
	date := scheduling.Today().AddDate(0, 0, 7)
	interval := env.seedInterval(t, date, "09:00", "12:00")
	env.seedBooking(t, date, "10:00", "11:30")

	vars := env.instructorVars()
	vars["id"] = fmt.Sprint(interval.ID)
	rec := doRequest(env.handler.UpdateInterval, "PUT", map[string]string{
		"date": date.Format("2006-01-02"), "start_time": "09:00", "end_time": "13:00",
	}, env.caller(), vars)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "booked")
}

func TestUpdateInterval(t *testing.T) {
	env := newTestEnv(t)
	date := scheduling.Today().AddDate(0, 0, 7)
	interval := env.seedInterval(t, date, "09:00", "12:00")

	vars := env.instructorVars()
	vars["id"] = fmt.Sprint(interval.ID)
	rec := doRequest(env.handler.UpdateInterval, "PUT", map[string]string{
		"date": date.Format("2006-01-02"), "start_time": "10:00", "end_time": "13:00",
	}, env.caller(), vars)
	assert.Equal(t, http.StatusOK, rec.Code)

	var updated models.AvailabilityInterval
	require.NoError(t, env.db.First(&updated, interval.ID).Error)
	assert.Equal(t, "10:00", updated.StartTime)
	assert.Equal(t, "13:00", updated.EndTime)
}

func TestUpdateIntervalHoldsOriginalDateKey(t *testing.T) {
	env := newTestEnv(t)
	origDate := scheduling.Today().AddDate(0, 0, 7)
	newDate := scheduling.Today().AddDate(0, 0, 8)
	interval := env.seedInterval(t, origDate, "09:00", "12:00")

	// A booking in flight on the original date holds that date's key; moving
	// the interval to another date must wait for it, or the bookings guard
	// could run before the booking commits.
	releaseOrig := env.locker.Lock(scheduling.ResourceKey(scheduling.KindInstructor, env.instructor.ID, origDate))

	vars := env.instructorVars()
	vars["id"] = fmt.Sprint(interval.ID)
	done := make(chan *httptest.ResponseRecorder)
	go func() {
		done <- doRequest(env.handler.UpdateInterval, "PUT", map[string]string{
			"date": newDate.Format("2006-01-02"), "start_time": "09:00", "end_time": "12:00",
		}, env.caller(), vars)
	}()

	select {
	case <-done:
		t.Fatal("update completed while the original date's key was held")
	case <-time.After(100 * time.Millisecond):
	}

	releaseOrig()
	rec := <-done
	assert.Equal(t, http.StatusOK, rec.Code)

	var moved models.AvailabilityInterval
	require.NoError(t, env.db.First(&moved, interval.ID).Error)
	assert.Equal(t, newDate.Format("2006-01-02"), moved.Date.Format("2006-01-02"))
}

func TestDeleteInterval(t *testing.T) {
	env := newTestEnv(t)
	date := scheduling.Today().AddDate(0, 0, 7)
	interval := env.seedInterval(t, date, "09:00", "12:00")

	vars := env.instructorVars()
	vars["id"] = fmt.Sprint(interval.ID)
	rec := doRequest(env.handler.DeleteInterval, "DELETE", nil, env.caller(), vars)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	var count int64
	env.db.Model(&models.AvailabilityInterval{}).Count(&count)
	assert.Zero(t, count)
}

func TestDeleteIntervalRejections(t *testing.T) {
	env := newTestEnv(t)

	// Past interval.
	past := env.seedInterval(t, scheduling.Today().AddDate(0, 0, -2), "09:00", "12:00")
	vars := env.instructorVars()
	vars["id"] = fmt.Sprint(past.ID)
	rec := doRequest(env.handler.DeleteInterval, "DELETE", nil, env.caller(), vars)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Booked interval.
	date := scheduling.Today().AddDate(0, 0, 7)
	booked := env.seedInterval(t, date, "09:00", "12:00")
	env.seedBooking(t, date, "09:00", "10:30")
	vars["id"] = fmt.Sprint(booked.ID)
	rec = doRequest(env.handler.DeleteInterval, "DELETE", nil, env.caller(), vars)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "booked")

	// Unknown interval.
	vars["id"] = "99999"
	rec = doRequest(env.handler.DeleteInterval, "DELETE", nil, env.caller(), vars)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListFutureIntervals(t *testing.T) {
	env := newTestEnv(t)
	env.seedInterval(t, scheduling.Today().AddDate(0, 0, -3), "09:00", "12:00")
	env.seedInterval(t, scheduling.Today().AddDate(0, 0, 2), "14:00", "16:00")
	env.seedInterval(t, scheduling.Today().AddDate(0, 0, 1), "09:00", "12:00")

	rec := doRequest(env.handler.ListFutureIntervals, "GET", nil, env.caller(), env.instructorVars())
	require.Equal(t, http.StatusOK, rec.Code)

	var intervals []models.AvailabilityInterval
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &intervals))
	require.Len(t, intervals, 2, "past intervals are excluded")
	assert.True(t, intervals[0].Date.Before(intervals[1].Date), "ordered by date")
}
