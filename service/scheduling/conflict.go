package scheduling

import (
	"time"

	"github.com/adjei-dev/drivetrack-server/cmd/models"
	"gorm.io/gorm"
)

// ResourceKind names the bookable resource an appointment occupies.
type ResourceKind string

const (
	KindInstructor ResourceKind = "instructor"
	KindVehicle    ResourceKind = "vehicle"
)

// AppointmentSlot carries everything the conflict and availability checks
// need about a candidate booking, resolved once from its File.
type AppointmentSlot struct {
	InstructorID uint
	VehicleID    *uint
	Date         time.Time
	StartMinute  int
	EndMinute    int
}

// ConflictChecker decides whether a candidate window collides with a
// committed appointment for the same instructor or vehicle.
type ConflictChecker struct {
	db *gorm.DB
}

func NewConflictChecker(db *gorm.DB) *ConflictChecker {
	return &ConflictChecker{db: db}
}

// HasConflict scans same-date committed appointments whose File references
// the given resource and reports whether any of them overlaps the candidate
// window. excludeAppointmentID (0 for none) skips the appointment being
// updated.
func (c *ConflictChecker) HasConflict(kind ResourceKind, resourceID uint, date time.Time, startMinute, endMinute int, excludeAppointmentID uint) (bool, error) {
	query := c.db.Model(&models.Appointment{}).
		Joins("JOIN files ON files.id = appointments.file_id").
		Where("appointments.date = ?", DateOnly(date))

	if kind == KindVehicle {
		query = query.Where("files.vehicle_id = ?", resourceID)
	} else {
		query = query.Where("files.instructor_id = ?", resourceID)
	}
	if excludeAppointmentID != 0 {
		query = query.Where("appointments.id != ?", excludeAppointmentID)
	}

	var appointments []models.Appointment
	if err := query.Find(&appointments).Error; err != nil {
		return false, err
	}

	for _, appt := range appointments {
		start, err := ParseClock(appt.StartTime)
		if err != nil {
			return false, err
		}
		end, err := ParseClock(appt.EndTime)
		if err != nil {
			return false, err
		}
		if Overlaps(startMinute, endMinute, start, end) {
			return true, nil
		}
	}
	return false, nil
}

// SlotConflict runs the instructor check and, when the slot has a vehicle
// assigned, the vehicle check. It returns the kind that conflicted.
func (c *ConflictChecker) SlotConflict(slot AppointmentSlot, excludeAppointmentID uint) (ResourceKind, bool, error) {
	conflict, err := c.HasConflict(KindInstructor, slot.InstructorID, slot.Date, slot.StartMinute, slot.EndMinute, excludeAppointmentID)
	if err != nil {
		return "", false, err
	}
	if conflict {
		return KindInstructor, true, nil
	}
	if slot.VehicleID != nil {
		conflict, err = c.HasConflict(KindVehicle, *slot.VehicleID, slot.Date, slot.StartMinute, slot.EndMinute, excludeAppointmentID)
		if err != nil {
			return "", false, err
		}
		if conflict {
			return KindVehicle, true, nil
		}
	}
	return "", false, nil
}
