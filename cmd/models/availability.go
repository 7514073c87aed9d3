package models

import (
	"time"

	"gorm.io/gorm"
)

// AvailabilityInterval is a block of time on a given date during which an
// instructor can be booked. Times are minute-granular "HH:MM" strings.
type AvailabilityInterval struct {
	gorm.Model
	InstructorID uint      `gorm:"column:instructor_id;not null;index" json:"instructor_id"`
	Date         time.Time `gorm:"column:date;type:date;not null" json:"date"`
	StartTime    string    `gorm:"column:start_time;size:5;not null" json:"start_time"`
	EndTime      string    `gorm:"column:end_time;size:5;not null" json:"end_time"`

	Instructor *User `gorm:"foreignKey:InstructorID" json:"-"`
}

func (AvailabilityInterval) TableName() string {
	return "availability_intervals"
}
