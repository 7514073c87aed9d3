package models

import (
	"time"

	"gorm.io/gorm"
)

// Appointment is a committed driving lesson. The instructor and vehicle are
// resolved through the File it belongs to.
type Appointment struct {
	gorm.Model
	FileID    uint      `gorm:"column:file_id;not null;index" json:"file_id"`
	Date      time.Time `gorm:"column:date;type:date;not null" json:"date"`
	StartTime string    `gorm:"column:start_time;size:5;not null" json:"start_time"`
	EndTime   string    `gorm:"column:end_time;size:5;not null" json:"end_time"`

	File *File `gorm:"foreignKey:FileID" json:"file,omitempty"`
}
