package models

import (
	"gorm.io/gorm"
)

// TeachingCategory is a license-type-specific program: it fixes how long a
// driving session lasts and how many lessons the enrollment requires.
type TeachingCategory struct {
	gorm.Model
	Code            string  `gorm:"column:code;size:10;not null" json:"code"`
	Name            string  `gorm:"column:name;size:255;not null" json:"name"`
	SessionDuration int     `gorm:"column:session_duration;not null" json:"session_duration"`
	LessonCount     int     `gorm:"column:lesson_count;not null" json:"lesson_count"`
	Price           float64 `gorm:"column:price;not null" json:"price"`
}

func (TeachingCategory) TableName() string {
	return "teaching_categories"
}

// File is the enrollment record linking a student to an instructor, an
// optional vehicle and a teaching category. Appointments hang off it.
type File struct {
	gorm.Model
	Reference          string `gorm:"column:reference;size:64;not null;uniqueIndex" json:"reference"`
	StudentID          uint   `gorm:"column:student_id;not null" json:"student_id"`
	InstructorID       *uint  `gorm:"column:instructor_id" json:"instructor_id"`
	VehicleID          *uint  `gorm:"column:vehicle_id" json:"vehicle_id"`
	TeachingCategoryID *uint  `gorm:"column:teaching_category_id" json:"teaching_category_id"`
	SchoolID           uint   `gorm:"column:school_id;not null" json:"school_id"`
	Status             string `gorm:"column:status;size:50;not null;default:active" json:"status"`

	Student          *User             `gorm:"foreignKey:StudentID" json:"student,omitempty"`
	Instructor       *User             `gorm:"foreignKey:InstructorID" json:"instructor,omitempty"`
	Vehicle          *Vehicle          `gorm:"foreignKey:VehicleID" json:"vehicle,omitempty"`
	TeachingCategory *TeachingCategory `gorm:"foreignKey:TeachingCategoryID" json:"teaching_category,omitempty"`
}
