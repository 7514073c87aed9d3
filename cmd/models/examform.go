package models

import (
	"gorm.io/gorm"
)

// ExamForm is the penalty catalog used to score a driving session for one
// teaching category. A session fails when its accumulated penalty points
// exceed MaxPoints.
type ExamForm struct {
	gorm.Model
	TeachingCategoryID uint   `gorm:"column:teaching_category_id;not null;index" json:"teaching_category_id"`
	Title              string `gorm:"column:title;size:255;not null" json:"title"`
	MaxPoints          int    `gorm:"column:max_points;not null" json:"max_points"`

	Items []ExamItem `gorm:"foreignKey:ExamFormID" json:"items,omitempty"`
}

func (ExamForm) TableName() string {
	return "exam_forms"
}

type ExamItem struct {
	gorm.Model
	ExamFormID    uint   `gorm:"column:exam_form_id;not null;index" json:"exam_form_id"`
	Description   string `gorm:"column:description;size:255;not null" json:"description"`
	PenaltyPoints int    `gorm:"column:penalty_points;not null" json:"penalty_points"`
	OrderIndex    int    `gorm:"column:order_index;not null" json:"order_index"`
}

func (ExamItem) TableName() string {
	return "exam_items"
}
