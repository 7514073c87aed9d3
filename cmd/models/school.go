package models

import (
	"gorm.io/gorm"
)

type School struct {
	gorm.Model
	Name    string `gorm:"column:name;size:255;not null" json:"name"`
	Email   string `gorm:"column:email;size:255" json:"email"`
	Phone   string `gorm:"column:phone;size:20" json:"phone"`
	Address string `gorm:"column:address;size:255" json:"address"`
	City    string `gorm:"column:city;size:100" json:"city"`
}

type Vehicle struct {
	gorm.Model
	SchoolID        uint   `gorm:"column:school_id;not null" json:"school_id"`
	Plate           string `gorm:"column:plate;size:20;not null" json:"plate"`
	Make            string `gorm:"column:make;size:100" json:"make"`
	VehicleModel    string `gorm:"column:model;size:100" json:"model"`
	Transmission    string `gorm:"column:transmission;size:20" json:"transmission"`
	LicenseCategory string `gorm:"column:license_category;size:10" json:"license_category"`

	School *School `gorm:"foreignKey:SchoolID" json:"-"`
}
