package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

const (
	SessionResultOK     = "OK"
	SessionResultFailed = "FAILED"
)

// MistakeEntry is one tallied infraction on a session form.
type MistakeEntry struct {
	ItemID uint `json:"item_id"`
	Count  int  `json:"count"`
}

// MistakeSet is an ordered examItemID -> count map. Entries keep the order in
// which items were first recorded; counts never go negative and entries that
// reach zero are pruned.
type MistakeSet []MistakeEntry

// CountFor returns the tallied count for an item, 0 when absent.
func (m MistakeSet) CountFor(itemID uint) int {
	for _, e := range m {
		if e.ItemID == itemID {
			return e.Count
		}
	}
	return 0
}

// Apply adds delta to the item's count, flooring at zero, and returns the
// resulting count. Decrementing an absent item is a no-op that returns 0.
func (m *MistakeSet) Apply(itemID uint, delta int) int {
	entries := *m
	for i, e := range entries {
		if e.ItemID != itemID {
			continue
		}
		count := e.Count + delta
		if count <= 0 {
			*m = append(entries[:i], entries[i+1:]...)
			return 0
		}
		entries[i].Count = count
		return count
	}
	if delta <= 0 {
		return 0
	}
	*m = append(entries, MistakeEntry{ItemID: itemID, Count: delta})
	return delta
}

// TotalPoints sums count * penalty over the set using the given catalog.
func (m MistakeSet) TotalPoints(penalties map[uint]int) int {
	total := 0
	for _, e := range m {
		total += e.Count * penalties[e.ItemID]
	}
	return total
}

func (m MistakeSet) Value() (driver.Value, error) {
	if len(m) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (m *MistakeSet) Scan(value interface{}) error {
	if value == nil {
		*m = MistakeSet{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	}
	return errors.New("unsupported mistake set column type")
}

// SessionForm is the per-appointment evaluation record. It is created open,
// mutated only while open, and sealed exactly once by finalize.
type SessionForm struct {
	gorm.Model
	AppointmentID uint       `gorm:"column:appointment_id;not null;uniqueIndex" json:"appointment_id"`
	ExamFormID    uint       `gorm:"column:exam_form_id;not null" json:"exam_form_id"`
	Mistakes      MistakeSet `gorm:"column:mistakes;type:text" json:"mistakes"`
	IsLocked      bool       `gorm:"column:is_locked;not null;default:false" json:"is_locked"`
	FinalizedAt   *time.Time `gorm:"column:finalized_at" json:"finalized_at,omitempty"`
	TotalPoints   *int       `gorm:"column:total_points" json:"total_points,omitempty"`
	Result        string     `gorm:"column:result;size:20" json:"result,omitempty"`

	Appointment *Appointment `gorm:"foreignKey:AppointmentID" json:"appointment,omitempty"`
	ExamForm    *ExamForm    `gorm:"foreignKey:ExamFormID" json:"exam_form,omitempty"`
}

func (SessionForm) TableName() string {
	return "session_forms"
}
