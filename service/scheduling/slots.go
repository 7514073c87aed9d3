package scheduling

import (
	"time"

	"github.com/adjei-dev/drivetrack-server/cmd/models"
	"gorm.io/gorm"
)

// Slot is one bookable window offered to a student.
type Slot struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// SlotPlanner enumerates bookable windows of a fixed session duration inside
// an instructor's availability, filtered through the conflict checker.
type SlotPlanner struct {
	db        *gorm.DB
	conflicts *ConflictChecker
}

func NewSlotPlanner(db *gorm.DB) *SlotPlanner {
	return &SlotPlanner{db: db, conflicts: NewConflictChecker(db)}
}

// Enumerate walks each availability interval of the instructor on the given
// date along a fixed grid anchored at the interval's start: candidates sit at
// offsets that are multiples of sessionDuration, so a conflicting booking on
// the grid hides the rest of that interval's grid positions. Results are
// recomputed fresh on every call.
func (p *SlotPlanner) Enumerate(instructorID uint, vehicleID *uint, date time.Time, sessionDuration int) ([]Slot, error) {
	var intervals []models.AvailabilityInterval
	err := p.db.Where("instructor_id = ? AND date = ?", instructorID, DateOnly(date)).
		Order("start_time").
		Find(&intervals).Error
	if err != nil {
		return nil, err
	}

	slots := []Slot{}
	for _, interval := range intervals {
		start, err := ParseClock(interval.StartTime)
		if err != nil {
			return nil, err
		}
		end, err := ParseClock(interval.EndTime)
		if err != nil {
			return nil, err
		}

		for cursor := start; cursor+sessionDuration <= end; cursor += sessionDuration {
			candidateEnd := cursor + sessionDuration

			conflict, err := p.conflicts.HasConflict(KindInstructor, instructorID, date, cursor, candidateEnd, 0)
			if err != nil {
				return nil, err
			}
			if !conflict && vehicleID != nil {
				conflict, err = p.conflicts.HasConflict(KindVehicle, *vehicleID, date, cursor, candidateEnd, 0)
				if err != nil {
					return nil, err
				}
			}
			if conflict {
				continue
			}

			slots = append(slots, Slot{
				StartTime: FormatClock(cursor),
				EndTime:   FormatClock(candidateEnd),
			})
		}
	}
	return slots, nil
}
