package stats

import (
	"time"

	"github.com/adjei-dev/drivetrack-server/cmd/models"
)

// SessionPoint is one finalized session in chronological order.
type SessionPoint struct {
	Date        time.Time `json:"date"`
	TotalPoints int       `json:"total_points"`
	TopItemID   uint      `json:"top_item_id,omitempty"`
}

// HeatmapCell is one (session, exam item) tally.
type HeatmapCell struct {
	SessionIndex int  `json:"session_index"`
	ItemID       uint `json:"item_id"`
	Count        int  `json:"count"`
}

// FinalizedSession pairs a sealed form with its appointment date.
type FinalizedSession struct {
	Date     time.Time
	Mistakes models.MistakeSet
	Total    int
}

// BuildSeries produces the chronological (date, totalPoints, topMistakeItem)
// series. The top item is the entry with the highest count; ties keep the
// earlier-recorded item.
func BuildSeries(sessions []FinalizedSession) []SessionPoint {
	series := []SessionPoint{}
	for _, s := range sessions {
		point := SessionPoint{Date: s.Date, TotalPoints: s.Total}
		best := 0
		for _, e := range s.Mistakes {
			if e.Count > best {
				best = e.Count
				point.TopItemID = e.ItemID
			}
		}
		series = append(series, point)
	}
	return series
}

// BuildHeatmap flattens per-session mistake tallies into (sessionIndex,
// itemID) cells. Sessions without mistakes contribute no cells.
func BuildHeatmap(sessions []FinalizedSession) []HeatmapCell {
	cells := []HeatmapCell{}
	for i, s := range sessions {
		for _, e := range s.Mistakes {
			cells = append(cells, HeatmapCell{SessionIndex: i, ItemID: e.ItemID, Count: e.Count})
		}
	}
	return cells
}

// MovingAverage computes the simple moving average of totalPoints over the
// series. Positions before a full window average what is available so far.
func MovingAverage(sessions []FinalizedSession, window int) []float64 {
	if window < 1 {
		window = 1
	}
	averages := []float64{}
	sum := 0
	for i, s := range sessions {
		sum += s.Total
		if i >= window {
			sum -= sessions[i-window].Total
		}
		span := i + 1
		if span > window {
			span = window
		}
		averages = append(averages, float64(sum)/float64(span))
	}
	return averages
}
