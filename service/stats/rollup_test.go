package stats

import (
	"testing"
	"time"

	"github.com/adjei-dev/drivetrack-server/cmd/models"
	"github.com/stretchr/testify/assert"
)

func day(n int) time.Time {
	return time.Date(2026, time.March, n, 0, 0, 0, 0, time.UTC)
}

func TestBuildSeries(t *testing.T) {
	sessions := []FinalizedSession{
		{Date: day(1), Total: 12, Mistakes: models.MistakeSet{{ItemID: 4, Count: 2}, {ItemID: 7, Count: 3}}},
		{Date: day(8), Total: 6, Mistakes: models.MistakeSet{{ItemID: 7, Count: 1}}},
		{Date: day(15), Total: 0, Mistakes: models.MistakeSet{}},
	}

	series := BuildSeries(sessions)
	assert.Equal(t, []SessionPoint{
		{Date: day(1), TotalPoints: 12, TopItemID: 7},
		{Date: day(8), TotalPoints: 6, TopItemID: 7},
		{Date: day(15), TotalPoints: 0},
	}, series)
}

func TestBuildSeriesTieKeepsEarlierItem(t *testing.T) {
	sessions := []FinalizedSession{
		{Date: day(1), Total: 9, Mistakes: models.MistakeSet{{ItemID: 2, Count: 3}, {ItemID: 5, Count: 3}}},
	}
	series := BuildSeries(sessions)
	assert.Equal(t, uint(2), series[0].TopItemID)
}

func TestBuildHeatmap(t *testing.T) {
	sessions := []FinalizedSession{
		{Date: day(1), Total: 12, Mistakes: models.MistakeSet{{ItemID: 4, Count: 2}, {ItemID: 7, Count: 3}}},
		{Date: day(8), Total: 0, Mistakes: models.MistakeSet{}},
		{Date: day(15), Total: 6, Mistakes: models.MistakeSet{{ItemID: 4, Count: 1}}},
	}

	cells := BuildHeatmap(sessions)
	assert.Equal(t, []HeatmapCell{
		{SessionIndex: 0, ItemID: 4, Count: 2},
		{SessionIndex: 0, ItemID: 7, Count: 3},
		{SessionIndex: 2, ItemID: 4, Count: 1},
	}, cells)
}

func TestMovingAverage(t *testing.T) {
	sessions := []FinalizedSession{
		{Total: 10}, {Total: 20}, {Total: 30}, {Total: 40},
	}

	// Full window of 2 once enough sessions exist, partial before that.
	assert.Equal(t, []float64{10, 15, 25, 35}, MovingAverage(sessions, 2))

	// Window of 1 is the raw series.
	assert.Equal(t, []float64{10, 20, 30, 40}, MovingAverage(sessions, 1))

	// Window beyond the series length averages everything seen so far.
	assert.Equal(t, []float64{10, 15, 20, 25}, MovingAverage(sessions, 10))
}

func TestEmptyInputs(t *testing.T) {
	assert.Empty(t, BuildSeries(nil))
	assert.Empty(t, BuildHeatmap(nil))
	assert.Empty(t, MovingAverage(nil, 3))
}
