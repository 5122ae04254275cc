package airquality_test

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqmreport/sqmreport/internal/airquality"
	"github.com/sqmreport/sqmreport/internal/database"
)

// failingRepository wraps a repository and fails every call with err.
type failingRepository struct {
	err   error
	calls atomic.Int32
}

func (r *failingRepository) LatestReading(context.Context, string, string) (*airquality.Reading, error) {
	r.calls.Add(1)
	return nil, r.err
}

func (r *failingRepository) Average(context.Context, string, string, airquality.Window) (airquality.AverageResult, error) {
	r.calls.Add(1)
	return airquality.AverageResult{}, r.err
}

func at(hour, minute, second int) time.Time {
	return time.Date(2025, 7, 28, hour, minute, second, 0, time.UTC)
}

func reading(station, variable string, ts time.Time, value *float64) airquality.Reading {
	return airquality.Reading{Timestamp: ts, Station: station, Variable: variable, Value: value}
}

// testReadings holds E1/PM10 values [40, null, 60] spanning 01:13:40-02:13:40.
func testReadings() []airquality.Reading {
	return []airquality.Reading{
		reading("E1", "PM10", at(1, 13, 40), floatPtr(40)),
		reading("E1", "PM10", at(1, 45, 0), nil),
		reading("E1", "PM10", at(2, 13, 40), floatPtr(60)),
		// Outside the hourly window, inside the day.
		reading("E1", "PM10", at(0, 30, 0), floatPtr(10)),
		// Previous day.
		reading("E1", "PM10", time.Date(2025, 7, 27, 23, 59, 59, 0, time.UTC), floatPtr(1000)),
		reading("E1", "NO2_ONLY_NULL", at(2, 0, 0), nil),
	}
}

func newTestService(repo airquality.Repository) *airquality.Service {
	return airquality.NewService(airquality.ServiceConfig{
		Repository: repo,
		Logger:     zerolog.New(io.Discard),
	})
}

func TestHourlyAverage_TrailsLatestReading(t *testing.T) {
	svc := newTestService(airquality.NewInMemoryRepository(testReadings()...))

	result, err := svc.HourlyAverage(context.Background(), "E1", "PM10")

	require.NoError(t, err)
	require.True(t, result.HasData())
	assert.Equal(t, 50.0, *result.Mean)
	assert.Equal(t, int64(2), result.Count)
	assert.Equal(t, at(1, 13, 40), result.Window.From)
	assert.Equal(t, at(2, 13, 40), result.Window.To)
}

func TestHourlyAverage_Idempotent(t *testing.T) {
	svc := newTestService(airquality.NewInMemoryRepository(testReadings()...))

	first, err := svc.HourlyAverage(context.Background(), "E1", "PM10")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	second, err := svc.HourlyAverage(context.Background(), "E1", "PM10")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestHourlyAverage_NoReadingsIsNoData(t *testing.T) {
	svc := newTestService(airquality.NewInMemoryRepository(testReadings()...))

	result, err := svc.HourlyAverage(context.Background(), "E1", "NO2")

	require.NoError(t, err)
	assert.False(t, result.HasData())
	assert.Nil(t, result.Mean)
	assert.Zero(t, result.Count)
}

func TestAverages_AllNullIsNoData(t *testing.T) {
	svc := newTestService(airquality.NewInMemoryRepository(testReadings()...))

	hourly, err := svc.HourlyAverage(context.Background(), "E1", "NO2_ONLY_NULL")
	require.NoError(t, err)
	assert.Nil(t, hourly.Mean)

	daily, err := svc.DailyAverage(context.Background(), "E1", "NO2_ONLY_NULL", at(12, 0, 0))
	require.NoError(t, err)
	assert.Nil(t, daily.Mean)
	assert.Zero(t, daily.Count)
}

func TestDailyAverage_CalendarDay(t *testing.T) {
	svc := newTestService(airquality.NewInMemoryRepository(testReadings()...))

	result, err := svc.DailyAverage(context.Background(), "E1", "PM10", at(18, 0, 0))

	require.NoError(t, err)
	require.True(t, result.HasData())
	// 10, 40 and 60; the previous day's 1000 and the null are excluded.
	assert.Equal(t, 110.0/3, *result.Mean)
	assert.Equal(t, int64(3), result.Count)
	assert.Equal(t, time.Date(2025, 7, 28, 0, 0, 0, 0, time.UTC), result.Window.From)
	assert.Equal(t, time.Date(2025, 7, 28, 23, 59, 59, 0, time.UTC), result.Window.To)
}

func TestDailyAverage_StoreTimezone(t *testing.T) {
	madrid, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)

	repo := airquality.NewInMemoryRepository(
		// 23:30 UTC on the 27th is 01:30 on the 28th in Madrid (CEST).
		reading("E1", "PM10", time.Date(2025, 7, 27, 23, 30, 0, 0, time.UTC), floatPtr(20)),
		reading("E1", "PM10", time.Date(2025, 7, 28, 22, 30, 0, 0, time.UTC), floatPtr(80)),
	)
	svc := airquality.NewService(airquality.ServiceConfig{
		Repository: repo,
		Logger:     zerolog.New(io.Discard),
		Location:   madrid,
	})

	result, err := svc.DailyAverage(context.Background(), "E1", "PM10", time.Date(2025, 7, 28, 0, 0, 0, 0, time.UTC))

	require.NoError(t, err)
	require.True(t, result.HasData())
	assert.Equal(t, 20.0, *result.Mean)
	assert.Equal(t, int64(1), result.Count)
	assert.Equal(t, madrid, svc.Location())
}

func TestDailyAverage_NoData(t *testing.T) {
	svc := newTestService(airquality.NewInMemoryRepository(testReadings()...))

	result, err := svc.DailyAverage(context.Background(), "E1", "PM10", time.Date(2025, 7, 30, 0, 0, 0, 0, time.UTC))

	require.NoError(t, err)
	assert.False(t, result.HasData())
}

func TestLatestValue(t *testing.T) {
	svc := newTestService(airquality.NewInMemoryRepository(testReadings()...))

	latest, err := svc.LatestValue(context.Background(), "E1", "PM10")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, at(2, 13, 40), latest.Timestamp)
	assert.Equal(t, 60.0, *latest.Value)

	latest, err = svc.LatestValue(context.Background(), "E1", "NO2")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestLatestValue_NullReadingKeepsTimestamp(t *testing.T) {
	svc := newTestService(airquality.NewInMemoryRepository(testReadings()...))

	latest, err := svc.LatestValue(context.Background(), "E1", "NO2_ONLY_NULL")

	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Nil(t, latest.Value)
	assert.Equal(t, at(2, 0, 0), latest.Timestamp)
}

func TestSummary(t *testing.T) {
	svc := newTestService(airquality.NewInMemoryRepository(testReadings()...))

	summary, err := svc.Summary(context.Background(), "E1", "PM10", at(9, 0, 0))

	require.NoError(t, err)
	assert.Equal(t, "E1", summary.Station)
	assert.Equal(t, "PM10", summary.Variable)
	require.NotNil(t, summary.Latest)
	assert.Equal(t, 60.0, *summary.Latest.Value)
	assert.Equal(t, 50.0, *summary.Hourly.Mean)
	assert.Equal(t, int64(3), summary.Daily.Count)
}

func TestSummary_NoReadings(t *testing.T) {
	svc := newTestService(airquality.NewInMemoryRepository())

	summary, err := svc.Summary(context.Background(), "E1", "NO2", at(9, 0, 0))

	require.NoError(t, err)
	assert.Nil(t, summary.Latest)
	assert.False(t, summary.Hourly.HasData())
	assert.False(t, summary.Daily.HasData())
}

func TestService_DataUnavailableIsNotNoData(t *testing.T) {
	repo := &failingRepository{err: fmt.Errorf("%w: %w", airquality.ErrDataUnavailable, database.ErrPoolExhausted)}
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.HourlyAverage(ctx, "E1", "PM10")
	assert.ErrorIs(t, err, airquality.ErrDataUnavailable)
	assert.ErrorIs(t, err, database.ErrPoolExhausted)

	_, err = svc.DailyAverage(ctx, "E1", "PM10", at(0, 0, 0))
	assert.ErrorIs(t, err, airquality.ErrDataUnavailable)

	_, err = svc.LatestValue(ctx, "E1", "PM10")
	assert.ErrorIs(t, err, airquality.ErrDataUnavailable)

	summary, err := svc.Summary(ctx, "E1", "PM10", at(0, 0, 0))
	assert.ErrorIs(t, err, airquality.ErrDataUnavailable)
	assert.Nil(t, summary)
}

func TestService_InvalidPair(t *testing.T) {
	repo := &failingRepository{}
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.HourlyAverage(ctx, "", "PM10")
	assert.ErrorIs(t, err, airquality.ErrInvalidPair)

	_, err = svc.DailyAverage(ctx, "E1", "", at(0, 0, 0))
	assert.ErrorIs(t, err, airquality.ErrInvalidPair)

	_, err = svc.LatestValue(ctx, "", "")
	assert.ErrorIs(t, err, airquality.ErrInvalidPair)

	_, err = svc.Summary(ctx, "", "PM10", at(0, 0, 0))
	assert.ErrorIs(t, err, airquality.ErrInvalidPair)

	assert.Equal(t, int32(0), repo.calls.Load())
}

func TestService_ConcurrentCalls(t *testing.T) {
	svc := newTestService(airquality.NewInMemoryRepository(testReadings()...))

	var wg sync.WaitGroup
	results := make([]float64, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := svc.HourlyAverage(context.Background(), "E1", "PM10")
			if err == nil && result.Mean != nil {
				results[i] = *result.Mean
			}
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, 50.0, r)
	}
}

func TestWindow(t *testing.T) {
	w := airquality.HourWindow(at(2, 13, 40))

	assert.True(t, w.Contains(at(1, 13, 40)))
	assert.True(t, w.Contains(at(2, 13, 40)))
	assert.False(t, w.Contains(at(1, 13, 39)))
	assert.False(t, w.Contains(at(2, 13, 41)))

	day := airquality.DayWindow(at(15, 0, 0), nil)
	assert.True(t, day.Contains(at(0, 0, 0)))
	assert.True(t, day.Contains(at(23, 59, 59)))
	assert.False(t, day.Contains(time.Date(2025, 7, 29, 0, 0, 0, 0, time.UTC)))

	assert.False(t, w.IsZero())
	assert.True(t, airquality.Window{}.IsZero())
}

func TestToday(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	svc := airquality.NewService(airquality.ServiceConfig{
		Repository: airquality.NewInMemoryRepository(),
		Location:   tokyo,
	})

	today := svc.Today(time.Date(2025, 7, 28, 20, 0, 0, 0, time.UTC))
	y, m, d := today.Date()
	assert.Equal(t, 2025, y)
	assert.Equal(t, time.July, m)
	assert.Equal(t, 29, d)
}
