package handler

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/sqmreport/sqmreport/internal/airquality"
	"github.com/sqmreport/sqmreport/internal/api/models"
	"github.com/sqmreport/sqmreport/internal/api/response"
)

// PairSummarizer computes the figures for one station and variable.
type PairSummarizer interface {
	Summary(ctx context.Context, station, variable string, date time.Time) (*airquality.PairSummary, error)
	Location() *time.Location
	Today(now time.Time) time.Time
}

// averagesQuery is the validated input of GetAverages.
type averagesQuery struct {
	Station  string `json:"station" validate:"required,max=128"`
	Variable string `json:"variable" validate:"required,max=128"`
	Date     string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

// AveragesHandler handles single-pair endpoints.
type AveragesHandler struct {
	service  PairSummarizer
	validate *validator.Validate
	now      func() time.Time
}

// NewAveragesHandler creates a new AveragesHandler.
func NewAveragesHandler(service PairSummarizer) *AveragesHandler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	})

	return &AveragesHandler{
		service:  service,
		validate: v,
		now:      time.Now,
	}
}

// GetAverages handles GET /v1/stations/{station}/variables/{variable}/averages.
// The optional date query parameter (YYYY-MM-DD) selects the calendar day in
// the store timezone; it defaults to today.
func (h *AveragesHandler) GetAverages(w http.ResponseWriter, r *http.Request) {
	q := averagesQuery{
		Station:  strings.TrimSpace(pathParam(r, "station")),
		Variable: strings.TrimSpace(pathParam(r, "variable")),
		Date:     r.URL.Query().Get("date"),
	}

	if err := h.validate.Struct(q); err != nil {
		response.BadRequest(w, r, "invalid averages request", fieldErrors(err))
		return
	}

	date := h.service.Today(h.now())
	if q.Date != "" {
		parsed, err := time.ParseInLocation(time.DateOnly, q.Date, h.service.Location())
		if err != nil {
			response.BadRequest(w, r, "date must be formatted as YYYY-MM-DD", nil)
			return
		}
		date = parsed
	}

	summary, err := h.service.Summary(r.Context(), q.Station, q.Variable, date)
	switch {
	case err == nil:
	case errors.Is(err, airquality.ErrInvalidPair):
		response.BadRequest(w, r, err.Error(), nil)
		return
	case errors.Is(err, context.Canceled):
		zerolog.Ctx(r.Context()).Debug().Err(err).
			Str("station", q.Station).
			Str("variable", q.Variable).
			Msg("averages request cancelled")
		response.ServiceUnavailable(w, r, "request cancelled")
		return
	case errors.Is(err, airquality.ErrDataUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		zerolog.Ctx(r.Context()).Warn().Err(err).
			Str("station", q.Station).
			Str("variable", q.Variable).
			Msg("averages unavailable")
		response.ServiceUnavailable(w, r, "data temporarily unavailable")
		return
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).
			Str("station", q.Station).
			Str("variable", q.Variable).
			Msg("averages failed")
		response.InternalError(w, r, "failed to compute averages")
		return
	}

	response.JSON(w, r, http.StatusOK, toPairAverages(summary, date))
}

func toPairAverages(s *airquality.PairSummary, date time.Time) models.PairAverages {
	out := models.PairAverages{
		Station:  s.Station,
		Variable: s.Variable,
		Date:     date.Format(time.DateOnly),
		Hourly:   toAverage(s.Hourly),
		Daily:    toAverage(s.Daily),
	}
	if s.Latest != nil {
		out.LatestValue = s.Latest.Value
		out.LatestAt = models.TimestampPtr(&s.Latest.Timestamp)
	}
	return out
}

func toAverage(a airquality.AverageResult) models.Average {
	out := models.Average{
		Value: a.Mean,
		Count: a.Count,
	}
	if !a.Window.IsZero() {
		out.Window = &models.Window{
			From: models.Timestamp(a.Window.From),
			To:   models.Timestamp(a.Window.To),
		}
	}
	return out
}

// pathParam returns a decoded chi URL parameter. chi matches against the
// escaped path when one is present.
func pathParam(r *http.Request, key string) string {
	v := chi.URLParam(r, key)
	if r.URL.RawPath == "" {
		return v
	}
	if decoded, err := url.PathUnescape(v); err == nil {
		return decoded
	}
	return v
}

func fieldErrors(err error) []models.FieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}

	out := make([]models.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fieldErr := models.FieldError{Field: fe.Field(), Code: strings.ToUpper(fe.Tag())}
		switch fe.Tag() {
		case "required":
			fieldErr.Message = "is required"
		case "max":
			fieldErr.Message = "must be at most " + fe.Param() + " characters"
		case "datetime":
			fieldErr.Message = "must be formatted as YYYY-MM-DD"
		default:
			fieldErr.Message = "is invalid"
		}
		out = append(out, fieldErr)
	}
	return out
}
