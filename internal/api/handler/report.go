// Package handler provides HTTP handlers for the report API.
package handler

import (
	"context"
	"net/http"

	"github.com/sqmreport/sqmreport/internal/api/middleware"
	"github.com/sqmreport/sqmreport/internal/api/models"
	"github.com/sqmreport/sqmreport/internal/api/response"
	"github.com/sqmreport/sqmreport/internal/report"
)

// ReportGenerator assembles a full report.
type ReportGenerator interface {
	Generate(ctx context.Context) *report.Report
}

// ReportHandler handles report endpoints.
type ReportHandler struct {
	reports ReportGenerator
}

// NewReportHandler creates a new ReportHandler.
func NewReportHandler(reports ReportGenerator) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// GetReport handles GET /v1/report - assemble the full report.
// A report with success=false is returned as a 503 problem carrying its code.
func (h *ReportHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	rep := h.reports.Generate(r.Context())
	if rep.Success {
		response.JSON(w, r, http.StatusOK, rep)
		return
	}

	code, detail := report.CodeInternal, "report could not be assembled"
	if rep.Error != nil {
		code, detail = rep.Error.Code, rep.Error.Message
	}
	response.Error(w, r, models.NewReportFailed(middleware.GetRequestID(r.Context()), code, detail))
}
