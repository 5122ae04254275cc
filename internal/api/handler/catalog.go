package handler

import (
	"net/http"
	"time"

	"github.com/sqmreport/sqmreport/internal/api/models"
	"github.com/sqmreport/sqmreport/internal/api/response"
	"github.com/sqmreport/sqmreport/internal/report"
)

// CatalogHandler handles catalog endpoints.
type CatalogHandler struct {
	body models.Catalog
}

// NewCatalogHandler creates a new CatalogHandler. The catalog is fixed for the
// life of the process, so the body is built once.
func NewCatalogHandler(catalog *report.Catalog, loc *time.Location) *CatalogHandler {
	if loc == nil {
		loc = time.UTC
	}

	body := models.Catalog{
		Stations: make([]models.CatalogStation, 0),
		Timezone: loc.String(),
	}
	if catalog != nil {
		for _, station := range catalog.Stations() {
			body.Stations = append(body.Stations, models.CatalogStation{
				Name:      station,
				Variables: catalog.Variables(station),
			})
		}
		body.Pairs = catalog.Len()
	}

	return &CatalogHandler{body: body}
}

// GetCatalog handles GET /v1/catalog - list the reported pairs.
func (h *CatalogHandler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, h.body)
}
