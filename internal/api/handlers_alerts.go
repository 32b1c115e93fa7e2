package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gel2mdt-server/internal/alerts"
	"github.com/gel2mdt-server/internal/domain"
)

func (s *Server) handleListAlerts(c *gin.Context) {
	var st domain.SampleType
	if raw := c.Query("sample_type"); raw != "" {
		parsed, err := domain.ParseSampleType(raw)
		if err != nil {
			s.fail(c, err)
			return
		}
		st = parsed
	}
	limit, err := intQuery(c, "limit", 100)
	if err != nil {
		s.fail(c, err)
		return
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		s.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	list, err := s.deps.Alerts.List(ctx, st, limit, offset)
	if err != nil {
		s.fail(c, err)
		return
	}
	total, err := s.deps.Alerts.Count(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": list, "total": total})
}

func (s *Server) handleCreateAlert(c *gin.Context) {
	var alert alerts.CaseAlert
	if err := bindJSON(c, &alert); err != nil {
		s.fail(c, err)
		return
	}
	alert.ID = 0
	if err := s.deps.Alerts.Save(c.Request.Context(), &alert); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, alert)
}

func (s *Server) handleUpdateAlert(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		s.fail(c, err)
		return
	}
	var alert alerts.CaseAlert
	if err := bindJSON(c, &alert); err != nil {
		s.fail(c, err)
		return
	}
	alert.ID = id
	if err := s.deps.Alerts.Update(c.Request.Context(), &alert); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (s *Server) handleDeleteAlert(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.deps.Alerts.Delete(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleExportAlerts(c *gin.Context) {
	c.Header("Content-Type", "application/json")
	c.Header("Content-Disposition", `attachment; filename="case_alerts.json"`)
	c.Status(http.StatusOK)
	if err := s.deps.Alerts.ExportJSON(c.Request.Context(), c.Writer); err != nil {
		// headers are gone; all we can do is log
		s.logger.WithError(err).Error("Case alert export failed")
	}
}

func (s *Server) handleImportAlerts(c *gin.Context) {
	imported, skipped, err := s.deps.Alerts.ImportJSON(c.Request.Context(), c.Request.Body)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": imported, "skipped": skipped})
}
