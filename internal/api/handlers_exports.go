package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/gel2mdt-server/internal/domain"
	"github.com/gel2mdt-server/internal/export"
)

// deliver sends a generated file, first archiving it when ?archive=1
func (s *Server) deliver(c *gin.Context, name, contentType string, data []byte) {
	if c.Query("archive") == "1" {
		key, err := s.deps.Archive.Put(c.Request.Context(), name, contentType, data)
		if err != nil {
			s.fail(c, fmt.Errorf("archiving %s: %w", name, err))
			return
		}
		if key != "" {
			c.Header("X-Archive-Key", key)
		}
		s.logger.WithFields(logrus.Fields{"file": name, "key": key, "user": user(c)}).Info("Export archived")
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	c.Data(http.StatusOK, contentType, data)
}

func (s *Server) handleExportMDT(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		s.fail(c, err)
		return
	}
	data, err := s.deps.MDTs.ExportData(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	workbook, err := export.MDTWorkbook(data.MDT, data.Cases)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.deliver(c, fmt.Sprintf("mdt_%d.xlsx", id), export.XLSXContentType, workbook)
}

func (s *Server) handleExportOutcome(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		s.fail(c, err)
		return
	}
	rec, err := s.deps.Cases.OutcomeRecord(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	doc, err := export.OutcomeDocument(rec)
	if err != nil {
		s.fail(c, err)
		return
	}
	name := fmt.Sprintf("%s_%s.docx", rec.Detail.Proband.GELID, rec.Detail.Report.IRFamilyRef)
	s.deliver(c, name, export.DOCXContentType, doc)
}

// handleExportMonthly summarises MDT activity for the last ?months= months (default 12)
func (s *Server) handleExportMonthly(c *gin.Context) {
	months, err := intQuery(c, "months", 12)
	if err != nil {
		s.fail(c, err)
		return
	}
	summaries, err := s.deps.MDTs.MonthlySummaries(c.Request.Context(), months, time.Now().UTC())
	if err != nil {
		s.fail(c, err)
		return
	}
	workbook, err := export.MonthlyWorkbook(summaries)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.deliver(c, "mdt_monthly_summary.xlsx", export.XLSXContentType, workbook)
}

func (s *Server) allLatestCases(c *gin.Context) ([]domain.CaseSummary, error) {
	var all []domain.CaseSummary
	for _, st := range []domain.SampleType{domain.RareDisease, domain.Cancer} {
		cases, err := s.deps.Cases.LatestCases(c.Request.Context(), st, c.QueryArray("gmc"))
		if err != nil {
			return nil, err
		}
		all = append(all, cases...)
	}
	return all, nil
}

func (s *Server) handleExportNotCompleted(c *gin.Context) {
	cases, err := s.allLatestCases(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	workbook, err := export.NotCompletedWorkbook(cases)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.deliver(c, "cases_not_completed.xlsx", export.XLSXContentType, workbook)
}

func (s *Server) handleExportCases(c *gin.Context) {
	cases, err := s.allLatestCases(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	data, err := export.CasesCSV(cases)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.deliver(c, "GEL2MDT_export.csv", export.CSVContentType, data)
}
