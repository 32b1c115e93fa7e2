package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/gel2mdt-server/internal/domain"
	"github.com/gel2mdt-server/internal/service"
)

func (s *Server) handleListCases(c *gin.Context) {
	st, err := sampleTypeParam(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	cases, err := s.deps.Cases.LatestCases(c.Request.Context(), st, c.QueryArray("gmc"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cases": cases, "count": len(cases)})
}

func (s *Server) handleGetReport(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		s.fail(c, err)
		return
	}
	detail, err := s.deps.Cases.CaseDetail(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (s *Server) handleUpdateReport(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		s.fail(c, err)
		return
	}
	var update domain.ReportUpdate
	if err := bindJSON(c, &update); err != nil {
		s.fail(c, err)
		return
	}
	report, err := s.deps.Cases.UpdateReport(c.Request.Context(), id, update, user(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleUpdateProband(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		s.fail(c, err)
		return
	}
	var proband domain.Proband
	if err := bindJSON(c, &proband); err != nil {
		s.fail(c, err)
		return
	}
	proband.ID = id
	if err := s.deps.Cases.UpdateProband(c.Request.Context(), &proband); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, proband)
}

func (s *Server) handleUpdateRelative(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		s.fail(c, err)
		return
	}
	var relative domain.Relative
	if err := bindJSON(c, &relative); err != nil {
		s.fail(c, err)
		return
	}
	relative.ID = id
	if err := s.deps.Cases.UpdateRelative(c.Request.Context(), &relative); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, relative)
}

type commentRequest struct {
	Comment string `json:"comment"`
}

func (s *Server) handleAddComment(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		s.fail(c, err)
		return
	}
	var req commentRequest
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	comment, err := s.deps.Cases.AddComment(c.Request.Context(), id, user(c), req.Comment)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

func (s *Server) handleEditComment(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		s.fail(c, err)
		return
	}
	var req commentRequest
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	if err := s.deps.Cases.EditComment(c.Request.Context(), id, req.Comment); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "comment": req.Comment})
}

func (s *Server) handleDeleteComment(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.deps.Cases.DeleteComment(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleUpdateValidation(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		s.fail(c, err)
		return
	}
	var v domain.VariantValidation
	if err := bindJSON(c, &v); err != nil {
		s.fail(c, err)
		return
	}
	pv, err := s.deps.Cases.UpdateValidation(c.Request.Context(), id, v)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pv)
}

func (s *Server) handleSelectTranscript(c *gin.Context) {
	pvID, err := idParam(c, "id")
	if err != nil {
		s.fail(c, err)
		return
	}
	tvID, err := idParam(c, "tv_id")
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.deps.Cases.SelectTranscript(c.Request.Context(), pvID, tvID); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"proband_variant_id": pvID, "selected_transcript_id": tvID})
}

func (s *Server) handleSetPreferredTranscript(c *gin.Context) {
	var pt domain.PreferredTranscript
	if err := bindJSON(c, &pt); err != nil {
		s.fail(c, err)
		return
	}
	if err := s.deps.Cases.SetPreferredTranscript(c.Request.Context(), pt); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pt)
}

func (s *Server) handleCheckHGVS(c *gin.Context) {
	var req struct {
		HGVS string `json:"hgvs"`
	}
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	result, err := s.deps.Cases.CheckHGVS(c.Request.Context(), req.HGVS)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleSearchGene(c *gin.Context) {
	st, err := domain.ParseSampleType(c.DefaultQuery("sample_type", string(domain.RareDisease)))
	if err != nil {
		s.fail(c, err)
		return
	}
	hits, err := s.deps.Cases.SearchGene(c.Request.Context(), c.Query("symbol"), st)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hits": hits, "count": len(hits)})
}

func (s *Server) handleGetPanel(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		s.fail(c, err)
		return
	}
	pv, err := s.deps.Cases.PanelVersion(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pv)
}

func (s *Server) handleAudit(c *gin.Context) {
	st, err := sampleTypeParam(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	counts, err := s.deps.Cases.Audit(c.Request.Context(), st)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sample_type": st, "counts": counts})
}

func (s *Server) handleListUpdates(c *gin.Context) {
	limit, err := intQuery(c, "limit", 50)
	if err != nil {
		s.fail(c, err)
		return
	}
	updates, err := s.deps.Cases.RecentListUpdates(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"list_updates": updates})
}

// handlePullT3 queues a re-ingestion of one report with tier 3 variants included
func (s *Server) handlePullT3(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		s.fail(c, err)
		return
	}
	s.background("pull_t3", logrus.Fields{"report_id": id, "user": user(c)}, func(ctx context.Context) (*domain.ListUpdate, error) {
		return s.deps.Ingester.UpdateForT3(ctx, id)
	})
	c.JSON(http.StatusAccepted, gin.H{"report_id": id, "status": "queued"})
}

// handleIngest queues an ingestion run; ?sample= limits it to one participant
func (s *Server) handleIngest(c *gin.Context) {
	st, err := sampleTypeParam(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	opts := service.RunOptions{
		Sample:    c.Query("sample"),
		PullT3:    c.Query("pull_t3") == "1",
		Overwrite: c.Query("overwrite") == "1",
	}
	s.background("ingest", logrus.Fields{"sample_type": st, "user": user(c)}, func(ctx context.Context) (*domain.ListUpdate, error) {
		return s.deps.Ingester.Run(ctx, st, opts)
	})
	c.JSON(http.StatusAccepted, gin.H{"sample_type": st, "status": "queued"})
}
