package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gel2mdt-server/internal/domain"
)

func (s *Server) handleCreateMDT(c *gin.Context) {
	var mdt domain.MDT
	if err := bindJSON(c, &mdt); err != nil {
		s.fail(c, err)
		return
	}
	mdt.ID = 0
	if err := s.deps.MDTs.Create(c.Request.Context(), &mdt, user(c)); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, mdt)
}

func (s *Server) handleListMDTs(c *gin.Context) {
	st, err := domain.ParseSampleType(c.DefaultQuery("sample_type", string(domain.RareDisease)))
	if err != nil {
		s.fail(c, err)
		return
	}
	mdts, err := s.deps.MDTs.List(c.Request.Context(), st)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mdts": mdts})
}

func (s *Server) handleGetMDT(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		s.fail(c, err)
		return
	}
	mdt, err := s.deps.MDTs.Get(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, mdt)
}

func (s *Server) handleUpdateMDT(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		s.fail(c, err)
		return
	}
	var update domain.MDTUpdate
	if err := bindJSON(c, &update); err != nil {
		s.fail(c, err)
		return
	}
	mdt, err := s.deps.MDTs.Update(c.Request.Context(), id, update)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, mdt)
}

func (s *Server) handleDeleteMDT(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.deps.MDTs.Delete(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// mdtLink parses the MDT id and the id of the linked report or attendee
func mdtLink(c *gin.Context, other string) (int64, int64, error) {
	mdtID, err := idParam(c, "id")
	if err != nil {
		return 0, 0, err
	}
	otherID, err := idParam(c, other)
	if err != nil {
		return 0, 0, err
	}
	return mdtID, otherID, nil
}

func (s *Server) handleAddMDTReport(c *gin.Context) {
	mdtID, reportID, err := mdtLink(c, "report_id")
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.deps.MDTs.AddReport(c.Request.Context(), mdtID, reportID); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"mdt_id": mdtID, "report_id": reportID})
}

func (s *Server) handleRemoveMDTReport(c *gin.Context) {
	mdtID, reportID, err := mdtLink(c, "report_id")
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.deps.MDTs.RemoveReport(c.Request.Context(), mdtID, reportID); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleAddMDTAttendee(c *gin.Context) {
	mdtID, attendeeID, err := mdtLink(c, "attendee_id")
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.deps.MDTs.AddAttendee(c.Request.Context(), mdtID, attendeeID); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"mdt_id": mdtID, "attendee_id": attendeeID})
}

func (s *Server) handleRemoveMDTAttendee(c *gin.Context) {
	mdtID, attendeeID, err := mdtLink(c, "attendee_id")
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.deps.MDTs.RemoveAttendee(c.Request.Context(), mdtID, attendeeID); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleCreateAttendee(c *gin.Context) {
	var attendee domain.Attendee
	if err := bindJSON(c, &attendee); err != nil {
		s.fail(c, err)
		return
	}
	if err := s.deps.MDTs.CreateAttendee(c.Request.Context(), &attendee); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, attendee)
}

func (s *Server) handleListAttendees(c *gin.Context) {
	attendees, err := s.deps.MDTs.ListAttendees(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attendees": attendees})
}
