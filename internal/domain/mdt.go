package domain

import (
	"time"
)

// MDTMeetingStatus is the lifecycle of an MDT meeting
type MDTMeetingStatus string

const (
	MeetingActive    MDTMeetingStatus = "A"
	MeetingCompleted MDTMeetingStatus = "C"
)

// Attendee is a member of staff who can attend MDTs
type Attendee struct {
	ID       int64        `json:"id"`
	Name     string       `json:"name"`
	Email    string       `json:"email"`
	Hospital string       `json:"hospital"`
	Role     AttendeeRole `json:"role"`
}

// MDT is a multidisciplinary team meeting
type MDT struct {
	ID              int64            `json:"id"`
	DateOfMDT       time.Time        `json:"date_of_mdt"`
	Status          MDTMeetingStatus `json:"status"`
	SampleType      SampleType       `json:"sample_type"`
	Description     string           `json:"description"`
	GATB            bool             `json:"gatb"`
	SentToClinician bool             `json:"sent_to_clinician"`
	Creator         string           `json:"creator"`
	Attendees       []Attendee       `json:"attendees"`
	Reports         []CaseSummary    `json:"reports"`
}

// MDTUpdate carries the editable fields of an MDT
type MDTUpdate struct {
	DateOfMDT       *time.Time        `json:"date_of_mdt,omitempty"`
	Status          *MDTMeetingStatus `json:"status,omitempty"`
	Description     *string           `json:"description,omitempty"`
	GATB            *bool             `json:"gatb,omitempty"`
	SentToClinician *bool             `json:"sent_to_clinician,omitempty"`
}

func (u MDTUpdate) Validate() error {
	if u.Status != nil && *u.Status != MeetingActive && *u.Status != MeetingCompleted {
		return NewValidationError("status", "must be A or C", *u.Status)
	}
	return nil
}

// OutcomeRecord is everything printed on a post-MDT outcome form
type OutcomeRecord struct {
	Detail    CaseDetail `json:"detail"`
	MDT       *MDT       `json:"mdt,omitempty"`
	Attendees []Attendee `json:"attendees"`
}

// MonthlyMDTSummary is the MDT activity of one programme in one calendar month
type MonthlyMDTSummary struct {
	Year           int               `json:"year"`
	Month          time.Month        `json:"month"`
	SampleType     SampleType        `json:"sample_type"`
	MDTCount       int               `json:"mdt_count"`
	CasesDiscussed int               `json:"cases_discussed"`
	Completed      int               `json:"completed"`
	NotCompleted   int               `json:"not_completed"`
	Outstanding    []OutstandingCase `json:"outstanding"`
}

// OutstandingCase is a discussed case that is not yet completed
type OutstandingCase struct {
	GELID         string `json:"gel_id"`
	ClinicianName string `json:"clinician_name"`
	IRFamilyID    string `json:"ir_family_id"`
}
