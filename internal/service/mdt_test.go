package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gel2mdt-server/internal/domain"
)

func TestMDTService_Create(t *testing.T) {
	mdts := new(MockMDTRepository)
	svc := NewMDTService(mdts, new(MockCaseRepository), testLogger())
	ctx := context.Background()

	mdts.On("Create", ctx, mock.AnythingOfType("*domain.MDT")).Return(nil)

	mdt := &domain.MDT{SampleType: domain.Cancer}
	require.NoError(t, svc.Create(ctx, mdt, "alice"))
	assert.Equal(t, "alice", mdt.Creator)
	assert.False(t, mdt.DateOfMDT.IsZero())

	var vErr *domain.ValidationError
	assert.True(t, errors.As(svc.Create(ctx, &domain.MDT{}, "alice"), &vErr))
	mdts.AssertNumberOfCalls(t, "Create", 1)
}

func TestMDTService_AddReport(t *testing.T) {
	ctx := context.Background()

	t.Run("MovesStatusToInProgress", func(t *testing.T) {
		mdts := new(MockMDTRepository)
		cases := new(MockCaseRepository)
		svc := NewMDTService(mdts, cases, testLogger())

		inProgress := domain.MDTInProgress
		mdts.On("Get", ctx, int64(1)).Return(&domain.MDT{ID: 1, SampleType: domain.RareDisease}, nil)
		cases.On("GetReport", ctx, int64(7)).Return(&domain.InterpretationReport{
			ID: 7, SampleType: domain.RareDisease, MDTStatus: domain.MDTRequired,
		}, nil)
		mdts.On("AddReport", ctx, int64(1), int64(7)).Return(nil)
		cases.On("UpdateReport", ctx, int64(7), domain.ReportUpdate{MDTStatus: &inProgress}).
			Return(&domain.InterpretationReport{ID: 7}, nil)

		require.NoError(t, svc.AddReport(ctx, 1, 7))
		cases.AssertExpectations(t)
	})

	t.Run("KeepsDoneStatus", func(t *testing.T) {
		mdts := new(MockMDTRepository)
		cases := new(MockCaseRepository)
		svc := NewMDTService(mdts, cases, testLogger())

		mdts.On("Get", ctx, int64(1)).Return(&domain.MDT{ID: 1, SampleType: domain.RareDisease}, nil)
		cases.On("GetReport", ctx, int64(8)).Return(&domain.InterpretationReport{
			ID: 8, SampleType: domain.RareDisease, MDTStatus: domain.MDTDone,
		}, nil)
		mdts.On("AddReport", ctx, int64(1), int64(8)).Return(nil)

		require.NoError(t, svc.AddReport(ctx, 1, 8))
		cases.AssertNotCalled(t, "UpdateReport", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("RejectsOtherSampleType", func(t *testing.T) {
		mdts := new(MockMDTRepository)
		cases := new(MockCaseRepository)
		svc := NewMDTService(mdts, cases, testLogger())

		mdts.On("Get", ctx, int64(2)).Return(&domain.MDT{ID: 2, SampleType: domain.Cancer}, nil)
		cases.On("GetReport", ctx, int64(7)).Return(&domain.InterpretationReport{ID: 7, SampleType: domain.RareDisease}, nil)

		var vErr *domain.ValidationError
		assert.True(t, errors.As(svc.AddReport(ctx, 2, 7), &vErr))
		mdts.AssertNotCalled(t, "AddReport", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestMDTService_ExportData(t *testing.T) {
	mdts := new(MockMDTRepository)
	cases := new(MockCaseRepository)
	svc := NewMDTService(mdts, cases, testLogger())
	ctx := context.Background()

	mdts.On("Get", ctx, int64(1)).Return(&domain.MDT{ID: 1}, nil)
	mdts.On("ReportIDs", ctx, int64(1)).Return([]int64{4, 5}, nil)
	cases.On("GetCaseDetail", ctx, int64(4)).Return(&domain.CaseDetail{Proband: domain.Proband{GELID: "A"}}, nil)
	cases.On("GetCaseDetail", ctx, int64(5)).Return(&domain.CaseDetail{Proband: domain.Proband{GELID: "B"}}, nil)

	export, err := svc.ExportData(ctx, 1)
	require.NoError(t, err)
	require.Len(t, export.Cases, 2)
	assert.Equal(t, "B", export.Cases[1].Proband.GELID)
}

func TestMDTService_CreateAttendee(t *testing.T) {
	mdts := new(MockMDTRepository)
	svc := NewMDTService(mdts, nil, testLogger())
	ctx := context.Background()

	var vErr *domain.ValidationError
	assert.True(t, errors.As(svc.CreateAttendee(ctx, &domain.Attendee{Name: "X", Role: "porter"}), &vErr))
	assert.True(t, errors.As(svc.CreateAttendee(ctx, &domain.Attendee{Role: domain.RoleClinician}), &vErr))

	a := &domain.Attendee{Name: "Dr Smith", Role: domain.RoleClinician}
	mdts.On("CreateAttendee", ctx, a).Return(nil)
	require.NoError(t, svc.CreateAttendee(ctx, a))
}

func TestMDTService_MonthlySummaries(t *testing.T) {
	mdts := new(MockMDTRepository)
	svc := NewMDTService(mdts, nil, testLogger())
	ctx := context.Background()

	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mdts.On("MonthlySummaries", ctx, from, now).Return([]domain.MonthlyMDTSummary{{
		Year: 2024, Month: time.February, SampleType: domain.Cancer,
		MDTCount: 2, CasesDiscussed: 3, Completed: 1, NotCompleted: 2,
		Outstanding: []domain.OutstandingCase{{GELID: "P1", ClinicianName: "Dr Jones"}},
	}}, nil)

	got, err := svc.MonthlySummaries(ctx, 3, now)
	require.NoError(t, err)
	require.Len(t, got, 6, "three months for both programmes")

	assert.Equal(t, time.January, got[0].Month)
	assert.Equal(t, domain.RareDisease, got[0].SampleType)
	assert.Zero(t, got[0].MDTCount)
	assert.NotNil(t, got[0].Outstanding)

	feb := got[3]
	assert.Equal(t, time.February, feb.Month)
	assert.Equal(t, domain.Cancer, feb.SampleType)
	assert.Equal(t, 2, feb.MDTCount)
	assert.Equal(t, 3, feb.CasesDiscussed)
	require.Len(t, feb.Outstanding, 1)

	assert.Equal(t, time.March, got[5].Month)
	assert.Equal(t, 2024, got[5].Year)
}
