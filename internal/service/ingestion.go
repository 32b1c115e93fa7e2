package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/gel2mdt-server/internal/domain"
	"github.com/gel2mdt-server/internal/events"
	"github.com/gel2mdt-server/pkg/external"
)

// processableStatuses are the CIP-API statuses a case must have reached before it is pulled
var processableStatuses = map[string]bool{
	"sent_to_gmcs":     true,
	"report_generated": true,
	"report_sent":      true,
	"awaiting_report":  true,
}

// Outcome is what happened to one case during a run
type Outcome string

const (
	OutcomeAdded   Outcome = "added"
	OutcomeUpdated Outcome = "updated"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// ProgressEvent is streamed to listeners while a run is in flight
type ProgressEvent struct {
	RunID      string            `json:"run_id"`
	SampleType domain.SampleType `json:"sample_type"`
	Stage      string            `json:"stage"`
	RequestID  string            `json:"request_id,omitempty"`
	Outcome    Outcome           `json:"outcome,omitempty"`
	Processed  int               `json:"processed"`
	Total      int               `json:"total"`
	Error      string            `json:"error,omitempty"`
	Time       time.Time         `json:"time"`
}

// ProgressReporter receives run progress; the websocket hub implements it
type ProgressReporter interface {
	Report(event ProgressEvent)
}

type nopProgress struct{}

func (nopProgress) Report(ProgressEvent) {}

// RunOptions narrows an ingestion run
type RunOptions struct {
	// Sample restricts the run to one proband GEL ID
	Sample    string
	PullT3    bool
	Overwrite bool
}

// CaseIngester polls the CIP-API and stores new and changed cases
type CaseIngester struct {
	source    external.CaseSource
	panels    external.PanelSource
	genes     external.GeneSource
	annotator external.Annotator
	cases     domain.CaseRepository
	updates   domain.ListUpdateRepository
	publisher events.Publisher
	progress  ProgressReporter
	config    domain.IngestConfig
	logger    *logrus.Logger
}

// IngesterDeps collects the collaborators of a CaseIngester. Publisher and Progress may be nil.
type IngesterDeps struct {
	Source    external.CaseSource
	Panels    external.PanelSource
	Genes     external.GeneSource
	Annotator external.Annotator
	Cases     domain.CaseRepository
	Updates   domain.ListUpdateRepository
	Publisher events.Publisher
	Progress  ProgressReporter
}

// NewCaseIngester creates a new ingester
func NewCaseIngester(deps IngesterDeps, config domain.IngestConfig, logger *logrus.Logger) *CaseIngester {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.Bins <= 0 {
		config.Bins = 200
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NopPublisher{}
	}
	if deps.Progress == nil {
		deps.Progress = nopProgress{}
	}
	return &CaseIngester{
		source:    deps.Source,
		panels:    deps.Panels,
		genes:     deps.Genes,
		annotator: deps.Annotator,
		cases:     deps.Cases,
		updates:   deps.Updates,
		publisher: deps.Publisher,
		progress:  deps.Progress,
		config:    config,
		logger:    logger,
	}
}

// runState accumulates the outcome of one run across workers
type runState struct {
	mu         sync.Mutex
	runID      string
	sampleType domain.SampleType
	total      int
	processed  int
	update     domain.ListUpdate
	preferred  map[string]map[string]string
}

func (s *runState) record(requestID string, outcome Outcome) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed++
	switch outcome {
	case OutcomeAdded:
		s.update.CasesAdded++
		s.update.ReportsAdded = append(s.update.ReportsAdded, requestID)
	case OutcomeUpdated:
		s.update.CasesUpdated++
		s.update.ReportsUpdated = append(s.update.ReportsUpdated, requestID)
	case OutcomeSkipped:
		s.update.CasesSkipped++
	case OutcomeFailed:
		s.update.CasesFailed++
	}
	return s.processed
}

// Run pulls every processable case of a sample type and records a ListUpdate
func (i *CaseIngester) Run(ctx context.Context, sampleType domain.SampleType, opts RunOptions) (*domain.ListUpdate, error) {
	if !sampleType.IsValid() {
		return nil, domain.NewValidationError("sample_type", "must be raredisease or cancer", sampleType)
	}

	state := &runState{
		runID:      uuid.New().String(),
		sampleType: sampleType,
		update:     domain.ListUpdate{SampleType: sampleType, UpdateTime: time.Now().UTC()},
		preferred:  make(map[string]map[string]string),
	}
	log := i.logger.WithFields(logrus.Fields{
		"run_id":      state.runID,
		"sample_type": sampleType,
	})
	log.Info("Starting case ingestion run")
	i.progress.Report(ProgressEvent{RunID: state.runID, SampleType: sampleType, Stage: "listing", Time: time.Now().UTC()})

	entries, err := i.source.ListCases(ctx, external.CaseListOptions{SampleType: string(sampleType), PageSize: 100})
	if err != nil {
		state.update.Success = false
		state.update.Error = err.Error()
		if recErr := i.updates.Create(ctx, &state.update); recErr != nil {
			log.WithError(recErr).Error("Failed to record failed list update")
		}
		i.progress.Report(ProgressEvent{RunID: state.runID, SampleType: sampleType, Stage: "failed", Error: err.Error(), Time: time.Now().UTC()})
		return &state.update, fmt.Errorf("failed to list %s cases: %w", sampleType, err)
	}

	entries = i.filterEntries(entries, opts)
	state.total = len(entries)
	log.WithField("cases", state.total).Info("Processing interpretation requests")

	var failures []string
	var failMu sync.Mutex
	for start := 0; start < len(entries); start += i.config.Bins {
		end := start + i.config.Bins
		if end > len(entries) {
			end = len(entries)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(i.config.Workers)
		for _, entry := range entries[start:end] {
			g.Go(func() error {
				outcome, err := i.ingestEntry(gctx, state, entry, opts)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					log.WithFields(logrus.Fields{
						"request_id": entry.InterpretationRequestID,
						"error":      err,
					}).Error("Failed to ingest case")
					failMu.Lock()
					failures = append(failures, entry.InterpretationRequestID)
					failMu.Unlock()
					outcome = OutcomeFailed
				}
				processed := state.record(entry.InterpretationRequestID, outcome)
				ev := ProgressEvent{
					RunID: state.runID, SampleType: sampleType, Stage: "case",
					RequestID: entry.InterpretationRequestID, Outcome: outcome,
					Processed: processed, Total: state.total, Time: time.Now().UTC(),
				}
				if err != nil {
					ev.Error = err.Error()
				}
				i.progress.Report(ev)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			state.update.Success = false
			state.update.Error = err.Error()
			if recErr := i.updates.Create(context.WithoutCancel(ctx), &state.update); recErr != nil {
				log.WithError(recErr).Error("Failed to record interrupted list update")
			}
			return &state.update, fmt.Errorf("ingestion run interrupted: %w", err)
		}
	}

	state.update.Success = true
	if len(failures) > 0 {
		state.update.Error = fmt.Sprintf("%d case(s) failed: %s", len(failures), strings.Join(failures, ", "))
	}
	if err := i.updates.Create(ctx, &state.update); err != nil {
		return &state.update, err
	}

	log.WithFields(logrus.Fields{
		"added":   state.update.CasesAdded,
		"updated": state.update.CasesUpdated,
		"skipped": state.update.CasesSkipped,
		"failed":  state.update.CasesFailed,
	}).Info("Case ingestion run finished")
	i.progress.Report(ProgressEvent{
		RunID: state.runID, SampleType: sampleType, Stage: "done",
		Processed: state.processed, Total: state.total, Time: time.Now().UTC(),
	})
	return &state.update, nil
}

func (i *CaseIngester) filterEntries(entries []external.CaseListEntry, opts RunOptions) []external.CaseListEntry {
	out := make([]external.CaseListEntry, 0, len(entries))
	for _, e := range entries {
		if !processableStatuses[e.LastStatus] {
			continue
		}
		if opts.Sample != "" && e.Proband != opts.Sample {
			continue
		}
		out = append(out, e)
	}
	return out
}

// ingestEntry fetches, compares and stores one interpretation request
func (i *CaseIngester) ingestEntry(ctx context.Context, state *runState, entry external.CaseListEntry, opts RunOptions) (Outcome, error) {
	id, version, err := entry.RequestID()
	if err != nil {
		return OutcomeFailed, err
	}

	raw, err := i.source.GetCase(ctx, id, version)
	if err != nil {
		return OutcomeFailed, err
	}
	hash, err := HashCase(raw)
	if err != nil {
		return OutcomeFailed, err
	}

	stored, found, err := i.cases.LatestHash(ctx, entry.InterpretationRequestID)
	if err != nil {
		return OutcomeFailed, err
	}
	if found && stored == hash && !opts.Overwrite {
		return OutcomeSkipped, nil
	}

	bundle, err := ParseCase(raw, ParseOptions{PullT3: opts.PullT3 || i.config.PullT3})
	if err != nil {
		return OutcomeFailed, err
	}
	if err := i.enrich(ctx, state, bundle); err != nil {
		return OutcomeFailed, err
	}

	report, err := i.cases.SaveCase(ctx, bundle, opts.Overwrite)
	if err != nil {
		return OutcomeFailed, err
	}

	outcome, eventType := OutcomeAdded, events.CaseAdded
	if found {
		outcome, eventType = OutcomeUpdated, events.CaseUpdated
	}
	err = i.publisher.Publish(ctx, events.CaseEvent{
		Type:            eventType,
		IRFamilyID:      bundle.RequestID,
		ReportID:        report.ID,
		ArchivedVersion: report.ArchivedVersion,
		SampleType:      bundle.SampleType,
		CaseStatus:      report.CaseStatus,
		RunID:           state.runID,
	})
	if err != nil {
		i.logger.WithError(err).Warn("Case stored but event was not published")
	}
	return outcome, nil
}

// enrich replaces listed panels with their PanelApp versions and annotates variants.
// Lookups that fail are logged and the case is stored with what was parsed.
func (i *CaseIngester) enrich(ctx context.Context, state *runState, bundle *domain.CaseBundle) error {
	for idx := range bundle.Panels {
		cp := &bundle.Panels[idx]
		id, version := cp.PanelVersion.Panel.PanelAppID, cp.PanelVersion.VersionNumber
		panel, err := i.panels.GetPanel(ctx, id, version)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			i.logger.WithFields(logrus.Fields{
				"panel":   id,
				"version": version,
				"error":   err,
			}).Warn("PanelApp lookup failed, keeping listed panel")
			continue
		}
		pv := panel.ToDomain(id)
		if pv.VersionNumber == "" {
			pv.VersionNumber = version
		}
		if pv.Panel.PanelName == "" {
			pv.Panel.PanelName = cp.PanelVersion.Panel.PanelName
		}
		if i.config.Annotate {
			i.resolveGenes(ctx, pv.Genes)
		}
		cp.PanelVersion = pv
	}

	if !i.config.Annotate || len(bundle.Variants) == 0 {
		return nil
	}

	preferred, err := state.preferredFor(ctx, i.cases, bundle.Report.Assembly)
	if err != nil {
		return err
	}
	for idx := range bundle.Variants {
		pv := &bundle.Variants[idx]
		if err := i.annotate(ctx, pv); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			i.logger.WithFields(logrus.Fields{
				"variant": pv.Variant.Key(),
				"error":   err,
			}).Warn("Variant annotation failed")
			continue
		}
		selectTranscript(pv, preferred)
	}
	return nil
}

// preferredFor loads the preferred transcripts of an assembly once per run
func (s *runState) preferredFor(ctx context.Context, cases domain.CaseRepository, assembly string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.preferred[assembly]; ok {
		return m, nil
	}
	m, err := cases.PreferredTranscripts(ctx, assembly)
	if err != nil {
		return nil, err
	}
	s.preferred[assembly] = m
	return m, nil
}

func (i *CaseIngester) resolveGenes(ctx context.Context, genes []domain.PanelGene) {
	for idx := range genes {
		g := &genes[idx].Gene
		if g.EnsemblID == "" {
			continue
		}
		rec, err := i.genes.SearchEnsembl(ctx, g.EnsemblID)
		if err != nil || rec == nil {
			continue
		}
		g.HGNCID = rec.NumericID()
		g.Description = rec.Name
		if rec.Symbol != "" {
			g.HGNCName = rec.Symbol
		}
	}
}

// annotate runs VEP on the variant; GRCh37 variants are lifted to GRCh38 first
// because the Ensembl REST server annotates against GRCh38
func (i *CaseIngester) annotate(ctx context.Context, pv *domain.ProbandVariant) error {
	v := pv.Variant
	chrom, pos := v.Chromosome, v.Position
	if v.GenomeAssembly == "GRCh37" {
		end := pos + int64(len(v.Reference)) - 1
		if end < pos {
			end = pos
		}
		mapped, err := i.annotator.Liftover(ctx, "GRCh37", chrom, pos, end)
		if err != nil {
			return err
		}
		if mapped == nil {
			return errors.New("no GRCh38 mapping")
		}
		chrom, pos = mapped.SeqRegionName, mapped.Start
	}

	result, err := i.annotator.AnnotateRegion(ctx, chrom, pos, v.Reference, v.Alternate)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}

	hgvsg := ""
	if len(v.Reference) == 1 && len(v.Alternate) == 1 {
		hgvsg = fmt.Sprintf("%s:g.%d%s>%s", v.Chromosome, v.Position, v.Reference, v.Alternate)
	}
	pv.Transcripts = pv.Transcripts[:0]
	for _, tc := range result.TranscriptConsequences {
		pv.Transcripts = append(pv.Transcripts, domain.TranscriptVariant{
			TranscriptName: tc.TranscriptID,
			GeneSymbol:     tc.GeneSymbol,
			GeneEnsemblID:  tc.GeneID,
			HGVSg:          hgvsg,
			HGVSc:          tc.HGVSc,
			HGVSp:          tc.HGVSp,
			Effect:         tc.Effect(),
			SIFT:           tc.SIFTPrediction,
			PolyPhen:       tc.PolyPhenPrediction,
			Canonical:      tc.IsCanonical(),
		})
	}
	return nil
}

// selectTranscript picks the preferred transcript of the gene, falling back to the canonical one
func selectTranscript(pv *domain.ProbandVariant, preferred map[string]string) {
	for _, tv := range pv.Transcripts {
		if name, ok := preferred[tv.GeneSymbol]; ok && name == tv.TranscriptName {
			pv.SelectTranscript(name)
			return
		}
	}
	for _, tv := range pv.Transcripts {
		if tv.Canonical {
			pv.SelectTranscript(tv.TranscriptName)
			return
		}
	}
}

// UpdateForT3 re-pulls the case of a report with tier 3 variants included, refreshing
// the latest version in place
func (i *CaseIngester) UpdateForT3(ctx context.Context, reportID int64) (*domain.ListUpdate, error) {
	report, err := i.cases.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	detail, err := i.cases.GetCaseDetail(ctx, reportID)
	if err != nil {
		return nil, err
	}

	i.logger.WithFields(logrus.Fields{
		"report_id": reportID,
		"gel_id":    detail.Proband.GELID,
	}).Info("Pulling tier 3 variants")
	return i.Run(ctx, report.SampleType, RunOptions{
		Sample:    detail.Proband.GELID,
		PullT3:    true,
		Overwrite: true,
	})
}
