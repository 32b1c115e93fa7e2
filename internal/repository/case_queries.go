package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/gel2mdt-server/internal/domain"
)

// reportColumns expects interpretation_reports as r joined to ir_families as f
const reportColumns = `r.id, r.ir_family_id, f.ir_family_id, r.archived_version, r.sha_hash, r.status,
	r.updated, r.user_name, r.assembly, r.max_tier, r.sample_type, r.assigned_user, r.first_check,
	r.second_check, r.case_status, r.mdt_status, r.case_sent, r.no_primary_findings, r.case_code,
	r.pilot_case, r.polled_at`

func scanReport(row pgx.Row) (*domain.InterpretationReport, error) {
	var rep domain.InterpretationReport
	var sampleType, caseStatus, mdtStatus, caseCode string
	err := row.Scan(
		&rep.ID, &rep.IRFamilyID, &rep.IRFamilyRef, &rep.ArchivedVersion, &rep.SHAHash, &rep.Status,
		&rep.Updated, &rep.User, &rep.Assembly, &rep.MaxTier, &sampleType, &rep.AssignedUser,
		&rep.FirstCheck, &rep.SecondCheck, &caseStatus, &mdtStatus, &rep.CaseSent,
		&rep.NoPrimaryFindings, &caseCode, &rep.PilotCase, &rep.PolledAt,
	)
	if err != nil {
		return nil, err
	}
	rep.SampleType = domain.SampleType(sampleType)
	rep.CaseStatus = domain.CaseStatus(caseStatus)
	rep.MDTStatus = domain.MDTStatus(mdtStatus)
	rep.CaseCode = domain.CaseCode(caseCode)
	return &rep, nil
}

// latestReports selects the newest version of every interpretation request of a sample type
const latestReports = `
	SELECT DISTINCT ON (ir_family_id) id
	FROM interpretation_reports
	WHERE sample_type = $1
	ORDER BY ir_family_id, archived_version DESC`

// caseSummarySelect joins a report to its proband, family and clinician
const caseSummarySelect = `
	SELECT r.id, f.ir_family_id, r.archived_version, r.sample_type, p.gel_id, p.forename, p.surname,
		p.sex, p.date_of_birth, p.nhs_number, p.gmc, fam.gel_family_id, COALESCE(c.name, ''),
		p.recruiting_disease, p.disease_subtype, r.status, r.case_status, r.mdt_status,
		r.assigned_user, r.case_code, r.max_tier, r.updated
	FROM interpretation_reports r
	JOIN ir_families f ON f.id = r.ir_family_id
	JOIN families fam ON fam.id = f.family_id
	JOIN probands p ON p.family_id = fam.id
	LEFT JOIN clinicians c ON c.id = fam.clinician_id`

func scanCaseSummaries(rows pgx.Rows) ([]domain.CaseSummary, error) {
	defer rows.Close()

	var out []domain.CaseSummary
	for rows.Next() {
		var s domain.CaseSummary
		var sampleType, caseStatus, mdtStatus, caseCode string
		err := rows.Scan(
			&s.ReportID, &s.IRFamilyID, &s.ArchivedVersion, &sampleType, &s.GELID, &s.Forename,
			&s.Surname, &s.Sex, &s.DateOfBirth, &s.NHSNumber, &s.GMC, &s.GELFamilyID, &s.Clinician,
			&s.RecruitingDisease, &s.DiseaseSubtype, &s.Status, &caseStatus, &mdtStatus,
			&s.AssignedUser, &caseCode, &s.MaxTier, &s.Updated,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning case summary: %w", err)
		}
		s.SampleType = domain.SampleType(sampleType)
		s.CaseStatus = domain.CaseStatus(caseStatus)
		s.MDTStatus = domain.MDTStatus(mdtStatus)
		s.CaseCode = domain.CaseCode(caseCode)
		out = append(out, s)
	}
	return out, rows.Err()
}

// LatestCases lists the newest version of every case, optionally limited to some GMCs
func (r *CaseRepository) LatestCases(ctx context.Context, sampleType domain.SampleType, gmcs []string) ([]domain.CaseSummary, error) {
	query := caseSummarySelect + `
		WHERE r.id IN (` + latestReports + `)
			AND ($2::text[] IS NULL OR p.gmc = ANY($2))
		ORDER BY r.updated DESC, f.ir_family_id`

	rows, err := r.db.Query(ctx, query, string(sampleType), nullableStrings(gmcs))
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"sample_type": sampleType,
			"error":       err,
		}).Error("Failed to list latest cases")
		return nil, fmt.Errorf("listing latest cases: %w", err)
	}
	return scanCaseSummaries(rows)
}

// summariesByID loads case summaries for the given reports, newest first
func summariesByID(ctx context.Context, q querier, reportIDs []int64) ([]domain.CaseSummary, error) {
	if len(reportIDs) == 0 {
		return []domain.CaseSummary{}, nil
	}
	rows, err := q.Query(ctx, caseSummarySelect+`
		WHERE r.id = ANY($1)
		ORDER BY f.ir_family_id`, reportIDs)
	if err != nil {
		return nil, fmt.Errorf("loading case summaries: %w", err)
	}
	return scanCaseSummaries(rows)
}

// GetReport retrieves one report version by ID
func (r *CaseRepository) GetReport(ctx context.Context, reportID int64) (*domain.InterpretationReport, error) {
	query := `
		SELECT ` + reportColumns + `
		FROM interpretation_reports r
		JOIN ir_families f ON f.id = r.ir_family_id
		WHERE r.id = $1`

	rep, err := scanReport(r.db.QueryRow(ctx, query, reportID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, notFound("report", reportID)
		}
		return nil, fmt.Errorf("getting report: %w", err)
	}
	return rep, nil
}

// GetCaseDetail assembles everything displayed for one report version
func (r *CaseRepository) GetCaseDetail(ctx context.Context, reportID int64) (*domain.CaseDetail, error) {
	rep, err := r.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	detail := &domain.CaseDetail{Report: *rep}

	var sampleType string
	var clinicianID *int64
	query := `
		SELECT f.id, f.ir_family_id, f.family_id, f.priority, f.cip, f.sample_type,
			fam.gel_family_id, fam.clinician_id, fam.trio_sequenced, fam.has_de_novo
		FROM ir_families f
		JOIN families fam ON fam.id = f.family_id
		WHERE f.id = $1`
	err = r.db.QueryRow(ctx, query, rep.IRFamilyID).Scan(
		&detail.IRFamily.ID, &detail.IRFamily.IRFamilyID, &detail.IRFamily.FamilyID,
		&detail.IRFamily.Priority, &detail.IRFamily.CIP, &sampleType,
		&detail.Family.GELFamilyID, &clinicianID, &detail.Family.TrioSequenced, &detail.Family.HasDeNovo,
	)
	if err != nil {
		return nil, fmt.Errorf("getting ir family: %w", err)
	}
	detail.IRFamily.SampleType = domain.SampleType(sampleType)
	detail.Family.ID = detail.IRFamily.FamilyID
	detail.Family.ClinicianID = clinicianID

	if clinicianID != nil {
		var c domain.Clinician
		err := r.db.QueryRow(ctx, `SELECT id, name, email, hospital, added_by_user FROM clinicians WHERE id = $1`, *clinicianID).
			Scan(&c.ID, &c.Name, &c.Email, &c.Hospital, &c.AddedByUser)
		if err != nil && err != pgx.ErrNoRows {
			return nil, fmt.Errorf("getting clinician: %w", err)
		}
		if err == nil {
			detail.Clinician = &c
		}
	}

	query = `
		SELECT id, gel_id, family_id, nhs_number, forename, surname, date_of_birth, sex,
			recruiting_disease, disease_group, disease_subtype, gmc, local_id, lab_number,
			outcome, comment, discussion, action, episode, status
		FROM probands WHERE family_id = $1
		ORDER BY id LIMIT 1`
	p := &detail.Proband
	err = r.db.QueryRow(ctx, query, detail.Family.ID).Scan(
		&p.ID, &p.GELID, &p.FamilyID, &p.NHSNumber, &p.Forename, &p.Surname, &p.DateOfBirth, &p.Sex,
		&p.RecruitingDisease, &p.DiseaseGroup, &p.DiseaseSubtype, &p.GMC, &p.LocalID, &p.LabNumber,
		&p.Outcome, &p.Comment, &p.Discussion, &p.Action, &p.Episode, &p.Status,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, notFound("proband for family", detail.Family.GELFamilyID)
		}
		return nil, fmt.Errorf("getting proband: %w", err)
	}

	if detail.Relatives, err = r.relatives(ctx, p.ID); err != nil {
		return nil, err
	}
	if detail.Panels, err = casePanels(ctx, r.db, rep.IRFamilyID); err != nil {
		return nil, err
	}
	if detail.Variants, err = probandVariants(ctx, r.db, `pv.report_id = $1`, reportID); err != nil {
		return nil, err
	}
	if detail.SVs, err = r.structuralVariants(ctx, reportID); err != nil {
		return nil, err
	}
	if detail.STRs, err = r.shortTandemRepeats(ctx, reportID); err != nil {
		return nil, err
	}
	if detail.Comments, err = r.comments(ctx, reportID); err != nil {
		return nil, err
	}
	if detail.History, err = r.history(ctx, rep.IRFamilyID); err != nil {
		return nil, err
	}
	return detail, nil
}

func (r *CaseRepository) relatives(ctx context.Context, probandID int64) ([]domain.Relative, error) {
	query := `
		SELECT id, gel_id, proband_id, relation_to_proband, affected, sequenced, sex, forename,
			surname, nhs_number, date_of_birth
		FROM relatives WHERE proband_id = $1
		ORDER BY relation_to_proband, gel_id`

	rows, err := r.db.Query(ctx, query, probandID)
	if err != nil {
		return nil, fmt.Errorf("listing relatives: %w", err)
	}
	defer rows.Close()

	out := []domain.Relative{}
	for rows.Next() {
		var rel domain.Relative
		if err := rows.Scan(&rel.ID, &rel.GELID, &rel.ProbandID, &rel.RelationToProband, &rel.Affected,
			&rel.Sequenced, &rel.Sex, &rel.Forename, &rel.Surname, &rel.NHSNumber, &rel.DateOfBirth); err != nil {
			return nil, fmt.Errorf("scanning relative: %w", err)
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

// probandVariants loads proband variants matching where (over pv and v) with their transcripts
func probandVariants(ctx context.Context, q querier, where string, args ...any) ([]domain.ProbandVariant, error) {
	query := `
		SELECT pv.id, pv.report_id, v.id, v.chromosome, v.position, v.reference, v.alternate,
			v.genome_assembly, pv.max_tier, pv.zygosity, pv.maternal_zygosity, pv.paternal_zygosity,
			pv.inheritance, pv.somatic, pv.validation_status, pv.validation_responsibility,
			pv.discussion, pv.action, pv.contribution_to_phenotype, pv.pathogenicity,
			pv.requires_validation, pv.flags
		FROM proband_variants pv
		JOIN variants v ON v.id = pv.variant_id
		WHERE ` + where + `
		ORDER BY pv.max_tier, v.chromosome, v.position`

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing proband variants: %w", err)
	}

	out := []domain.ProbandVariant{}
	index := map[int64]int{}
	ids := []int64{}
	for rows.Next() {
		var pv domain.ProbandVariant
		var inheritance, validation string
		err := rows.Scan(
			&pv.ID, &pv.ReportID, &pv.Variant.ID, &pv.Variant.Chromosome, &pv.Variant.Position,
			&pv.Variant.Reference, &pv.Variant.Alternate, &pv.Variant.GenomeAssembly, &pv.MaxTier,
			&pv.Zygosity, &pv.MaternalZygosity, &pv.PaternalZygosity, &inheritance, &pv.Somatic,
			&validation, &pv.ValidationResponsibility, &pv.Discussion, &pv.Action,
			&pv.ContributionToPhenotype, &pv.Pathogenicity, &pv.RequiresValidation, &pv.Flags,
		)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning proband variant: %w", err)
		}
		pv.Inheritance = domain.Inheritance(inheritance)
		pv.ValidationStatus = domain.ValidationStatus(validation)
		pv.Transcripts = []domain.TranscriptVariant{}
		index[pv.ID] = len(out)
		ids = append(ids, pv.ID)
		out = append(out, pv)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing proband variants: %w", err)
	}
	if len(ids) == 0 {
		return out, nil
	}

	query = `
		SELECT id, proband_variant_id, transcript_name, gene_symbol, gene_ensembl_id, hgvs_g,
			hgvs_c, hgvs_p, effect, sift, polyphen, canonical, selected
		FROM transcript_variants
		WHERE proband_variant_id = ANY($1)
		ORDER BY proband_variant_id, canonical DESC, transcript_name`

	rows, err = q.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("listing transcripts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tv domain.TranscriptVariant
		if err := rows.Scan(&tv.ID, &tv.ProbandVariantID, &tv.TranscriptName, &tv.GeneSymbol,
			&tv.GeneEnsemblID, &tv.HGVSg, &tv.HGVSc, &tv.HGVSp, &tv.Effect, &tv.SIFT, &tv.PolyPhen,
			&tv.Canonical, &tv.Selected); err != nil {
			return nil, fmt.Errorf("scanning transcript: %w", err)
		}
		i := index[tv.ProbandVariantID]
		out[i].Transcripts = append(out[i].Transcripts, tv)
	}
	return out, rows.Err()
}

func (r *CaseRepository) structuralVariants(ctx context.Context, reportID int64) ([]domain.ProbandSV, error) {
	query := `
		SELECT id, report_id, chromosome, sv_start, sv_end, sv_type, genome_assembly, max_tier,
			validation_status, discussion, action, genes
		FROM proband_svs WHERE report_id = $1
		ORDER BY max_tier, chromosome, sv_start`

	rows, err := r.db.Query(ctx, query, reportID)
	if err != nil {
		return nil, fmt.Errorf("listing structural variants: %w", err)
	}
	defer rows.Close()

	out := []domain.ProbandSV{}
	for rows.Next() {
		var sv domain.ProbandSV
		var validation string
		if err := rows.Scan(&sv.ID, &sv.ReportID, &sv.Chromosome, &sv.Start, &sv.End, &sv.SVType,
			&sv.GenomeAssembly, &sv.MaxTier, &validation, &sv.Discussion, &sv.Action, &sv.Genes); err != nil {
			return nil, fmt.Errorf("scanning structural variant: %w", err)
		}
		sv.ValidationStatus = domain.ValidationStatus(validation)
		out = append(out, sv)
	}
	return out, rows.Err()
}

func (r *CaseRepository) shortTandemRepeats(ctx context.Context, reportID int64) ([]domain.ProbandSTR, error) {
	query := `
		SELECT id, report_id, chromosome, str_start, str_end, genome_assembly, repeated_sequence,
			normal_threshold, pathogenic_threshold, max_tier, proband_copies_a, proband_copies_b,
			maternal_copies_a, maternal_copies_b, paternal_copies_a, paternal_copies_b,
			mode_of_inheritance, segregation_pattern, validation_status, discussion, action, genes
		FROM proband_strs WHERE report_id = $1
		ORDER BY max_tier, chromosome, str_start`

	rows, err := r.db.Query(ctx, query, reportID)
	if err != nil {
		return nil, fmt.Errorf("listing short tandem repeats: %w", err)
	}
	defer rows.Close()

	out := []domain.ProbandSTR{}
	for rows.Next() {
		var s domain.ProbandSTR
		var validation string
		if err := rows.Scan(&s.ID, &s.ReportID, &s.Chromosome, &s.Start, &s.End, &s.GenomeAssembly,
			&s.RepeatedSequence, &s.NormalThreshold, &s.PathogenicThreshold, &s.MaxTier,
			&s.ProbandCopiesA, &s.ProbandCopiesB, &s.MaternalCopiesA, &s.MaternalCopiesB,
			&s.PaternalCopiesA, &s.PaternalCopiesB, &s.ModeOfInheritance, &s.SegregationPattern,
			&validation, &s.Discussion, &s.Action, &s.Genes); err != nil {
			return nil, fmt.Errorf("scanning short tandem repeat: %w", err)
		}
		s.ValidationStatus = domain.ValidationStatus(validation)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *CaseRepository) comments(ctx context.Context, reportID int64) ([]domain.CaseComment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, report_id, user_name, comment, time
		FROM case_comments WHERE report_id = $1
		ORDER BY time DESC, id DESC`, reportID)
	if err != nil {
		return nil, fmt.Errorf("listing comments: %w", err)
	}
	defer rows.Close()

	out := []domain.CaseComment{}
	for rows.Next() {
		var c domain.CaseComment
		if err := rows.Scan(&c.ID, &c.ReportID, &c.User, &c.Comment, &c.Time); err != nil {
			return nil, fmt.Errorf("scanning comment: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *CaseRepository) history(ctx context.Context, irFamilyPK int64) ([]domain.InterpretationReport, error) {
	query := `
		SELECT ` + reportColumns + `
		FROM interpretation_reports r
		JOIN ir_families f ON f.id = r.ir_family_id
		WHERE r.ir_family_id = $1
		ORDER BY r.archived_version DESC`

	rows, err := r.db.Query(ctx, query, irFamilyPK)
	if err != nil {
		return nil, fmt.Errorf("listing report history: %w", err)
	}
	defer rows.Close()

	out := []domain.InterpretationReport{}
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning report: %w", err)
		}
		out = append(out, *rep)
	}
	return out, rows.Err()
}

// PreferredTranscripts maps gene symbol to the transcript pinned for it on an assembly
func (r *CaseRepository) PreferredTranscripts(ctx context.Context, assembly string) (map[string]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT gene_symbol, transcript_name
		FROM preferred_transcripts WHERE genome_assembly = $1`, assembly)
	if err != nil {
		return nil, fmt.Errorf("listing preferred transcripts: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var gene, transcript string
		if err := rows.Scan(&gene, &transcript); err != nil {
			return nil, fmt.Errorf("scanning preferred transcript: %w", err)
		}
		out[gene] = transcript
	}
	return out, rows.Err()
}

// SearchGene finds latest cases with a proband variant on a transcript of the gene
func (r *CaseRepository) SearchGene(ctx context.Context, symbol string, sampleType domain.SampleType) ([]domain.GeneHit, error) {
	query := `
		SELECT DISTINCT ON (pv.id)
			r.id, f.ir_family_id, p.gel_id, tv.gene_symbol, tv.hgvs_c, tv.hgvs_p, pv.max_tier, r.case_status
		FROM interpretation_reports r
		JOIN ir_families f ON f.id = r.ir_family_id
		JOIN probands p ON p.family_id = f.family_id
		JOIN proband_variants pv ON pv.report_id = r.id
		JOIN transcript_variants tv ON tv.proband_variant_id = pv.id
		WHERE r.id IN (` + latestReports + `)
			AND UPPER(tv.gene_symbol) = UPPER($2)
		ORDER BY pv.id, tv.selected DESC, tv.canonical DESC, tv.transcript_name`

	rows, err := r.db.Query(ctx, query, string(sampleType), symbol)
	if err != nil {
		return nil, fmt.Errorf("searching gene %s: %w", symbol, err)
	}
	defer rows.Close()

	out := []domain.GeneHit{}
	for rows.Next() {
		var h domain.GeneHit
		var caseStatus string
		if err := rows.Scan(&h.ReportID, &h.IRFamilyID, &h.GELID, &h.GeneSymbol, &h.HGVSc, &h.HGVSp,
			&h.MaxTier, &caseStatus); err != nil {
			return nil, fmt.Errorf("scanning gene hit: %w", err)
		}
		h.CaseStatus = domain.CaseStatus(caseStatus)
		out = append(out, h)
	}
	return out, rows.Err()
}

// auditOrder is the order statuses appear in the audit view
var auditOrder = []domain.CaseStatus{
	domain.CaseNotStarted, domain.CaseUnderReview, domain.CaseAwaitingMDT,
	domain.CaseAwaitingValidation, domain.CaseAwaitingReporting, domain.CaseReported,
	domain.CaseCompleted, domain.CaseExternal,
}

// StatusCounts counts latest cases per case status, including empty statuses
func (r *CaseRepository) StatusCounts(ctx context.Context, sampleType domain.SampleType) ([]domain.StatusCount, error) {
	query := `
		SELECT case_status, COUNT(*)
		FROM interpretation_reports
		WHERE id IN (` + latestReports + `)
		GROUP BY case_status`

	rows, err := r.db.Query(ctx, query, string(sampleType))
	if err != nil {
		return nil, fmt.Errorf("counting case statuses: %w", err)
	}
	defer rows.Close()

	counts := map[domain.CaseStatus]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning status count: %w", err)
		}
		counts[domain.CaseStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.StatusCount, 0, len(auditOrder))
	for _, s := range auditOrder {
		out = append(out, domain.StatusCount{CaseStatus: s, Display: s.Display(), Count: counts[s]})
	}
	return out, nil
}
