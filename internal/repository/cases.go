package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/gel2mdt-server/internal/domain"
)

// CaseRepository handles interpretation report persistence
type CaseRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewCaseRepository creates a new case repository
func NewCaseRepository(db *pgxpool.Pool, logger *logrus.Logger) *CaseRepository {
	return &CaseRepository{
		db:  db,
		log: logger,
	}
}

var _ domain.CaseRepository = (*CaseRepository)(nil)

// LatestHash returns the hash of the newest stored version of an interpretation request
func (r *CaseRepository) LatestHash(ctx context.Context, irFamilyID string) (string, bool, error) {
	query := `
		SELECT r.sha_hash
		FROM interpretation_reports r
		JOIN ir_families f ON f.id = r.ir_family_id
		WHERE f.ir_family_id = $1
		ORDER BY r.archived_version DESC
		LIMIT 1`

	var hash string
	err := r.db.QueryRow(ctx, query, irFamilyID).Scan(&hash)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("getting latest hash: %w", err)
	}
	return hash, true, nil
}

// SaveCase stores a parsed case. A request seen for the first time gets archived
// version 1. Otherwise overwrite refreshes the latest version in place, and without it a
// new version is added that inherits the local workflow fields, MDT links and comments.
func (r *CaseRepository) SaveCase(ctx context.Context, bundle *domain.CaseBundle, overwrite bool) (*domain.InterpretationReport, error) {
	var saved *domain.InterpretationReport

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if err := r.saveParticipants(ctx, tx, bundle); err != nil {
			return err
		}
		if err := r.saveIRFamily(ctx, tx, bundle); err != nil {
			return err
		}
		for i := range bundle.Panels {
			if err := saveCasePanel(ctx, tx, bundle.IRFamily.ID, &bundle.Panels[i]); err != nil {
				return err
			}
		}

		report, prevID, err := r.saveReportVersion(ctx, tx, bundle, overwrite)
		if err != nil {
			return err
		}

		if err := saveProbandVariants(ctx, tx, report.ID, bundle.Variants); err != nil {
			return err
		}
		if prevID != 0 {
			if err := carryOverValidation(ctx, tx, prevID, report.ID); err != nil {
				return err
			}
		}
		if err := saveStructuralVariants(ctx, tx, report.ID, bundle.SVs, bundle.STRs); err != nil {
			return err
		}

		saved = report
		return nil
	})
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"ir_family_id": bundle.RequestID,
			"error":        err,
		}).Error("Failed to save case")
		return nil, fmt.Errorf("saving case %s: %w", bundle.RequestID, err)
	}

	r.log.WithFields(logrus.Fields{
		"ir_family_id":     bundle.RequestID,
		"archived_version": saved.ArchivedVersion,
		"variants":         len(bundle.Variants),
		"overwrite":        overwrite,
	}).Info("Case saved successfully")

	return saved, nil
}

func (r *CaseRepository) saveParticipants(ctx context.Context, tx pgx.Tx, bundle *domain.CaseBundle) error {
	if c := bundle.Clinician; c != nil && c.Name != "" {
		query := `
			INSERT INTO clinicians (name, email, hospital, added_by_user)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (name, hospital) DO UPDATE
				SET email = CASE WHEN EXCLUDED.email <> '' THEN EXCLUDED.email ELSE clinicians.email END
			RETURNING id`
		if err := tx.QueryRow(ctx, query, c.Name, c.Email, c.Hospital, c.AddedByUser).Scan(&c.ID); err != nil {
			return fmt.Errorf("upserting clinician: %w", err)
		}
		bundle.Family.ClinicianID = &c.ID
	}

	query := `
		INSERT INTO families (gel_family_id, clinician_id, trio_sequenced, has_de_novo)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (gel_family_id) DO UPDATE SET
			clinician_id = COALESCE(EXCLUDED.clinician_id, families.clinician_id),
			trio_sequenced = EXCLUDED.trio_sequenced,
			has_de_novo = EXCLUDED.has_de_novo
		RETURNING id`
	f := &bundle.Family
	if err := tx.QueryRow(ctx, query, f.GELFamilyID, f.ClinicianID, f.TrioSequenced, f.HasDeNovo).Scan(&f.ID); err != nil {
		return fmt.Errorf("upserting family: %w", err)
	}

	// Demographics and outcome fields are curated locally and only filled when empty.
	query = `
		INSERT INTO probands (
			gel_id, family_id, nhs_number, forename, surname, date_of_birth, sex,
			recruiting_disease, disease_group, disease_subtype, gmc
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (gel_id) DO UPDATE SET
			family_id = EXCLUDED.family_id,
			nhs_number = COALESCE(NULLIF(probands.nhs_number, ''), EXCLUDED.nhs_number),
			forename = COALESCE(NULLIF(probands.forename, ''), EXCLUDED.forename),
			surname = COALESCE(NULLIF(probands.surname, ''), EXCLUDED.surname),
			date_of_birth = COALESCE(probands.date_of_birth, EXCLUDED.date_of_birth),
			sex = EXCLUDED.sex,
			recruiting_disease = EXCLUDED.recruiting_disease,
			disease_group = EXCLUDED.disease_group,
			disease_subtype = EXCLUDED.disease_subtype,
			gmc = EXCLUDED.gmc
		RETURNING id, status`
	p := &bundle.Proband
	p.FamilyID = f.ID
	err := tx.QueryRow(ctx, query,
		p.GELID, p.FamilyID, p.NHSNumber, p.Forename, p.Surname, p.DateOfBirth, p.Sex,
		p.RecruitingDisease, p.DiseaseGroup, p.DiseaseSubtype, p.GMC,
	).Scan(&p.ID, &p.Status)
	if err != nil {
		return fmt.Errorf("upserting proband: %w", err)
	}

	query = `
		INSERT INTO relatives (
			gel_id, proband_id, relation_to_proband, affected, sequenced, sex,
			forename, surname, nhs_number, date_of_birth
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (gel_id, proband_id) DO UPDATE SET
			relation_to_proband = EXCLUDED.relation_to_proband,
			affected = EXCLUDED.affected,
			sequenced = EXCLUDED.sequenced,
			sex = EXCLUDED.sex
		RETURNING id`
	for i := range bundle.Relatives {
		rel := &bundle.Relatives[i]
		rel.ProbandID = p.ID
		err := tx.QueryRow(ctx, query,
			rel.GELID, rel.ProbandID, rel.RelationToProband, rel.Affected, rel.Sequenced, rel.Sex,
			rel.Forename, rel.Surname, rel.NHSNumber, rel.DateOfBirth,
		).Scan(&rel.ID)
		if err != nil {
			return fmt.Errorf("upserting relative %s: %w", rel.GELID, err)
		}
	}
	return nil
}

func (r *CaseRepository) saveIRFamily(ctx context.Context, tx pgx.Tx, bundle *domain.CaseBundle) error {
	query := `
		INSERT INTO ir_families (ir_family_id, family_id, priority, cip, sample_type)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (ir_family_id) DO UPDATE SET
			family_id = EXCLUDED.family_id,
			priority = EXCLUDED.priority,
			cip = EXCLUDED.cip
		RETURNING id`

	irf := &bundle.IRFamily
	if irf.IRFamilyID == "" {
		irf.IRFamilyID = bundle.RequestID
	}
	irf.FamilyID = bundle.Family.ID
	if irf.SampleType == "" {
		irf.SampleType = bundle.SampleType
	}

	err := tx.QueryRow(ctx, query, irf.IRFamilyID, irf.FamilyID, irf.Priority, irf.CIP, string(irf.SampleType)).Scan(&irf.ID)
	if err != nil {
		return fmt.Errorf("upserting ir family: %w", err)
	}
	return nil
}

func saveCasePanel(ctx context.Context, q querier, irFamilyPK int64, cp *domain.CasePanel) error {
	if err := savePanelVersion(ctx, q, &cp.PanelVersion); err != nil {
		return err
	}

	query := `
		INSERT INTO ir_family_panels (
			ir_family_id, panel_version_id, average_coverage, proportion_above_15x,
			genes_failing_coverage, custom
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (ir_family_id, panel_version_id) DO UPDATE SET
			average_coverage = EXCLUDED.average_coverage,
			proportion_above_15x = EXCLUDED.proportion_above_15x,
			genes_failing_coverage = EXCLUDED.genes_failing_coverage,
			custom = EXCLUDED.custom`
	_, err := q.Exec(ctx, query, irFamilyPK, cp.PanelVersion.ID, cp.AverageCoverage, cp.ProportionAbove15x,
		cp.GenesFailingCoverage, cp.Custom)
	if err != nil {
		return fmt.Errorf("linking panel %s: %w", cp.DisplayName(), err)
	}
	return nil
}

// saveReportVersion applies the versioning rules and returns the stored report
// together with the ID of the version it superseded (0 when none was superseded).
func (r *CaseRepository) saveReportVersion(ctx context.Context, tx pgx.Tx, bundle *domain.CaseBundle, overwrite bool) (*domain.InterpretationReport, int64, error) {
	report := bundle.Report
	report.IRFamilyID = bundle.IRFamily.ID
	report.IRFamilyRef = bundle.IRFamily.IRFamilyID
	report.SHAHash = bundle.Hash
	if report.SampleType == "" {
		report.SampleType = bundle.SampleType
	}
	if report.PolledAt.IsZero() {
		report.PolledAt = time.Now().UTC()
	}
	if report.Updated.IsZero() {
		report.Updated = report.PolledAt
	}
	if report.CaseStatus == "" {
		report.CaseStatus = domain.CaseNotStarted
	}
	if report.MDTStatus == "" {
		report.MDTStatus = domain.MDTUnassigned
	}

	latest, err := lockLatestReport(ctx, tx, report.IRFamilyID)
	if err != nil {
		return nil, 0, err
	}

	switch {
	case latest == nil:
		report.ArchivedVersion = 1
	case overwrite:
		report.ID = latest.ID
		report.ArchivedVersion = latest.ArchivedVersion
		report.CarryOverFrom(latest)
		query := `
			UPDATE interpretation_reports SET
				sha_hash = $2, status = $3, updated = $4, user_name = $5, assembly = $6,
				max_tier = $7, polled_at = $8, raw = $9
			WHERE id = $1`
		_, err := tx.Exec(ctx, query, report.ID, report.SHAHash, report.Status, report.Updated, report.User,
			report.Assembly, report.MaxTier, report.PolledAt, rawJSON(bundle.Raw))
		if err != nil {
			return nil, 0, fmt.Errorf("overwriting report version %d: %w", report.ArchivedVersion, err)
		}
		// SVs and STRs have no natural key, so they are replaced wholesale
		if _, err := tx.Exec(ctx, `DELETE FROM proband_svs WHERE report_id = $1`, report.ID); err != nil {
			return nil, 0, fmt.Errorf("clearing structural variants: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM proband_strs WHERE report_id = $1`, report.ID); err != nil {
			return nil, 0, fmt.Errorf("clearing short tandem repeats: %w", err)
		}
		return &report, 0, nil
	default:
		report.ArchivedVersion = latest.ArchivedVersion + 1
		report.CarryOverFrom(latest)
	}

	query := `
		INSERT INTO interpretation_reports (
			ir_family_id, archived_version, sha_hash, status, updated, user_name, assembly,
			max_tier, sample_type, assigned_user, first_check, second_check, case_status,
			mdt_status, case_sent, no_primary_findings, case_code, pilot_case, polled_at, raw
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20
		)
		RETURNING id`
	err = tx.QueryRow(ctx, query,
		report.IRFamilyID, report.ArchivedVersion, report.SHAHash, report.Status, report.Updated,
		report.User, report.Assembly, report.MaxTier, string(report.SampleType), report.AssignedUser,
		report.FirstCheck, report.SecondCheck, string(report.CaseStatus), string(report.MDTStatus),
		report.CaseSent, report.NoPrimaryFindings, string(report.CaseCode), report.PilotCase,
		report.PolledAt, rawJSON(bundle.Raw),
	).Scan(&report.ID)
	if err != nil {
		return nil, 0, fmt.Errorf("inserting report version %d: %w", report.ArchivedVersion, err)
	}

	if latest == nil {
		return &report, 0, nil
	}

	if _, err := tx.Exec(ctx, `UPDATE mdt_reports SET report_id = $2 WHERE report_id = $1`, latest.ID, report.ID); err != nil {
		return nil, 0, fmt.Errorf("moving MDT links: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE case_comments SET report_id = $2 WHERE report_id = $1`, latest.ID, report.ID); err != nil {
		return nil, 0, fmt.Errorf("moving comments: %w", err)
	}
	return &report, latest.ID, nil
}

func lockLatestReport(ctx context.Context, tx pgx.Tx, irFamilyPK int64) (*domain.InterpretationReport, error) {
	query := `
		SELECT ` + reportColumns + `
		FROM interpretation_reports r
		JOIN ir_families f ON f.id = r.ir_family_id
		WHERE r.ir_family_id = $1
		ORDER BY r.archived_version DESC
		LIMIT 1
		FOR UPDATE OF r`

	report, err := scanReport(tx.QueryRow(ctx, query, irFamilyPK))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("locking latest report: %w", err)
	}
	return report, nil
}

// saveProbandVariants upserts the variants of a report. Validation fields already
// stored against a variant are kept; transcripts are refreshed but an existing
// selection wins over the one proposed by ingestion.
func saveProbandVariants(ctx context.Context, tx pgx.Tx, reportID int64, variants []domain.ProbandVariant) error {
	variantQuery := `
		INSERT INTO variants (chromosome, position, reference, alternate, genome_assembly)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (chromosome, position, reference, alternate, genome_assembly)
			DO UPDATE SET chromosome = EXCLUDED.chromosome
		RETURNING id`

	pvQuery := `
		INSERT INTO proband_variants (
			report_id, variant_id, max_tier, zygosity, maternal_zygosity, paternal_zygosity,
			inheritance, somatic, flags
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (report_id, variant_id) DO UPDATE SET
			max_tier = EXCLUDED.max_tier,
			zygosity = EXCLUDED.zygosity,
			maternal_zygosity = EXCLUDED.maternal_zygosity,
			paternal_zygosity = EXCLUDED.paternal_zygosity,
			inheritance = EXCLUDED.inheritance,
			somatic = EXCLUDED.somatic,
			flags = EXCLUDED.flags
		RETURNING id`

	tvQuery := `
		INSERT INTO transcript_variants (
			proband_variant_id, transcript_name, gene_symbol, gene_ensembl_id, hgvs_g, hgvs_c,
			hgvs_p, effect, sift, polyphen, canonical
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (proband_variant_id, transcript_name) DO UPDATE SET
			gene_symbol = EXCLUDED.gene_symbol,
			gene_ensembl_id = EXCLUDED.gene_ensembl_id,
			hgvs_g = EXCLUDED.hgvs_g,
			hgvs_c = EXCLUDED.hgvs_c,
			hgvs_p = EXCLUDED.hgvs_p,
			effect = EXCLUDED.effect,
			sift = EXCLUDED.sift,
			polyphen = EXCLUDED.polyphen,
			canonical = EXCLUDED.canonical`

	selectQuery := `
		UPDATE transcript_variants SET selected = TRUE
		WHERE proband_variant_id = $1 AND transcript_name = $2
			AND NOT EXISTS (
				SELECT 1 FROM transcript_variants WHERE proband_variant_id = $1 AND selected
			)`

	kept := make([]int64, 0, len(variants))
	for i := range variants {
		pv := &variants[i]
		v := &pv.Variant
		if err := tx.QueryRow(ctx, variantQuery, v.Chromosome, v.Position, v.Reference, v.Alternate, v.GenomeAssembly).Scan(&v.ID); err != nil {
			return fmt.Errorf("upserting variant %s: %w", v.Key(), err)
		}

		pv.ReportID = reportID
		if pv.Inheritance == "" {
			pv.Inheritance = domain.InheritanceUnknown
		}
		err := tx.QueryRow(ctx, pvQuery, reportID, v.ID, pv.MaxTier, zygosityOrUnknown(pv.Zygosity),
			zygosityOrUnknown(pv.MaternalZygosity), zygosityOrUnknown(pv.PaternalZygosity),
			string(pv.Inheritance), pv.Somatic, nonNilStrings(pv.Flags),
		).Scan(&pv.ID)
		if err != nil {
			return fmt.Errorf("upserting proband variant %s: %w", v.Key(), err)
		}
		kept = append(kept, pv.ID)

		for j := range pv.Transcripts {
			tv := &pv.Transcripts[j]
			tv.ProbandVariantID = pv.ID
			_, err := tx.Exec(ctx, tvQuery, pv.ID, tv.TranscriptName, tv.GeneSymbol, tv.GeneEnsemblID,
				tv.HGVSg, tv.HGVSc, tv.HGVSp, tv.Effect, tv.SIFT, tv.PolyPhen, tv.Canonical)
			if err != nil {
				return fmt.Errorf("upserting transcript %s: %w", tv.TranscriptName, err)
			}
		}
		if sel := pv.SelectedTranscript(); sel != nil {
			if _, err := tx.Exec(ctx, selectQuery, pv.ID, sel.TranscriptName); err != nil {
				return fmt.Errorf("selecting transcript %s: %w", sel.TranscriptName, err)
			}
		}
	}

	// variants dropped from the case since the last poll
	if _, err := tx.Exec(ctx, `DELETE FROM proband_variants WHERE report_id = $1 AND NOT (id = ANY($2))`, reportID, kept); err != nil {
		return fmt.Errorf("removing stale proband variants: %w", err)
	}
	return nil
}

// carryOverValidation copies curated validation fields onto matching variants of a new version
func carryOverValidation(ctx context.Context, tx pgx.Tx, prevReportID, reportID int64) error {
	query := `
		UPDATE proband_variants n SET
			validation_status = o.validation_status,
			validation_responsibility = o.validation_responsibility,
			discussion = o.discussion,
			action = o.action,
			contribution_to_phenotype = o.contribution_to_phenotype,
			pathogenicity = o.pathogenicity,
			requires_validation = o.requires_validation
		FROM proband_variants o
		WHERE o.report_id = $1 AND n.report_id = $2 AND o.variant_id = n.variant_id`
	if _, err := tx.Exec(ctx, query, prevReportID, reportID); err != nil {
		return fmt.Errorf("carrying over validation: %w", err)
	}

	query = `
		UPDATE transcript_variants n SET selected = (n.transcript_name = o.transcript_name)
		FROM proband_variants npv, proband_variants opv, transcript_variants o
		WHERE npv.id = n.proband_variant_id AND npv.report_id = $2
			AND opv.report_id = $1 AND opv.variant_id = npv.variant_id
			AND o.proband_variant_id = opv.id AND o.selected
			AND EXISTS (
				SELECT 1 FROM transcript_variants m
				WHERE m.proband_variant_id = npv.id AND m.transcript_name = o.transcript_name
			)`
	if _, err := tx.Exec(ctx, query, prevReportID, reportID); err != nil {
		return fmt.Errorf("carrying over transcript selection: %w", err)
	}
	return nil
}

func saveStructuralVariants(ctx context.Context, tx pgx.Tx, reportID int64, svs []domain.ProbandSV, strs []domain.ProbandSTR) error {
	svQuery := `
		INSERT INTO proband_svs (
			report_id, chromosome, sv_start, sv_end, sv_type, genome_assembly, max_tier, genes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`
	for i := range svs {
		sv := &svs[i]
		sv.ReportID = reportID
		err := tx.QueryRow(ctx, svQuery, reportID, sv.Chromosome, sv.Start, sv.End, sv.SVType,
			sv.GenomeAssembly, sv.MaxTier, nonNilStrings(sv.Genes)).Scan(&sv.ID)
		if err != nil {
			return fmt.Errorf("inserting structural variant: %w", err)
		}
	}

	strQuery := `
		INSERT INTO proband_strs (
			report_id, chromosome, str_start, str_end, genome_assembly, repeated_sequence,
			normal_threshold, pathogenic_threshold, max_tier, proband_copies_a, proband_copies_b,
			maternal_copies_a, maternal_copies_b, paternal_copies_a, paternal_copies_b,
			mode_of_inheritance, segregation_pattern, genes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING id`
	for i := range strs {
		s := &strs[i]
		s.ReportID = reportID
		err := tx.QueryRow(ctx, strQuery, reportID, s.Chromosome, s.Start, s.End, s.GenomeAssembly,
			s.RepeatedSequence, s.NormalThreshold, s.PathogenicThreshold, s.MaxTier,
			s.ProbandCopiesA, s.ProbandCopiesB, s.MaternalCopiesA, s.MaternalCopiesB,
			s.PaternalCopiesA, s.PaternalCopiesB, s.ModeOfInheritance, s.SegregationPattern,
			nonNilStrings(s.Genes)).Scan(&s.ID)
		if err != nil {
			return fmt.Errorf("inserting short tandem repeat: %w", err)
		}
	}
	return nil
}

func zygosityOrUnknown(z string) string {
	if z == "" || z == "na" {
		return domain.ZygosityUnknown
	}
	return z
}

// rawJSON stores an absent document as SQL NULL
func rawJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
