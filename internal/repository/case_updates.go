package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/gel2mdt-server/internal/domain"
)

// UpdateReport applies the non-nil fields of update to a report version
func (r *CaseRepository) UpdateReport(ctx context.Context, reportID int64, update domain.ReportUpdate) (*domain.InterpretationReport, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}

	query := `
		UPDATE interpretation_reports SET
			case_status = COALESCE($2, case_status),
			mdt_status = COALESCE($3, mdt_status),
			assigned_user = COALESCE($4, assigned_user),
			first_check = COALESCE($5, first_check),
			second_check = COALESCE($6, second_check),
			case_sent = COALESCE($7, case_sent),
			no_primary_findings = COALESCE($8, no_primary_findings),
			case_code = COALESCE($9, case_code)
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, reportID,
		(*string)(update.CaseStatus), (*string)(update.MDTStatus), update.AssignedUser,
		update.FirstCheck, update.SecondCheck, update.CaseSent, update.NoPrimaryFindings,
		(*string)(update.CaseCode),
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"report_id": reportID,
			"error":     err,
		}).Error("Failed to update report")
		return nil, fmt.Errorf("updating report: %w", err)
	}
	if err := requireRow(tag, "report", reportID); err != nil {
		return nil, err
	}

	r.log.WithField("report_id", reportID).Info("Report updated")
	return r.GetReport(ctx, reportID)
}

// UpdateProband writes the editable demographic and outcome fields of a proband
func (r *CaseRepository) UpdateProband(ctx context.Context, p *domain.Proband) error {
	query := `
		UPDATE probands SET
			nhs_number = $2, forename = $3, surname = $4, date_of_birth = $5, sex = $6,
			local_id = $7, lab_number = $8, outcome = $9, comment = $10, discussion = $11,
			action = $12, episode = $13, status = $14
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, p.ID, p.NHSNumber, p.Forename, p.Surname, p.DateOfBirth, p.Sex,
		p.LocalID, p.LabNumber, p.Outcome, p.Comment, p.Discussion, p.Action, p.Episode, p.Status)
	if err != nil {
		return fmt.Errorf("updating proband: %w", err)
	}
	return requireRow(tag, "proband", p.ID)
}

// UpdateRelative writes the editable fields of a relative
func (r *CaseRepository) UpdateRelative(ctx context.Context, rel *domain.Relative) error {
	query := `
		UPDATE relatives SET
			forename = $2, surname = $3, nhs_number = $4, date_of_birth = $5, sex = $6,
			affected = $7
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, rel.ID, rel.Forename, rel.Surname, rel.NHSNumber, rel.DateOfBirth,
		rel.Sex, rel.Affected)
	if err != nil {
		return fmt.Errorf("updating relative: %w", err)
	}
	return requireRow(tag, "relative", rel.ID)
}

// AddComment stores a comment and fills in its ID and timestamp
func (r *CaseRepository) AddComment(ctx context.Context, c *domain.CaseComment) error {
	query := `
		INSERT INTO case_comments (report_id, user_name, comment)
		VALUES ($1, $2, $3)
		RETURNING id, time`

	err := r.db.QueryRow(ctx, query, c.ReportID, c.User, c.Comment).Scan(&c.ID, &c.Time)
	if err != nil {
		return fmt.Errorf("adding comment: %w", err)
	}
	return nil
}

func (r *CaseRepository) UpdateComment(ctx context.Context, commentID int64, text string) error {
	tag, err := r.db.Exec(ctx, `UPDATE case_comments SET comment = $2 WHERE id = $1`, commentID, text)
	if err != nil {
		return fmt.Errorf("updating comment: %w", err)
	}
	return requireRow(tag, "comment", commentID)
}

func (r *CaseRepository) DeleteComment(ctx context.Context, commentID int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM case_comments WHERE id = $1`, commentID)
	if err != nil {
		return fmt.Errorf("deleting comment: %w", err)
	}
	return requireRow(tag, "comment", commentID)
}

// UpdateVariantValidation applies the non-nil validation fields to a proband variant
func (r *CaseRepository) UpdateVariantValidation(ctx context.Context, probandVariantID int64, v domain.VariantValidation) (*domain.ProbandVariant, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}

	query := `
		UPDATE proband_variants SET
			validation_status = COALESCE($2, validation_status),
			validation_responsibility = COALESCE($3, validation_responsibility),
			discussion = COALESCE($4, discussion),
			action = COALESCE($5, action),
			contribution_to_phenotype = COALESCE($6, contribution_to_phenotype),
			pathogenicity = COALESCE($7, pathogenicity),
			requires_validation = COALESCE($8, requires_validation)
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, probandVariantID, (*string)(v.ValidationStatus),
		v.ValidationResponsibility, v.Discussion, v.Action, v.ContributionToPhenotype,
		v.Pathogenicity, v.RequiresValidation)
	if err != nil {
		return nil, fmt.Errorf("updating variant validation: %w", err)
	}
	if err := requireRow(tag, "proband variant", probandVariantID); err != nil {
		return nil, err
	}

	pvs, err := probandVariants(ctx, r.db, `pv.id = $1`, probandVariantID)
	if err != nil {
		return nil, err
	}
	if len(pvs) == 0 {
		return nil, notFound("proband variant", probandVariantID)
	}
	return &pvs[0], nil
}

// SelectTranscript makes one transcript the only selected transcript of its proband variant
func (r *CaseRepository) SelectTranscript(ctx context.Context, probandVariantID, transcriptVariantID int64) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var exists bool
		err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM transcript_variants WHERE id = $2 AND proband_variant_id = $1
			)`, probandVariantID, transcriptVariantID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("checking transcript: %w", err)
		}
		if !exists {
			return notFound("transcript of proband variant", fmt.Sprintf("%d/%d", probandVariantID, transcriptVariantID))
		}

		_, err = tx.Exec(ctx, `
			UPDATE transcript_variants SET selected = (id = $2)
			WHERE proband_variant_id = $1`, probandVariantID, transcriptVariantID)
		if err != nil {
			return fmt.Errorf("selecting transcript: %w", err)
		}
		return nil
	})
}

// SetPreferredTranscript pins the transcript reported for a gene on an assembly
func (r *CaseRepository) SetPreferredTranscript(ctx context.Context, pt domain.PreferredTranscript) error {
	query := `
		INSERT INTO preferred_transcripts (gene_symbol, genome_assembly, transcript_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (gene_symbol, genome_assembly) DO UPDATE
			SET transcript_name = EXCLUDED.transcript_name`

	if _, err := r.db.Exec(ctx, query, pt.GeneSymbol, pt.GenomeAssembly, pt.TranscriptName); err != nil {
		return fmt.Errorf("setting preferred transcript: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"gene":       pt.GeneSymbol,
		"assembly":   pt.GenomeAssembly,
		"transcript": pt.TranscriptName,
	}).Info("Preferred transcript set")
	return nil
}
