package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fairshare-app/fairshare/internal/domain"
	"github.com/fairshare-app/fairshare/internal/store"
)

type projectRepository struct {
	sess *store.Session
}

// NewProjectRepository wires a repository writing through the session so
// every change is tracked for versioning.
func NewProjectRepository(sess *store.Session) ProjectRepository {
	return &projectRepository{sess: sess}
}

func (r *projectRepository) Create(ctx context.Context, project *domain.Project) error {
	_, err := r.sess.Tx().Exec(
		ctx,
		`INSERT INTO projects (id, name, password, contact_email, default_currency, logging_preference)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		project.ID,
		project.Name,
		project.Password,
		project.ContactEmail,
		project.DefaultCurrency,
		int16(project.LoggingPreference),
	)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	r.sess.Add(project)
	return nil
}

func (r *projectRepository) GetByID(ctx context.Context, id string) (*domain.Project, error) {
	if cached, ok := r.sess.Get("Project", (&domain.Project{ID: id}).EntityKey()); ok {
		return cached.(*domain.Project), nil
	}

	var (
		project domain.Project
		mode    int16
	)
	err := r.sess.Tx().QueryRow(
		ctx,
		`SELECT id, name, password, contact_email, default_currency, logging_preference
		 FROM projects WHERE id = $1`,
		id,
	).Scan(
		&project.ID,
		&project.Name,
		&project.Password,
		&project.ContactEmail,
		&project.DefaultCurrency,
		&mode,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("project %s not found", id)
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	project.LoggingPreference = domain.LoggingMode(mode)

	r.sess.Attach(&project)
	return &project, nil
}

func (r *projectRepository) Update(ctx context.Context, project *domain.Project) error {
	_, err := r.sess.Tx().Exec(
		ctx,
		`UPDATE projects
		 SET name = $2, password = $3, contact_email = $4, default_currency = $5, logging_preference = $6
		 WHERE id = $1`,
		project.ID,
		project.Name,
		project.Password,
		project.ContactEmail,
		project.DefaultCurrency,
		int16(project.LoggingPreference),
	)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	return nil
}

func (r *projectRepository) Delete(ctx context.Context, project *domain.Project) error {
	_, err := r.sess.Tx().Exec(ctx, `DELETE FROM projects WHERE id = $1`, project.ID)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	r.sess.Delete(project)
	return nil
}
