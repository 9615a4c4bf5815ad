package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fairshare-app/fairshare/internal/domain"
	"github.com/fairshare-app/fairshare/internal/store"
)

type memberRepository struct {
	sess *store.Session
}

// NewMemberRepository wires a repository writing through the session.
func NewMemberRepository(sess *store.Session) MemberRepository {
	return &memberRepository{sess: sess}
}

func (r *memberRepository) Create(ctx context.Context, member *domain.Member) error {
	err := r.sess.Tx().QueryRow(
		ctx,
		`INSERT INTO members (project_id, name, weight, activated)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		member.ProjectID,
		member.Name,
		member.Weight,
		member.Activated,
	).Scan(&member.ID)
	if err != nil {
		return fmt.Errorf("failed to create member: %w", err)
	}
	r.sess.Add(member)
	return nil
}

func (r *memberRepository) GetByID(ctx context.Context, id int64) (*domain.Member, error) {
	if cached, ok := r.sess.Get("Member", (&domain.Member{ID: id}).EntityKey()); ok {
		return cached.(*domain.Member), nil
	}

	var member domain.Member
	err := r.sess.Tx().QueryRow(
		ctx,
		`SELECT id, project_id, name, weight, activated FROM members WHERE id = $1`,
		id,
	).Scan(&member.ID, &member.ProjectID, &member.Name, &member.Weight, &member.Activated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("member %d not found", id)
		}
		return nil, fmt.Errorf("failed to get member: %w", err)
	}

	r.sess.Attach(&member)
	return &member, nil
}

func (r *memberRepository) ListByProject(ctx context.Context, projectID string) ([]*domain.Member, error) {
	rows, err := r.sess.Tx().Query(
		ctx,
		`SELECT id, project_id, name, weight, activated
		 FROM members WHERE project_id = $1 ORDER BY id`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	members := []*domain.Member{}
	for rows.Next() {
		var member domain.Member
		if scanErr := rows.Scan(&member.ID, &member.ProjectID, &member.Name, &member.Weight, &member.Activated); scanErr != nil {
			return nil, fmt.Errorf("failed to scan member: %w", scanErr)
		}
		if cached, ok := r.sess.Get("Member", member.EntityKey()); ok {
			members = append(members, cached.(*domain.Member))
			continue
		}
		m := member
		r.sess.Attach(&m)
		members = append(members, &m)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate members: %w", rowsErr)
	}
	return members, nil
}

func (r *memberRepository) Update(ctx context.Context, member *domain.Member) error {
	_, err := r.sess.Tx().Exec(
		ctx,
		`UPDATE members SET project_id = $2, name = $3, weight = $4, activated = $5 WHERE id = $1`,
		member.ID,
		member.ProjectID,
		member.Name,
		member.Weight,
		member.Activated,
	)
	if err != nil {
		return fmt.Errorf("failed to update member: %w", err)
	}
	return nil
}

func (r *memberRepository) Delete(ctx context.Context, member *domain.Member) error {
	_, err := r.sess.Tx().Exec(ctx, `DELETE FROM members WHERE id = $1`, member.ID)
	if err != nil {
		return fmt.Errorf("failed to delete member: %w", err)
	}
	r.sess.Delete(member)
	return nil
}
