package repository

import (
	"context"

	"github.com/Matar-GTB/CarnetdeSante-sub000/internal/models"
)

type ReactionRepository struct {
	db DBTX
}

func NewReactionRepository(db DBTX) *ReactionRepository {
	return &ReactionRepository{db: db}
}

func (r *ReactionRepository) Add(ctx context.Context, messageID int64, userID int64, emoji string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO message_reactions (message_id, user_id, emoji)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id, user_id, emoji) DO NOTHING
	`, messageID, userID, emoji)
	return err
}

func (r *ReactionRepository) Remove(ctx context.Context, messageID int64, userID int64, emoji string) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM message_reactions
		WHERE message_id = $1 AND user_id = $2 AND emoji = $3
	`, messageID, userID, emoji)
	return err
}

func (r *ReactionRepository) ForMessages(ctx context.Context, messageIDs []int64) (map[int64]models.ReactionMap, error) {
	result := make(map[int64]models.ReactionMap, len(messageIDs))
	if len(messageIDs) == 0 {
		return result, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT message_id, emoji, user_id
		FROM message_reactions
		WHERE message_id = ANY($1)
		ORDER BY message_id, emoji, user_id
	`, messageIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var messageID, userID int64
		var emoji string
		if err := rows.Scan(&messageID, &emoji, &userID); err != nil {
			return nil, err
		}
		reactions, ok := result[messageID]
		if !ok {
			reactions = models.ReactionMap{}
			result[messageID] = reactions
		}
		reactions.Add(emoji, userID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
