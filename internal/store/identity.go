package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/vesaa/miniprobe/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CreateClient registers a client under a freshly generated token and returns
// the token. It is the only time the raw token is available.
func (s *Store) CreateClient(ctx context.Context, name string) (*models.Client, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", fmt.Errorf("%w: client name is required", ErrInvalidInput)
	}

	var (
		client models.Client
		token  string
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for {
			tok, err := generateToken()
			if err != nil {
				return err
			}
			hash, err := hashToken(tok, s.hashCost)
			if err != nil {
				return err
			}

			var n int64
			if err := tx.Model(&models.Client{}).Where("token_hash = ?", hash).Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				continue
			}

			token = tok
			client = models.Client{
				Name:      name,
				TokenIdx:  tokenIndex(tok),
				TokenHash: hash,
				CreatedAt: s.now().UTC(),
			}
			return tx.Create(&client).Error
		}
	})
	if err != nil {
		return nil, "", fmt.Errorf("creating client: %w", classify(err))
	}

	s.log.Info("client created", zap.Int64("client_id", client.ID), zap.String("name", client.Name))
	return &client, token, nil
}

// InsertClient stores a client with a precomputed index and hash. A hash that
// is already registered fails with ErrConflict.
func (s *Store) InsertClient(ctx context.Context, name string, tokenIdx uint32, tokenHash string) (*models.Client, error) {
	if strings.TrimSpace(name) == "" || tokenHash == "" {
		return nil, fmt.Errorf("%w: client name and token hash are required", ErrInvalidInput)
	}
	client := models.Client{
		Name:      name,
		TokenIdx:  tokenIdx,
		TokenHash: tokenHash,
		CreatedAt: s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&client).Error; err != nil {
		return nil, fmt.Errorf("inserting client: %w", classify(err))
	}
	return &client, nil
}

// ResolveToken returns the client owning token, or ErrUnauthorized.
func (s *Store) ResolveToken(ctx context.Context, token string) (*models.Client, error) {
	if len(token) != ClientTokenLength {
		return nil, ErrUnauthorized
	}

	var candidates []models.Client
	if err := s.db.WithContext(ctx).Where("token_idx = ?", tokenIndex(token)).Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("resolving token: %w", classify(err))
	}
	for i := range candidates {
		if verifyToken(candidates[i].TokenHash, token) {
			return &candidates[i], nil
		}
	}
	return nil, ErrUnauthorized
}

func (s *Store) ListClients(ctx context.Context) ([]models.Client, error) {
	var clients []models.Client
	if err := s.db.WithContext(ctx).Order("id").Find(&clients).Error; err != nil {
		return nil, fmt.Errorf("listing clients: %w", classify(err))
	}
	return clients, nil
}

func (s *Store) RenameClient(ctx context.Context, id int64, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: client name is required", ErrInvalidInput)
	}
	res := s.db.WithContext(ctx).Model(&models.Client{}).Where("id = ?", id).Update("name", name)
	if res.Error != nil {
		return fmt.Errorf("renaming client %d: %w", id, classify(res.Error))
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("client %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteClient removes a client. Its sessions stay, with client_id set to NULL.
func (s *Store) DeleteClient(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Delete(&models.Client{}, id)
	if res.Error != nil {
		return fmt.Errorf("deleting client %d: %w", id, classify(res.Error))
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("client %d: %w", id, ErrNotFound)
	}
	s.log.Info("client deleted", zap.Int64("client_id", id))
	return nil
}
