package backend

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

const (
	pathFavorites      = "products/favoritos/"
	pathFavoriteCheck  = "products/favoritos/verificar/%d/"
	pathFavoriteRecord = "products/favoritos/%d/"
)

type favoriteCheckDTO struct {
	IsFavorite bool  `json:"is_favorite"`
	FavoriteID int64 `json:"favorite_id"`
}

type favoriteDTO struct {
	ID       int64           `json:"id"`
	Producto json.RawMessage `json:"producto"`
	Product  json.RawMessage `json:"product"`
}

func (f favoriteDTO) productID() int64 {
	for _, raw := range []json.RawMessage{f.Producto, f.Product} {
		if len(raw) == 0 {
			continue
		}
		var id int64
		if err := json.Unmarshal(raw, &id); err == nil {
			return id
		}
		var obj struct {
			ID int64 `json:"id"`
		}
		if err := json.Unmarshal(raw, &obj); err == nil && obj.ID != 0 {
			return obj.ID
		}
	}
	return 0
}

// CheckFavorite asks whether productID is a favorite and, if so, under which record.
func (c *Client) CheckFavorite(ctx context.Context, productID int64) (domain.FavoriteRelation, error) {
	var dto favoriteCheckDTO
	if err := c.get(ctx, "favorite_check", fmt.Sprintf(pathFavoriteCheck, productID), &dto); err != nil {
		return domain.FavoriteRelation{}, err
	}
	rel := domain.FavoriteRelation{ProductID: productID, Present: dto.IsFavorite}
	if dto.IsFavorite {
		rel.RecordID = dto.FavoriteID
	}
	return rel, nil
}

// AddFavorite creates the relation and returns its server-assigned id.
func (c *Client) AddFavorite(ctx context.Context, productID int64) (int64, error) {
	var dto favoriteDTO
	body := map[string]int64{"producto": productID}
	if err := c.post(ctx, "favorite_add", pathFavorites, body, &dto); err != nil {
		return 0, err
	}
	return dto.ID, nil
}

func (c *Client) RemoveFavorite(ctx context.Context, recordID int64) error {
	return c.delete(ctx, "favorite_remove", fmt.Sprintf(pathFavoriteRecord, recordID))
}

// ListFavorites returns every favorite of the current user. Both plain and
// paginated ({"results": [...]}) listings are accepted.
func (c *Client) ListFavorites(ctx context.Context) ([]domain.FavoriteRelation, error) {
	var raw json.RawMessage
	if err := c.get(ctx, "favorite_list", pathFavorites, &raw); err != nil {
		return nil, err
	}

	var items []favoriteDTO
	if err := json.Unmarshal(raw, &items); err != nil {
		var page struct {
			Results []favoriteDTO `json:"results"`
		}
		if err2 := json.Unmarshal(raw, &page); err2 != nil {
			return nil, fmt.Errorf("failed to parse favorites: %w", err)
		}
		items = page.Results
	}

	out := make([]domain.FavoriteRelation, 0, len(items))
	for _, it := range items {
		pid := it.productID()
		if pid == 0 || it.ID == 0 {
			continue
		}
		out = append(out, domain.FavoriteRelation{ProductID: pid, RecordID: it.ID, Present: true})
	}
	return out, nil
}
