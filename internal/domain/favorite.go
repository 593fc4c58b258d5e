package domain

type FavoriteState int

const (
	FavoriteUnknown FavoriteState = iota
	NotFavorite
	Favorite
)

func (s FavoriteState) String() string {
	switch s {
	case NotFavorite:
		return "not_favorite"
	case Favorite:
		return "favorite"
	default:
		return "unknown"
	}
}

func (s FavoriteState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// FavoriteRelation links a product to the user's favorite record.
// Present implies RecordID is known.
type FavoriteRelation struct {
	ProductID int64 `json:"product_id"`
	RecordID  int64 `json:"favorite_id,omitempty"`
	Present   bool  `json:"present"`
}
