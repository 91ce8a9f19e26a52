package data

import (
	"fmt"
	"strconv"
	"time"
)

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Restaurant struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	OwnerID     string    `json:"owner"`
	Owner       *User     `json:"-"` // set when the find included "owner"
	CreatedAt   time.Time `json:"createdAt"`
}

// MenuItem prices are plain float64; the platform's own precision is whatever
// its number column holds.
type MenuItem struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Price        float64   `json:"price"`
	RestaurantID string    `json:"restaurant"`
	OwnerID      string    `json:"owner"`
	CreatedAt    time.Time `json:"createdAt"`
}

func DecodeUser(r Record) (User, error) {
	return User{
		ID:    r.ID,
		Name:  str(r.Data["name"]),
		Email: str(r.Data["email"]),
	}, nil
}

func DecodeRestaurant(r Record) (Restaurant, error) {
	out := Restaurant{
		ID:          r.ID,
		Name:        str(r.Data["name"]),
		Description: str(r.Data["description"]),
		CreatedAt:   r.CreatedAt,
	}
	out.OwnerID, out.Owner = ref(r.Data["owner"])
	return out, nil
}

func DecodeMenuItem(r Record) (MenuItem, error) {
	price, err := number(r.Data["price"])
	if err != nil {
		return MenuItem{}, fmt.Errorf("menu item %s: price: %w", r.ID, err)
	}
	out := MenuItem{
		ID:          r.ID,
		Name:        str(r.Data["name"]),
		Description: str(r.Data["description"]),
		Price:       price,
		CreatedAt:   r.CreatedAt,
	}
	out.RestaurantID, _ = ref(r.Data["restaurant"])
	out.OwnerID, _ = ref(r.Data["owner"])
	return out, nil
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func number(v any) (float64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		return strconv.ParseFloat(t, 64)
	default:
		return 0, fmt.Errorf("unexpected %T", v)
	}
}

// ref accepts a bare id or an included record ({"id": .., "name": ..}).
func ref(v any) (string, *User) {
	switch t := v.(type) {
	case string:
		return t, nil
	case map[string]any:
		u := &User{ID: str(t["id"]), Name: str(t["name"]), Email: str(t["email"])}
		return u.ID, u
	default:
		return "", nil
	}
}
