package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ibero-data/modgate/internal/store"
)

// UsersCollection holds one document per user keyed by lowercased email.
const UsersCollection = "users"

// User represents a user in the system
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"passwordHash,omitempty"`
	Name         string     `json:"name"`
	Role         string     `json:"role"`
	CreatedAt    *time.Time `json:"createdAt,omitempty"`
	UpdatedAt    *time.Time `json:"updatedAt,omitempty"`
}

// Public strips the password hash.
func (u User) Public() User {
	u.PasswordHash = ""
	return u
}

// Users is the store-backed user directory.
type Users struct {
	store store.Store
}

func NewUsers(st store.Store) *Users {
	return &Users{store: st}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create adds a user. An empty role means viewer.
func (u *Users) Create(ctx context.Context, email, password, name, role string) (*User, error) {
	key := normalizeEmail(email)
	if key == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	if _, err := u.Get(ctx, key); err == nil {
		return nil, ErrUserExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}
	if role == "" {
		role = RoleViewer
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &User{
		ID:           uuid.NewString(),
		Email:        key,
		PasswordHash: hash,
		Name:         name,
		Role:         role,
	}
	err = u.store.Set(ctx, UsersCollection, key, store.Fields{
		"id":           user.ID,
		"email":        user.Email,
		"passwordHash": user.PasswordHash,
		"name":         user.Name,
		"role":         user.Role,
		"createdAt":    store.ServerTimestamp,
		"updatedAt":    store.ServerTimestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u.Get(ctx, key)
}

func (u *Users) Get(ctx context.Context, email string) (*User, error) {
	doc, err := u.store.Get(ctx, UsersCollection, normalizeEmail(email))
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrEmptyReference) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read user: %w", err)
	}
	var user User
	if err := doc.Decode(&user); err != nil {
		return nil, err
	}
	return &user, nil
}

// List returns every user ordered by email without password hashes.
func (u *Users) List(ctx context.Context) ([]User, error) {
	docs, err := u.store.List(ctx, UsersCollection, "email")
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	out := make([]User, 0, len(docs))
	for _, doc := range docs {
		var user User
		if err := doc.Decode(&user); err != nil {
			return nil, err
		}
		out = append(out, user.Public())
	}
	return out, nil
}

func (u *Users) Delete(ctx context.Context, email string) error {
	err := u.store.Delete(ctx, UsersCollection, normalizeEmail(email))
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrEmptyReference) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// Count reports how many users exist.
func (u *Users) Count(ctx context.Context) (int, error) {
	docs, err := u.store.List(ctx, UsersCollection, "email")
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return len(docs), nil
}

// Authenticate checks email and password. Unknown users and wrong
// passwords are indistinguishable to the caller.
func (u *Users) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := u.Get(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !VerifyPassword(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	public := user.Public()
	return &public, nil
}
