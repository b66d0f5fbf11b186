package authpw

import (
	"context"
	"errors"
	"testing"

	"quorum/api/internal/store"
)

// mockUserStore is a mock implementation of UserStore for testing
type mockUserStore struct {
	users      map[string]store.User
	emailIndex map[string]string // email -> userID
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:      make(map[string]store.User),
		emailIndex: make(map[string]string),
	}
}

func (m *mockUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if userID, ok := m.emailIndex[email]; ok {
		return m.users[userID], nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *mockUserStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if user, ok := m.users[id]; ok {
		return user, nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *mockUserStore) CreateUser(ctx context.Context, user store.User) error {
	m.users[user.ID] = user
	m.emailIndex[user.Email] = user.ID
	return nil
}

func TestSignUp(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := NewService(mockStore)

	t.Run("successful sign up", func(t *testing.T) {
		req := SignUpRequest{
			Email:       "test@example.com",
			Password:    "password123",
			DisplayName: "Test User",
		}

		user, err := svc.SignUp(ctx, req)
		if err != nil {
			t.Fatalf("SignUp failed: %v", err)
		}
		if user.ID == "" {
			t.Error("expected a user ID")
		}
		if user.Role != "member" {
			t.Errorf("expected default role member, got %s", user.Role)
		}
		if user.PasswordHash == req.Password {
			t.Error("password stored in plaintext")
		}
	})

	t.Run("duplicate email rejected", func(t *testing.T) {
		req := SignUpRequest{
			Email:       "test@example.com",
			Password:    "password456",
			DisplayName: "Other User",
		}
		if _, err := svc.SignUp(ctx, req); err == nil {
			t.Error("expected error for duplicate email")
		}
	})

	t.Run("short password rejected", func(t *testing.T) {
		req := SignUpRequest{
			Email:       "short@example.com",
			Password:    "short",
			DisplayName: "Short",
		}
		if _, err := svc.SignUp(ctx, req); err == nil {
			t.Error("expected error for short password")
		}
	})

	t.Run("missing fields rejected", func(t *testing.T) {
		if _, err := svc.SignUp(ctx, SignUpRequest{Email: "x@example.com"}); err == nil {
			t.Error("expected error for missing fields")
		}
	})
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := NewService(mockStore)

	signedUp, err := svc.SignUp(ctx, SignUpRequest{
		Email:       "signin@example.com",
		Password:    "password123",
		DisplayName: "Sign In User",
	})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}

	t.Run("correct credentials", func(t *testing.T) {
		user, err := svc.SignIn(ctx, SignInRequest{
			Email:    "signin@example.com",
			Password: "password123",
		})
		if err != nil {
			t.Fatalf("SignIn failed: %v", err)
		}
		if user.ID != signedUp.ID {
			t.Errorf("expected user %s, got %s", signedUp.ID, user.ID)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := svc.SignIn(ctx, SignInRequest{
			Email:    "signin@example.com",
			Password: "wrongpassword",
		})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("unknown email", func(t *testing.T) {
		_, err := svc.SignIn(ctx, SignInRequest{
			Email:    "nobody@example.com",
			Password: "password123",
		})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})
}
