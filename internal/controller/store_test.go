package controller

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"finresearch_backend/internal/model"
	"finresearch_backend/pkg/database/dbtest"
	"finresearch_backend/pkg/email"
	"finresearch_backend/pkg/utils/jwt"
)

func openStore(t *testing.T) *gorm.DB {
	t.Helper()
	return dbtest.Open(t,
		&model.UserProfile{},
		&model.Subscription{},
		&model.NewsletterSubscriber{},
	)
}

func addProfile(t *testing.T, db *gorm.DB, id uint, address string) *model.UserProfile {
	t.Helper()
	user := &model.UserProfile{
		Model:        gorm.Model{ID: id},
		Email:        address,
		PasswordHash: "x",
		FirstName:    "Ana",
		LastName:     "Lima",
		Role:         model.RoleUser,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func testTokens(t *testing.T) *jwt.Manager {
	t.Helper()
	tokens, err := jwt.NewManager("secret", time.Hour)
	require.NoError(t, err)
	return tokens
}

func bearer(t *testing.T, tokens *jwt.Manager, userID uint) string {
	t.Helper()
	token, err := tokens.GenerateToken(userID, "ana@example.com", model.RoleUser)
	require.NoError(t, err)
	return "Bearer " + token
}

func sendJSON(t *testing.T, app *fiber.App, method, path, body, auth string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if auth != "" {
		req.Header.Set(fiber.HeaderAuthorization, auth)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []email.Message
}

func (m *recordingMailer) Enqueue(msg email.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type stubSubscriptions struct {
	sub *model.Subscription
	err error
}

func (s stubSubscriptions) CurrentSubscription(context.Context, uint) (*model.Subscription, error) {
	return s.sub, s.err
}

func loadSubscriber(t *testing.T, db *gorm.DB, address string) model.NewsletterSubscriber {
	t.Helper()
	var sub model.NewsletterSubscriber
	require.NoError(t, db.Where("email = ?", address).First(&sub).Error)
	return sub
}

func loadProfile(t *testing.T, db *gorm.DB, id uint) model.UserProfile {
	t.Helper()
	var user model.UserProfile
	require.NoError(t, db.First(&user, id).Error)
	return user
}
