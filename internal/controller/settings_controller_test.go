package controller

import (
	"net/http"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finresearch_backend/internal/middleware"
	"finresearch_backend/internal/model"
)

func TestUpdateProfile(t *testing.T) {
	db := openStore(t)
	tokens := testTokens(t)
	addProfile(t, db, 7, "ana@example.com")

	app := fiber.New()
	sc := NewSettingsController(db, nil)
	app.Put("/profile", middleware.Protected(tokens), sc.UpdateProfile)
	app.Get("/profile", middleware.Protected(tokens), sc.GetProfile)
	auth := bearer(t, tokens, 7)

	status, body := sendJSON(t, app, http.MethodPut, "/profile", `{"first_name":"Bea","newsletter":true}`, auth)
	require.Equal(t, fiber.StatusOK, status, body)

	user := loadProfile(t, db, 7)
	assert.Equal(t, "Bea", user.FirstName)
	assert.Equal(t, "Lima", user.LastName)
	assert.True(t, user.NewsletterSubscribed)
	sub := loadSubscriber(t, db, "ana@example.com")
	assert.Equal(t, SourceSettings, sub.Source)
	require.NotNil(t, sub.UserID)
	assert.Equal(t, uint(7), *sub.UserID)

	status, _ = sendJSON(t, app, http.MethodPut, "/profile", `{"newsletter":false}`, auth)
	require.Equal(t, fiber.StatusOK, status)
	assert.False(t, loadProfile(t, db, 7).NewsletterSubscribed)
	assert.Equal(t, model.NewsletterUnsubscribed, loadSubscriber(t, db, "ana@example.com").Status)

	status, _ = sendJSON(t, app, http.MethodPut, "/profile", `{"last_name":"`+strings.Repeat("x", 101)+`"}`, auth)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body = sendJSON(t, app, http.MethodGet, "/profile", "", auth)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body, `"first_name":"Bea"`)
}

func TestUpdateProfileClearsFlagWithoutSubscriberRow(t *testing.T) {
	db := openStore(t)
	tokens := testTokens(t)
	addProfile(t, db, 7, "ana@example.com")
	require.NoError(t, db.Model(&model.UserProfile{}).Where("id = ?", 7).Update("newsletter_subscribed", true).Error)

	app := fiber.New()
	app.Put("/profile", middleware.Protected(tokens), NewSettingsController(db, nil).UpdateProfile)

	status, _ := sendJSON(t, app, http.MethodPut, "/profile", `{"newsletter":false}`, bearer(t, tokens, 7))
	require.Equal(t, fiber.StatusOK, status)
	assert.False(t, loadProfile(t, db, 7).NewsletterSubscribed)
}

func TestGetProfileUnknownUser(t *testing.T) {
	db := openStore(t)
	tokens := testTokens(t)

	app := fiber.New()
	app.Get("/profile", middleware.Protected(tokens), NewSettingsController(db, nil).GetProfile)

	status, body := sendJSON(t, app, http.MethodGet, "/profile", "", bearer(t, tokens, 99))
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "User not found", body)
}
