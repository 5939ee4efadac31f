package controller

import (
	"context"
	"errors"
	"io"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"finresearch_backend/internal/middleware"
	"finresearch_backend/internal/model"
	"finresearch_backend/pkg/utils/image"
	"finresearch_backend/pkg/utils/validation"
)

// AvatarStore keeps avatar images at a public URL.
type AvatarStore interface {
	UploadAvatar(ctx context.Context, userID uint, displayName string, body io.Reader) (string, error)
	Delete(ctx context.Context, url string) error
}

type ProfileUpdateInput struct {
	FirstName  *string `json:"first_name" validate:"omitempty,min=1,max=100"`
	LastName   *string `json:"last_name" validate:"omitempty,max=100"`
	Newsletter *bool   `json:"newsletter"`
}

type SettingsController struct {
	db      *gorm.DB
	avatars AvatarStore
}

// NewSettingsController accepts a nil store; avatar uploads then answer 503.
func NewSettingsController(db *gorm.DB, avatars AvatarStore) *SettingsController {
	return &SettingsController{db: db, avatars: avatars}
}

func (sc *SettingsController) GetProfile(c *fiber.Ctx) error {
	user, err := sc.loadUser(c)
	if err != nil {
		return err
	}
	return c.JSON(user.GetPublicProfile())
}

func (sc *SettingsController) UpdateProfile(c *fiber.Ctx) error {
	input := new(ProfileUpdateInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}
	if err := validate.Struct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "Invalid input",
			"details": validationMessage(err),
		})
	}

	user, err := sc.loadUser(c)
	if err != nil {
		return err
	}

	updates := map[string]interface{}{}
	if input.FirstName != nil {
		updates["first_name"] = *input.FirstName
	}
	if input.LastName != nil {
		updates["last_name"] = *input.LastName
	}

	err = sc.db.Transaction(func(tx *gorm.DB) error {
		if len(updates) > 0 {
			if err := tx.Model(user).Updates(updates).Error; err != nil {
				return err
			}
		}
		if input.Newsletter == nil || *input.Newsletter == user.NewsletterSubscribed {
			return nil
		}
		if *input.Newsletter {
			_, _, err := subscribeEmail(tx, user.Email, user.GetFullName(), SourceSettings, &user.ID)
			return err
		}
		err := unsubscribeEmail(tx, user.Email)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return setProfileNewsletter(tx, &user.ID, false)
		}
		return err
	})
	if err != nil {
		log.Errorf("Update profile %d: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not update profile",
		})
	}

	if err := sc.db.First(user, user.ID).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not reload profile",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Profile updated successfully",
		"user":    user.GetPublicProfile(),
	})
}

// UploadAvatar re-encodes the multipart "avatar" file to WEBP, stores it and replaces
// the previous avatar.
func (sc *SettingsController) UploadAvatar(c *fiber.Ctx) error {
	if sc.avatars == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Avatar storage is not configured",
		})
	}

	file, err := c.FormFile("avatar")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No avatar image provided",
		})
	}
	if err := validation.ValidateAvatar(file); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	user, err := sc.loadUser(c)
	if err != nil {
		return err
	}

	src, err := file.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Could not read avatar",
		})
	}
	defer src.Close()

	encoded, err := image.ToWebP(src)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "File must be a valid JPG, PNG or WEBP image",
		})
	}

	ctx := c.UserContext()
	avatarURL, err := sc.avatars.UploadAvatar(ctx, user.ID, user.GetFullName(), encoded)
	if err != nil {
		log.Errorf("Avatar upload for user %d: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not upload avatar",
		})
	}

	if err := sc.db.Model(user).Update("avatar", avatarURL).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not update avatar",
		})
	}

	if old := user.Avatar; old != "" {
		if err := sc.avatars.Delete(ctx, old); err != nil {
			log.Warnf("Error deleting old avatar of user %d: %v", user.ID, err)
		}
	}

	return c.JSON(fiber.Map{
		"message": "Avatar uploaded successfully",
		"avatar":  avatarURL,
	})
}

// loadUser returns a *fiber.Error for the app's ErrorHandler to render.
func (sc *SettingsController) loadUser(c *fiber.Ctx) (*model.UserProfile, error) {
	var user model.UserProfile
	err := sc.db.First(&user, middleware.UserID(c)).Error
	switch {
	case err == nil:
		return &user, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fiber.NewError(fiber.StatusNotFound, "User not found")
	default:
		log.Errorf("Load user %d: %v", middleware.UserID(c), err)
		return nil, fiber.NewError(fiber.StatusInternalServerError, "Could not fetch user")
	}
}
