package seed

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"finresearch_backend/internal/model"
)

// EnsureAdmin creates the bootstrap admin profile, or promotes an existing profile with
// that email to admin. The password of an existing profile is left unchanged.
func EnsureAdmin(db *gorm.DB, email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil
	}

	var user model.UserProfile
	err := db.Where("email = ?", email).First(&user).Error
	switch {
	case err == nil:
		if user.Role == model.RoleAdmin {
			return nil
		}
		if err := db.Model(&user).Update("role", model.RoleAdmin).Error; err != nil {
			return fmt.Errorf("promote %s: %w", email, err)
		}
		log.Infof("Promoted %s to admin", email)
		return nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return err
	}

	if len(password) < 8 {
		return errors.New("admin password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	user = model.UserProfile{
		Email:         email,
		PasswordHash:  string(hash),
		FirstName:     "Admin",
		Role:          model.RoleAdmin,
		TermsAccepted: true,
	}
	if err := db.Create(&user).Error; err != nil {
		return fmt.Errorf("create admin %s: %w", email, err)
	}

	log.Infof("Admin %s seeded", email)
	return nil
}
