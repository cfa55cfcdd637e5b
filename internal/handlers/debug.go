package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"atelier/internal/middleware"
	"atelier/internal/models"
)

const maxSeedProfiles = 100

// ProfileWriter stores profiles for seeding.
type ProfileWriter interface {
	Upsert(ctx context.Context, p models.Profile) error
}

type seededProfile struct {
	models.Profile
	Token string `json:"token,omitempty"`
}

var seedRoles = []models.Role{models.RoleModel, models.RoleDesigner, models.RoleMember}

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRoutes, writer ProfileWriter, verifier *middleware.TokenVerifier, enabled bool) {
	if !enabled {
		return
	}

	router.POST("/debug/seed-profiles", func(c *gin.Context) {
		if writer == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "profile store not configured"})
			return
		}
		count, err := strconv.Atoi(c.DefaultQuery("count", "5"))
		if err != nil || count < 1 || count > maxSeedProfiles {
			c.JSON(http.StatusBadRequest, gin.H{"error": "count must be between 1 and 100"})
			return
		}

		out := make([]seededProfile, 0, count)
		for i := 0; i < count; i++ {
			p := fakeProfile()
			if err := writer.Upsert(c.Request.Context(), p); err != nil {
				logger.Error().Err(err).Msg("seed profile failed")
				c.JSON(http.StatusBadGateway, gin.H{"error": "could not store profile"})
				return
			}
			seeded := seededProfile{Profile: p}
			if verifier != nil {
				seeded.Token, _ = verifier.IssueToken(p.ID, 24*time.Hour)
			}
			out = append(out, seeded)
		}
		c.JSON(http.StatusCreated, gin.H{"profiles": out})
	})
}

func fakeProfile() models.Profile {
	return models.Profile{
		ID:        uuid.NewString(),
		Name:      gofakeit.Name(),
		Role:      seedRoles[gofakeit.Number(0, len(seedRoles)-1)],
		AvatarURL: gofakeit.ImageURL(256, 256),
		Location:  gofakeit.City() + ", " + gofakeit.Country(),
	}
}
