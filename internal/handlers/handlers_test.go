package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"atelier/internal/middleware"
	"atelier/internal/models"
	"atelier/internal/profiles"
	"atelier/internal/repositories"
)

func testDirectory() *profiles.MapDirectory {
	return profiles.NewMapDirectory(
		models.Profile{ID: "ana", Name: "Ana Ortiz", Role: models.RoleModel},
		models.Profile{ID: "ben", Name: "Ben Carter", Role: models.RoleDesigner},
		models.Profile{ID: "cy", Name: "Cy Moreau", Role: models.RoleMember},
	)
}

// setupRouter builds a test router whose caller is the X-Test-User header.
func setupRouter(register func(gin.IRoutes)) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if user := c.GetHeader("X-Test-User"); user != "" {
			c.Set(middleware.UserIDKey, user)
		}
		c.Next()
	})
	register(r)
	return r
}

func doRequest(t *testing.T, r http.Handler, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

// newMemoryStore returns a store whose clock advances a second per write.
func newMemoryStore() *repositories.MemoryStore {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	return repositories.NewMemoryStore(repositories.WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}))
}
