package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/d4l-data4life/go-chat-host/pkg/handlers"
	"github.com/d4l-data4life/go-chat-host/pkg/models"
	"github.com/d4l-data4life/go-chat-host/pkg/store"
)

const (
	livenessURL  = "/checks/liveness"
	readinessURL = "/checks/readiness"
)

func TestRoutesCheck(t *testing.T) {
	router := handlers.NewChecksHandler().Routes()
	assert.NotNil(t, router)
	assert.Len(t, router.Routes(), 2)
}

func TestCheckLiveness(t *testing.T) {
	s := store.New(models.InitializeTestDB(t))
	request, _ := http.NewRequest(http.MethodGet, livenessURL, nil)
	response := httptest.NewRecorder()
	handlers.NewChecksHandler(s.Ping).Liveness(response, request)
	assert.Equal(t, 200, response.Code)
}

func TestCheckReadiness(t *testing.T) {
	s := store.New(models.InitializeTestDB(t))
	request, _ := http.NewRequest(http.MethodGet, readinessURL, nil)
	response := httptest.NewRecorder()
	handlers.NewChecksHandler(s.Ping).Readiness(response, request)
	assert.Equal(t, 200, response.Code)
}

func TestCheckReadinessFailure(t *testing.T) {
	// Open and Close DB connection to simulate broken connection
	conn := models.InitializeTestDB(t)
	sqlDB, err := conn.DB()
	assert.NoError(t, err)
	assert.NoError(t, sqlDB.Close())

	request, _ := http.NewRequest(http.MethodGet, readinessURL, nil)
	response := httptest.NewRecorder()
	handlers.NewChecksHandler(store.New(conn).Ping).Readiness(response, request)
	assert.Equal(t, 500, response.Code)
}

func TestCheckReadinessAllPingers(t *testing.T) {
	redisDown := func() error { return errors.New("redis unreachable") }
	request, _ := http.NewRequest(http.MethodGet, readinessURL, nil)
	response := httptest.NewRecorder()
	handlers.NewChecksHandler(func() error { return nil }, redisDown).Readiness(response, request)
	assert.Equal(t, 500, response.Code)
}
