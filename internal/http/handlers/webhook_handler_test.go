package handlers

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/Amineeeeee523/khalilos/internal/logger"
)

func TestMain(m *testing.M) {
	logger.Init("error")
	os.Exit(m.Run())
}

func TestWebhookHandler_HandlePaymee_EmptyBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &WebhookHandler{}
	r.POST("/webhooks/paymee", handler.HandlePaymee)

	req, _ := http.NewRequest("POST", "/webhooks/paymee", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookHandler_HandlePaymee_MissingToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &WebhookHandler{}
	r.POST("/webhooks/paymee", handler.HandlePaymee)

	body := strings.NewReader(`{"payment_status":"PAID"}`)
	req, _ := http.NewRequest("POST", "/webhooks/paymee", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
