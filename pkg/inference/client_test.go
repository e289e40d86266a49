package inference

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/narahir/RetroDiffusionApp/pkg/models"
)

func TestGenerateSendsTokenAndPayload(t *testing.T) {
	image := []byte("png bytes")
	var got models.InferenceRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/inferences", r.URL.Path)
		assert.Equal(t, "secret-token", r.Header.Get("X-RD-Token"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		json.NewEncoder(w).Encode(models.InferenceResponse{
			CreatedAt:    1700000000,
			CreditCost:   1,
			Base64Images: []string{base64.StdEncoding.EncodeToString(image)},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret-token")
	result, err := client.Generate(context.Background(), "pixel cat", "rd_fast__default", 256, 256)
	require.NoError(t, err)
	assert.Equal(t, image, result)

	assert.Equal(t, "pixel cat", got.Prompt)
	assert.Equal(t, "rd_fast__default", got.PromptStyle)
	assert.Equal(t, 256, got.Width)
	assert.Equal(t, 256, got.Height)
	assert.Equal(t, 1, got.NumImages)
	assert.Empty(t, got.InputImage)
	assert.False(t, got.CheckCost)
}

func TestPixelateEncodesSourceImage(t *testing.T) {
	source := []byte("source image")
	var got models.InferenceRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(models.InferenceResponse{
			Base64Images: []string{base64.StdEncoding.EncodeToString([]byte("result"))},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret-token")
	result, err := client.Pixelate(context.Background(), source)
	require.NoError(t, err)
	assert.Equal(t, []byte("result"), result)

	assert.Equal(t, models.PixelateStyle, got.PromptStyle)
	assert.Equal(t, base64.StdEncoding.EncodeToString(source), got.InputImage)
	assert.Empty(t, got.Prompt)
}

func TestPayloadTooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret-token")
	_, err := client.Pixelate(context.Background(), []byte("huge"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestAPIErrorMessageSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]string{"error": "not enough credits"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret-token")
	_, err := client.Generate(context.Background(), "pixel cat", "rd_fast__default", 64, 64)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not enough credits")
}

func TestPlainHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret-token")
	_, err := client.Generate(context.Background(), "pixel cat", "rd_fast__default", 64, 64)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestEmptyImageListFailsDecoding(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.InferenceResponse{CreditCost: 1})
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret-token")
	_, err := client.Generate(context.Background(), "pixel cat", "rd_fast__default", 64, 64)
	assert.ErrorIs(t, err, ErrImageDecodingFailed)
}

func TestMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret-token")
	_, err := client.Generate(context.Background(), "pixel cat", "rd_fast__default", 64, 64)
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestCheckCredits(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/inferences/credits", r.URL.Path)
		assert.Equal(t, "secret-token", r.Header.Get("X-RD-Token"))
		json.NewEncoder(w).Encode(models.CreditsResponse{Credits: 42})
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret-token")
	credits, err := client.CheckCredits(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, credits)
}

func TestGenerateCostPrefersBalanceCost(t *testing.T) {
	balance := 2.5
	var got models.InferenceRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(models.InferenceResponse{CreditCost: 3, BalanceCost: &balance})
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret-token")
	cost, err := client.GenerateCost(context.Background(), "pixel cat", "rd_fast__default", 64, 64)
	require.NoError(t, err)
	assert.Equal(t, 2.5, cost)
	assert.True(t, got.CheckCost)
}

func TestCostFallsBackToCreditCost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.InferenceResponse{CreditCost: 3})
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret-token")
	cost, err := client.PixelateCost(context.Background(), []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, 3.0, cost)
}
