package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/narahir/RetroDiffusionApp/pkg/models"
)

const DefaultBaseURL = "https://api.retrodiffusion.ai/v1"

var (
	ErrImageDecodingFailed = errors.New("failed to decode image from response")
	ErrInvalidResponse     = errors.New("invalid response from server")
)

// Service is the surface the queue depends on.
type Service interface {
	Generate(ctx context.Context, prompt, model string, width, height int) ([]byte, error)
	Pixelate(ctx context.Context, image []byte) ([]byte, error)
}

// Client talks to the RetroDiffusion inference API. Every request carries the
// API token in the X-RD-Token header.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
}

// Generate requests one image for the prompt and returns its decoded PNG
// bytes.
func (c *Client) Generate(ctx context.Context, prompt, model string, width, height int) ([]byte, error) {
	resp, err := c.performRequest(ctx, "/inferences", models.InferenceRequest{
		Width:       width,
		Height:      height,
		Prompt:      prompt,
		NumImages:   1,
		PromptStyle: model,
	})
	if err != nil {
		return nil, err
	}
	return firstImage(resp)
}

// Pixelate sends the source image through the pixelate style and returns the
// decoded result.
func (c *Client) Pixelate(ctx context.Context, image []byte) ([]byte, error) {
	resp, err := c.performRequest(ctx, "/inferences", models.InferenceRequest{
		Width:       models.MaxEditSize,
		Height:      models.MaxEditSize,
		Prompt:      "",
		NumImages:   1,
		PromptStyle: models.PixelateStyle,
		InputImage:  base64.StdEncoding.EncodeToString(image),
	})
	if err != nil {
		return nil, err
	}
	return firstImage(resp)
}

// CheckCredits returns the remaining credit balance for the configured token.
func (c *Client) CheckCredits(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/inferences/credits", nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create credits request: %w", err)
	}
	req.Header.Set("X-RD-Token", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send credits request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, ErrInvalidResponse
	}

	var credits models.CreditsResponse
	if err := json.NewDecoder(resp.Body).Decode(&credits); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return credits.Credits, nil
}

// GenerateCost previews the credit cost of a generation without running it.
func (c *Client) GenerateCost(ctx context.Context, prompt, model string, width, height int) (float64, error) {
	resp, err := c.performRequest(ctx, "/inferences", models.InferenceRequest{
		Width:       width,
		Height:      height,
		Prompt:      prompt,
		NumImages:   1,
		PromptStyle: model,
		CheckCost:   true,
	})
	if err != nil {
		return 0, err
	}
	return cost(resp), nil
}

// PixelateCost previews the credit cost of pixelating the given image.
func (c *Client) PixelateCost(ctx context.Context, image []byte) (float64, error) {
	resp, err := c.performRequest(ctx, "/inferences", models.InferenceRequest{
		Width:       models.MaxEditSize,
		Height:      models.MaxEditSize,
		NumImages:   1,
		PromptStyle: models.PixelateStyle,
		InputImage:  base64.StdEncoding.EncodeToString(image),
		CheckCost:   true,
	})
	if err != nil {
		return 0, err
	}
	return cost(resp), nil
}

func (c *Client) performRequest(ctx context.Context, endpoint string, request models.InferenceRequest) (*models.InferenceResponse, error) {
	reqBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create inference request: %w", err)
	}
	req.Header.Set("X-RD-Token", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send inference request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read inference response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("API error: %s", apiErr.Error)
		}
		if resp.StatusCode == http.StatusRequestEntityTooLarge {
			return nil, errors.New("image is too large, please try a smaller image")
		}
		log.Printf("inference API returned %d: %s", resp.StatusCode, truncate(body, 500))
		return nil, fmt.Errorf("HTTP error: %d", resp.StatusCode)
	}

	var decoded models.InferenceResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return &decoded, nil
}

func firstImage(resp *models.InferenceResponse) ([]byte, error) {
	if len(resp.Base64Images) == 0 {
		return nil, ErrImageDecodingFailed
	}
	data, err := base64.StdEncoding.DecodeString(resp.Base64Images[0])
	if err != nil {
		return nil, ErrImageDecodingFailed
	}
	return data, nil
}

func cost(resp *models.InferenceResponse) float64 {
	if resp.BalanceCost != nil {
		return *resp.BalanceCost
	}
	return float64(resp.CreditCost)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
