package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kdimtricp/signassist/internal/models"
)

const detectorFallbackMeaning = "Nhấn để xem chi tiết."

// DetectorClient talks to the YOLO traffic-sign inference service.
type DetectorClient struct {
	baseURL       string
	httpClient    *http.Client
	catalog       SignLookup
	minConfidence float64
	iouThreshold  float64
}

type DetectorOptions struct {
	MinConfidence float64
	IoUThreshold  float64
	Timeout       time.Duration
}

func NewDetectorClient(baseURL string, catalog SignLookup, opts DetectorOptions) *DetectorClient {
	if opts.IoUThreshold == 0 {
		opts.IoUThreshold = 0.5
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	return &DetectorClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		catalog:       catalog,
		minConfidence: opts.MinConfidence,
		iouThreshold:  opts.IoUThreshold,
	}
}

type predictRequest struct {
	Image    string `json:"image"`
	MIMEType string `json:"mimeType,omitempty"`
}

type predictResponse struct {
	Detections []Detection     `json:"detections"`
	ImageSize  map[string]int  `json:"imageSize"`
	Detail     json.RawMessage `json:"detail,omitempty"`
}

func (c *DetectorClient) Identify(ctx context.Context, image []byte, mimeType string) ([]models.TrafficSign, error) {
	dets, err := c.Predict(ctx, image, mimeType)
	if err != nil {
		return nil, err
	}

	signs := make([]models.TrafficSign, 0, len(dets))
	for _, d := range dets {
		signs = append(signs, c.resolve(ctx, d))
	}
	return signs, nil
}

// Predict returns the filtered, de-duplicated detections for one image.
func (c *DetectorClient) Predict(ctx context.Context, image []byte, mimeType string) ([]Detection, error) {
	reqBody := predictRequest{
		Image:    base64.StdEncoding.EncodeToString(image),
		MIMEType: mimeType,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detector returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var predResp predictResponse
	if err := json.Unmarshal(body, &predResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	confident := make([]Detection, 0, len(predResp.Detections))
	for _, d := range predResp.Detections {
		if d.Confidence <= c.minConfidence {
			slog.Debug("skipping low confidence detection", "code", d.Code, "confidence", d.Confidence)
			continue
		}
		confident = append(confident, d)
	}

	kept := SuppressDuplicates(confident, c.iouThreshold)
	slog.Debug("detector results", "raw", len(predResp.Detections), "confident", len(confident), "kept", len(kept))
	return kept, nil
}

// Health reports whether the detector service answers its health probe.
func (c *DetectorClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("detector health returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *DetectorClient) resolve(ctx context.Context, d Detection) models.TrafficSign {
	code := d.Code
	if code == "" {
		code = fmt.Sprintf("class_%d", d.ClassID)
	}

	sign := models.TrafficSign{Name: d.Name, Meaning: d.Meaning}
	if c.catalog != nil && (sign.Name == "" || sign.Name == code || sign.Meaning == "" || sign.Meaning == detectorFallbackMeaning) {
		if info, err := c.catalog.GetByCode(ctx, code); err == nil {
			sign.Name, sign.Meaning = info.Name, info.Meaning
		}
	}
	if sign.Name == "" {
		sign.Name = code
	}
	if sign.Meaning == "" {
		sign.Meaning = detectorFallbackMeaning
	}
	return sign
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
