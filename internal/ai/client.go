package ai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kdimtricp/signassist/internal/models"
)

// Client applies the failure policy on top of the configured backends:
// identification always resolves to something displayable, detail lookups
// fail loudly.
type Client struct {
	identify Backend
	details  DetailsBackend
	logger   *slog.Logger
}

func NewClient(identify Backend, details DetailsBackend, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		identify: identify,
		details:  details,
		logger:   logger.With("component", "inference"),
	}
}

// IdentifySigns never returns an error. Any failure yields exactly one
// sentinel record.
func (c *Client) IdentifySigns(ctx context.Context, image []byte, mimeType string) []models.TrafficSign {
	if c.identify == nil {
		c.logger.Error("identification backend not configured")
		return []models.TrafficSign{Sentinel()}
	}

	signs, err := c.identify.Identify(ctx, image, mimeType)
	if err != nil {
		c.logger.Error("identification failed", "mime_type", mimeType, "bytes", len(image), "error", err)
		return []models.TrafficSign{Sentinel()}
	}

	for i, s := range signs {
		if !s.Valid() {
			c.logger.Error("identification returned incomplete record", "index", i)
			return []models.TrafficSign{Sentinel()}
		}
	}

	if signs == nil {
		signs = []models.TrafficSign{}
	}
	c.logger.Info("identification complete", "signs", len(signs))
	return signs
}

// GetSignDetails returns a complete record or ErrDetailsUnavailable.
func (c *Client) GetSignDetails(ctx context.Context, signName string) (models.DetailedSignInfo, error) {
	if c.details == nil {
		c.logger.Error("detail backend not configured", "sign", signName)
		return models.DetailedSignInfo{}, ErrDetailsUnavailable
	}

	info, err := c.details.Details(ctx, signName)
	if err != nil {
		c.logger.Error("error fetching sign details", "sign", signName, "error", err)
		return models.DetailedSignInfo{}, fmt.Errorf("%w (%v)", ErrDetailsUnavailable, err)
	}
	if !info.Complete() {
		c.logger.Error("sign details incomplete", "sign", signName)
		return models.DetailedSignInfo{}, ErrDetailsUnavailable
	}
	return info, nil
}

// HasDetails reports whether a detail backend is wired.
func (c *Client) HasDetails() bool {
	return c.details != nil
}
