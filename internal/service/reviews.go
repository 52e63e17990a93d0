package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"bookshop-service/internal/models"
	"bookshop-service/internal/util"

	"go.uber.org/zap"
)

// ImageStore accepts base64-encoded images and returns durable URLs. Used
// only by reviews, never by the order lifecycle.
type ImageStore interface {
	Upload(ctx context.Context, base64Image string) (string, error)
}

// ReviewStore is the storage surface for reviews.
type ReviewStore interface {
	CreateReview(ctx context.Context, review *models.Review) error
	GetReviews(ctx context.Context) ([]models.Review, error)
}

// ReviewService handles customer reviews of delivered orders.
type ReviewService struct {
	store  ReviewStore
	images ImageStore
	logger *zap.Logger
}

// NewReviewService creates a review service.
func NewReviewService(store ReviewStore, images ImageStore) *ReviewService {
	return &ReviewService{
		store:  store,
		images: images,
		logger: util.GetLogger(),
	}
}

// SubmitReviewRequest is a customer's review submission.
type SubmitReviewRequest struct {
	OrderID    string   `json:"order_id"`
	UserID     string   `json:"user_id"`
	Rating     int      `json:"rating"`
	Title      string   `json:"title"`
	ReviewText string   `json:"review_text,omitempty"`
	Images     []string `json:"images,omitempty"`
}

// SubmitReview validates and stores a review against a delivered order.
func (s *ReviewService) SubmitReview(ctx context.Context, req *SubmitReviewRequest) (*models.Review, error) {
	if req.UserID == "" {
		return nil, ErrUnauthorized
	}
	if req.OrderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrValidationFailed)
	}
	if req.Rating < 1 || req.Rating > 5 {
		return nil, fmt.Errorf("%w: rating must be between 1 and 5", ErrValidationFailed)
	}
	if len(strings.TrimSpace(req.Title)) < 3 {
		return nil, fmt.Errorf("%w: title must be at least 3 characters", ErrValidationFailed)
	}

	var imageURLs []string
	for _, img := range req.Images {
		url, err := s.images.Upload(ctx, img)
		if err != nil {
			s.logger.Error("Review image upload failed",
				zap.String("order_id", req.OrderID), zap.Error(err))
			return nil, fmt.Errorf("failed to upload review image: %w", err)
		}
		imageURLs = append(imageURLs, url)
	}

	review := &models.Review{
		OrderID:    req.OrderID,
		UserID:     req.UserID,
		Rating:     req.Rating,
		Title:      req.Title,
		ReviewText: req.ReviewText,
		ImageURLs:  imageURLs,
	}

	if err := s.store.CreateReview(ctx, review); err != nil {
		return nil, err
	}

	s.logger.Info("Review submitted",
		zap.String("order_id", req.OrderID),
		zap.Int("rating", req.Rating))
	return review, nil
}

// GetReviews lists all reviews.
func (s *ReviewService) GetReviews(ctx context.Context) ([]models.Review, error) {
	return s.store.GetReviews(ctx)
}

// HTTPImageStore uploads images to a configured HTTP endpoint that responds
// with {"url": "..."}
type HTTPImageStore struct {
	Endpoint string
	Client   *http.Client
}

// NewHTTPImageStore creates an image store client.
func NewHTTPImageStore(endpoint string) *HTTPImageStore {
	return &HTTPImageStore{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Upload implements ImageStore.
func (s *HTTPImageStore) Upload(ctx context.Context, base64Image string) (string, error) {
	body, err := json.Marshal(map[string]string{"image": base64Image, "folder": "reviews"})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("image upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("image upload returned status %d", resp.StatusCode)
	}

	var uploadResp struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&uploadResp); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	if uploadResp.URL == "" {
		return "", fmt.Errorf("upload response missing url")
	}
	return uploadResp.URL, nil
}
