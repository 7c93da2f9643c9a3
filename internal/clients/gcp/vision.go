package gcp

import (
	"context"
	"fmt"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"

	"github.com/yungbote/inkpress-backend/internal/platform/ctxutil"
	"github.com/yungbote/inkpress-backend/internal/platform/logger"
)

// Vision screens generated cover art before it is offered to authors.
type Vision interface {
	ReviewCover(ctx context.Context, img []byte) (*CoverReview, error)
	Close() error
}

// CoverReview summarizes the safe-search verdict and top labels for one
// cover variation. Flagged covers are still stored; the review rides along
// in cover-images.json so the frontend can warn.
type CoverReview struct {
	Adult    string   `json:"adult"`
	Violence string   `json:"violence"`
	Racy     string   `json:"racy"`
	Labels   []string `json:"labels,omitempty"`
	Flagged  bool     `json:"flagged"`
}

type visionService struct {
	log    *logger.Logger
	client *vision.ImageAnnotatorClient
}

func NewVision(log *logger.Logger) (Vision, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("client", "gcp.Vision")

	ctx := context.Background()
	c, err := vision.NewImageAnnotatorClient(ctx, ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}

	return &visionService{log: slog, client: c}, nil
}

func (s *visionService) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *visionService) ReviewCover(ctx context.Context, img []byte) (*CoverReview, error) {
	if len(img) == 0 {
		return &CoverReview{}, nil
	}

	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), 60*time.Second)
	defer cancel()

	req := &visionpb.AnnotateImageRequest{
		Image: &visionpb.Image{Content: img},
		Features: []*visionpb.Feature{
			{Type: visionpb.Feature_SAFE_SEARCH_DETECTION},
			{Type: visionpb.Feature_LABEL_DETECTION, MaxResults: 8},
		},
	}
	resp, err := s.client.BatchAnnotateImages(ctx, &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{req},
	})
	if err != nil {
		return nil, fmt.Errorf("vision BatchAnnotateImages: %w", err)
	}
	if resp == nil || len(resp.Responses) == 0 || resp.Responses[0] == nil {
		return &CoverReview{}, nil
	}

	r0 := resp.Responses[0]
	if r0.Error != nil && r0.Error.Message != "" {
		return nil, fmt.Errorf("vision annotate error: %s", r0.Error.Message)
	}

	out := &CoverReview{}
	if ss := r0.SafeSearchAnnotation; ss != nil {
		out.Adult = ss.Adult.String()
		out.Violence = ss.Violence.String()
		out.Racy = ss.Racy.String()
		out.Flagged = likelyOrWorse(ss.Adult) || likelyOrWorse(ss.Violence) || likelyOrWorse(ss.Racy)
	}
	for _, l := range r0.LabelAnnotations {
		if l == nil || l.Description == "" {
			continue
		}
		out.Labels = append(out.Labels, l.Description)
	}
	return out, nil
}

func likelyOrWorse(l visionpb.Likelihood) bool {
	return l == visionpb.Likelihood_LIKELY || l == visionpb.Likelihood_VERY_LIKELY
}
