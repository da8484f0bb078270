// Package hitl coordinates human-in-the-loop review. Sections whose assessed
// confidence falls below threshold are routed to the review service; reviewer
// corrections merge back with reviewer values winning per attribute. The
// timeout policy decides what happens when a reviewer never responds.
package hitl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"docflow/internal/config"
	"docflow/internal/docstore"
	"docflow/internal/logging"
	"docflow/internal/notifications"
	"docflow/internal/services/review"
	"docflow/internal/tokens"
)

const stageName = "review"

// TaskService is the subset of the review client the coordinator needs.
type TaskService interface {
	CreateTask(ctx context.Context, request review.TaskRequest) (string, error)
	Status(ctx context.Context, taskID string) (review.TaskStatus, error)
	CancelTask(ctx context.Context, taskID string) error
}

// Coordinator drives review requests, merges, and timeout resolution.
type Coordinator struct {
	store         *docstore.Store
	registry      *tokens.Registry
	client        TaskService
	notifier      notifications.Service
	policy        string
	reviewTimeout time.Duration
	callbackURL   string
	logger        *slog.Logger
}

// NewCoordinator builds a coordinator from configuration. A nil notifier
// falls back to the configured webhook service.
func NewCoordinator(store *docstore.Store, registry *tokens.Registry, client TaskService, notifier notifications.Service, cfg *config.Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	return &Coordinator{
		store:         store,
		registry:      registry,
		client:        client,
		notifier:      notifier,
		policy:        cfg.HITL.TimeoutPolicy,
		reviewTimeout: time.Duration(cfg.HITL.ReviewTimeoutSeconds) * time.Second,
		callbackURL:   callbackURL(cfg),
		logger:        logger.With(logging.String(logging.FieldComponent, "hitl")),
	}
}

func callbackURL(cfg *config.Config) string {
	if cfg.Paths.APIBind == "" {
		return ""
	}
	return "http://" + cfg.Paths.APIBind + "/api/v1/callbacks/reviews"
}

// RequestReview opens a review task for a flagged section and suspends it on
// a task token. The section moves to hitl pending; its status becomes review.
func (c *Coordinator) RequestReview(ctx context.Context, doc *docstore.Document, executionID string, section *docstore.Section) (string, error) {
	if !section.HITLStatus.CanTransition(docstore.HITLPending) {
		return "", fmt.Errorf("section %s hitl status %s cannot move to pending", section.ID, section.HITLStatus)
	}

	token, err := c.registry.Register(ctx, executionID, doc.ID, section.ID, stageName, tokens.KindReview, "")
	if err != nil {
		return "", err
	}

	alerts := make([]review.Alert, 0, len(section.ConfidenceAlerts))
	for _, alert := range section.ConfidenceAlerts {
		alerts = append(alerts, review.Alert{
			Attribute:  alert.Attribute,
			Confidence: alert.Confidence,
			Threshold:  alert.Threshold,
		})
	}
	attributes := make(map[string]string, len(section.Attributes))
	for name, attr := range section.Attributes {
		attributes[name] = attr.Value
	}

	taskID, err := c.client.CreateTask(ctx, review.TaskRequest{
		DocumentID:    doc.ID,
		SectionID:     section.ID,
		Class:         section.Class,
		Attributes:    attributes,
		Alerts:        alerts,
		CallbackToken: token.Token,
		CallbackURL:   c.callbackURL,
	})
	if err != nil {
		return "", err
	}
	if err := c.registry.BindExternalJob(ctx, token.Token, taskID); err != nil {
		return "", err
	}

	if _, err := c.store.MutateSection(ctx, section.ID, func(s *docstore.Section) {
		s.Status = docstore.SectionReview
		s.HITLStatus = docstore.HITLPending
	}); err != nil {
		return "", err
	}
	section.Status = docstore.SectionReview
	section.HITLStatus = docstore.HITLPending

	c.logger.Info("review requested",
		logging.String(logging.FieldDocumentID, doc.ID),
		logging.String(logging.FieldSectionID, section.ID),
		logging.String(logging.FieldToken, token.Token))
	if err := c.notifier.NotifyReviewRequested(ctx, doc.ID, section.ID); err != nil {
		c.logger.Warn("review notification failed", logging.Error(err))
	}
	return token.Token, nil
}

// CompleteReview merges reviewer corrections into the section. Reviewer
// values win per attribute key and carry full confidence; model output the
// reviewer left untouched is kept. Alerts clear and the section completes.
func (c *Coordinator) CompleteReview(ctx context.Context, token *tokens.Token, corrected map[string]string) error {
	if token == nil || token.SectionID == "" {
		return errors.New("review token has no section binding")
	}
	if _, err := c.store.MutateSection(ctx, token.SectionID, func(s *docstore.Section) {
		mergeCorrections(s, corrected)
		s.ConfidenceAlerts = nil
		s.HITLStatus = docstore.HITLComplete
		s.Status = docstore.SectionComplete
		s.ErrorMessage = ""
	}); err != nil {
		return err
	}
	c.logger.Info("review merged",
		logging.String(logging.FieldDocumentID, token.DocumentID),
		logging.String(logging.FieldSectionID, token.SectionID),
		logging.Int("corrected_attributes", len(corrected)))
	return nil
}

// CheckStatus reports the review progress of one section.
func (c *Coordinator) CheckStatus(ctx context.Context, sectionID string) (docstore.HITLStatus, error) {
	section, err := c.store.GetSection(ctx, sectionID)
	if err != nil {
		return "", err
	}
	if section == nil {
		return "", fmt.Errorf("section %s not found", sectionID)
	}
	return section.HITLStatus, nil
}

// ExpireOverdue resolves review tokens pending longer than the configured
// timeout according to policy. Under "wait" nothing happens. Under
// "auto_complete" the model output stands: the token is claimed, the section
// completes unchanged, and the remote task is withdrawn. Claimed tokens are
// returned so the scheduler can resume their documents.
func (c *Coordinator) ExpireOverdue(ctx context.Context) ([]*tokens.Token, error) {
	if c.policy != "auto_complete" {
		return nil, nil
	}

	pending, err := c.registry.PendingOlderThan(ctx, time.Now().Add(-c.reviewTimeout))
	if err != nil {
		return nil, err
	}

	var resolved []*tokens.Token
	for _, token := range pending {
		if token.Kind != tokens.KindReview {
			continue
		}
		claimed, won, err := c.registry.Claim(ctx, token.Token)
		if err != nil {
			return resolved, err
		}
		if !won {
			continue
		}
		if err := c.CompleteReview(ctx, claimed, nil); err != nil {
			return resolved, err
		}
		if claimed.ExternalJobID != "" {
			if err := c.client.CancelTask(ctx, claimed.ExternalJobID); err != nil {
				c.logger.Warn("cancel review task failed",
					logging.String(logging.FieldToken, claimed.Token),
					logging.Error(err))
			}
		}
		c.logger.Info("review auto-completed after timeout",
			logging.String(logging.FieldDocumentID, claimed.DocumentID),
			logging.String(logging.FieldSectionID, claimed.SectionID))
		resolved = append(resolved, claimed)
	}
	return resolved, nil
}

func mergeCorrections(section *docstore.Section, corrected map[string]string) {
	if section.Attributes == nil {
		section.Attributes = make(map[string]docstore.Attribute, len(corrected))
	}
	for name, value := range corrected {
		section.Attributes[name] = docstore.Attribute{Value: value, Confidence: 1}
	}
}

