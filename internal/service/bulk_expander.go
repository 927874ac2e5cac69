package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
	"github.com/kursadbilgin/multichannel-notifier/internal/repository"
	"go.uber.org/zap"
)

const expandBatchSize = 100

// ExpandResult summarises one expansion pass. Existing counts bulk rows a
// previous pass over the same job already stored; they are neither created
// nor skipped by this pass.
type ExpandResult struct {
	Total      int
	Created    int
	Skipped    int
	Duplicates int
	Existing   int
}

// BulkExpander turns raw audience records into campaign recipients or bulk
// notifications, one batch at a time.
type BulkExpander struct {
	notifications repository.NotificationRepository
	recipients    repository.CampaignRecipientRepository
	logger        *zap.Logger
	batchSize     int
	now           func() time.Time
}

func NewBulkExpander(
	notifications repository.NotificationRepository,
	recipients repository.CampaignRecipientRepository,
	logger *zap.Logger,
) (*BulkExpander, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if recipients == nil {
		return nil, fmt.Errorf("campaign recipient repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BulkExpander{
		notifications: notifications,
		recipients:    recipients,
		logger:        logger,
		batchSize:     expandBatchSize,
		now:           time.Now,
	}, nil
}

// ExpandCampaign stores one pending recipient per unique address. Records
// without a usable address are skipped; addresses repeated in the input or
// already stored for the campaign count as duplicates.
func (e *BulkExpander) ExpandCampaign(ctx context.Context, campaign *domain.Campaign, records []map[string]any) (ExpandResult, error) {
	result := ExpandResult{Total: len(records)}
	seen := make(map[string]struct{}, len(records))
	batch := make([]*domain.CampaignRecipient, 0, e.batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		inserted, err := e.recipients.CreateBatch(ctx, batch)
		if err != nil {
			return fmt.Errorf("failed to store campaign recipients: %w", err)
		}
		result.Created += int(inserted)
		result.Duplicates += len(batch) - int(inserted)
		batch = make([]*domain.CampaignRecipient, 0, e.batchSize)
		return nil
	}

	for i, record := range records {
		address, ok := domain.ExtractAddress(campaign.Channel, record)
		if !ok {
			result.Skipped++
			e.logger.Debug("skipping campaign record without usable address",
				zap.String("campaignId", campaign.ID),
				zap.Int("index", i),
			)
			continue
		}
		if _, dup := seen[address]; dup {
			result.Duplicates++
			continue
		}
		seen[address] = struct{}{}

		batch = append(batch, &domain.CampaignRecipient{
			ID:         uuid.NewString(),
			CampaignID: campaign.ID,
			Address:    address,
			Data:       record,
			Status:     domain.RecipientStatusPending,
		})
		if len(batch) == e.batchSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}

	if err := flush(); err != nil {
		return result, err
	}
	return result, nil
}

// ExpandBulk creates one pending notification per unique address with the
// bulk subject and body rendered against the record. The notifications are
// due immediately; onBatch sees only the rows each batch actually stored, so
// re-expanding a job after a partial failure adds just the missing rows.
func (e *BulkExpander) ExpandBulk(
	ctx context.Context,
	bulk *domain.BulkNotification,
	records []map[string]any,
	onBatch func(ctx context.Context, created []*domain.Notification) error,
) (ExpandResult, error) {
	result := ExpandResult{Total: len(records)}
	seen := make(map[string]struct{}, len(records))
	batch := make([]*domain.Notification, 0, e.batchSize)
	bulkID := bulk.ID

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		storedIDs, err := e.notifications.CreateBatch(ctx, batch)
		if err != nil {
			return fmt.Errorf("failed to store bulk notifications: %w", err)
		}
		created := storedOnly(batch, storedIDs)
		result.Created += len(created)
		result.Existing += len(batch) - len(created)
		if onBatch != nil && len(created) > 0 {
			if err := onBatch(ctx, created); err != nil {
				return err
			}
		}
		batch = make([]*domain.Notification, 0, e.batchSize)
		return nil
	}

	priority := bulk.Priority
	if !priority.IsValid() {
		priority = domain.PriorityNormal
	}

	for i, record := range records {
		address, ok := domain.ExtractAddress(bulk.Channel, record)
		if !ok {
			result.Skipped++
			e.logger.Debug("skipping bulk record without usable address",
				zap.String("bulkId", bulk.ID),
				zap.Int("index", i),
			)
			continue
		}
		if _, dup := seen[address]; dup {
			result.Duplicates++
			continue
		}
		seen[address] = struct{}{}

		now := e.now().UTC()
		n := &domain.Notification{
			ID:            uuid.NewString(),
			MerchantID:    bulk.MerchantID,
			CorrelationID: uuid.NewString(),
			Channel:       bulk.Channel,
			Priority:      priority,
			Recipient:     address,
			Subject:       domain.RenderTemplate(bulk.Subject, record),
			Body:          domain.RenderTemplate(bulk.Body, record),
			Metadata:      copyMap(bulk.Metadata),
			Status:        domain.StatusPending,
			BulkID:        &bulkID,
			AvailableAt:   &now,
			MaxRetries:    domain.DefaultMaxRetries,
		}
		if err := n.Validate(); err != nil {
			result.Skipped++
			e.logger.Debug("skipping bulk record that renders an invalid notification",
				zap.String("bulkId", bulk.ID),
				zap.Int("index", i),
				zap.Error(err),
			)
			continue
		}

		batch = append(batch, n)
		if len(batch) == e.batchSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}

	if err := flush(); err != nil {
		return result, err
	}
	return result, nil
}

func storedOnly(batch []*domain.Notification, storedIDs []string) []*domain.Notification {
	if len(storedIDs) == len(batch) {
		return batch
	}
	stored := make(map[string]struct{}, len(storedIDs))
	for _, id := range storedIDs {
		stored[id] = struct{}{}
	}
	out := make([]*domain.Notification, 0, len(storedIDs))
	for _, n := range batch {
		if _, ok := stored[n.ID]; ok {
			out = append(out, n)
		}
	}
	return out
}

func copyMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
