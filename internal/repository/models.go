package repository

import (
	"encoding/json"
	"time"

	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
	"gorm.io/datatypes"
)

// NotificationModel is the persistence model for the notifications table.
type NotificationModel struct {
	ID                  string            `gorm:"type:uuid;primaryKey"`
	MerchantID          string            `gorm:"type:varchar(64);not null;index"`
	CorrelationID       string            `gorm:"type:varchar(64);not null"`
	IdempotencyKey      *string           `gorm:"type:varchar(255)"`
	CampaignID          *string           `gorm:"type:uuid"`
	CampaignRecipientID *string           `gorm:"type:uuid"`
	BulkID              *string           `gorm:"type:uuid"`
	Channel             domain.Channel    `gorm:"type:varchar(20);not null"`
	Priority            domain.Priority   `gorm:"type:varchar(10);not null"`
	Recipient           string            `gorm:"type:varchar(255);not null"`
	Subject             string            `gorm:"type:varchar(255);not null;default:''"`
	Body                string            `gorm:"type:text;not null"`
	Metadata            datatypes.JSONMap `gorm:"type:jsonb"`
	Status              domain.Status     `gorm:"type:varchar(20);not null"`
	ScheduledAt         *time.Time        `gorm:"type:timestamptz"`
	AvailableAt         *time.Time        `gorm:"type:timestamptz"`
	ProcessingStartedAt *time.Time        `gorm:"type:timestamptz"`
	SentAt              *time.Time        `gorm:"type:timestamptz"`
	DeliveredAt         *time.Time        `gorm:"type:timestamptz"`
	ProviderName        *string           `gorm:"type:varchar(50)"`
	ProviderMessageID   *string           `gorm:"type:varchar(255)"`
	ProviderResponse    datatypes.JSONMap `gorm:"type:jsonb"`
	RetryCount          int               `gorm:"not null;default:0"`
	MaxRetries          int               `gorm:"not null;default:3"`
	Retryable           bool              `gorm:"not null;default:false"`
	ErrorMessage        *string           `gorm:"type:text"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// NotificationEventModel is the persistence model for notification_events.
type NotificationEventModel struct {
	ID             string            `gorm:"type:uuid;primaryKey"`
	NotificationID string            `gorm:"type:uuid;not null;index"`
	EventType      domain.EventType  `gorm:"type:varchar(50);not null"`
	Data           datatypes.JSONMap `gorm:"type:jsonb"`
	ErrorMessage   *string           `gorm:"type:text"`
	CreatedAt      time.Time
}

func (NotificationEventModel) TableName() string {
	return "notification_events"
}

// CampaignModel is the persistence model for campaigns.
type CampaignModel struct {
	ID                  string                `gorm:"type:uuid;primaryKey"`
	MerchantID          string                `gorm:"type:varchar(64);not null;index"`
	Name                string                `gorm:"type:varchar(255);not null"`
	Description         string                `gorm:"type:text;not null;default:''"`
	Channel             domain.Channel        `gorm:"type:varchar(20);not null"`
	Status              domain.CampaignStatus `gorm:"type:varchar(20);not null"`
	TemplateSubject     string                `gorm:"type:varchar(255);not null;default:''"`
	TemplateBody        string                `gorm:"type:text;not null"`
	TargetAudience      datatypes.JSONMap     `gorm:"type:jsonb"`
	AudienceData        datatypes.JSON        `gorm:"type:jsonb"`
	ScheduledAt         *time.Time            `gorm:"type:timestamptz"`
	StartedAt           *time.Time            `gorm:"type:timestamptz"`
	CompletedAt         *time.Time            `gorm:"type:timestamptz"`
	EstimatedRecipients int                   `gorm:"not null;default:0"`
	ActualRecipients    int                   `gorm:"not null;default:0"`
	TotalSent           int                   `gorm:"not null;default:0"`
	TotalDelivered      int                   `gorm:"not null;default:0"`
	TotalFailed         int                   `gorm:"not null;default:0"`
	TotalOpened         int                   `gorm:"not null;default:0"`
	TotalClicked        int                   `gorm:"not null;default:0"`
	BudgetLimit         *float64              `gorm:"type:numeric(10,2)"`
	DailyLimit          *int
	Settings            datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (CampaignModel) TableName() string {
	return "campaigns"
}

// CampaignRecipientModel is the persistence model for campaign_recipients.
type CampaignRecipientModel struct {
	ID             string                 `gorm:"type:uuid;primaryKey"`
	CampaignID     string                 `gorm:"type:uuid;not null"`
	Address        string                 `gorm:"type:varchar(255);not null"`
	Data           datatypes.JSONMap      `gorm:"type:jsonb"`
	Status         domain.RecipientStatus `gorm:"type:varchar(20);not null"`
	NotificationID *string                `gorm:"type:uuid"`
	ErrorMessage   *string                `gorm:"type:text"`
	SentAt         *time.Time             `gorm:"type:timestamptz"`
	DeliveredAt    *time.Time             `gorm:"type:timestamptz"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (CampaignRecipientModel) TableName() string {
	return "campaign_recipients"
}

// CampaignEventModel is the persistence model for campaign_events.
type CampaignEventModel struct {
	ID         string                   `gorm:"type:uuid;primaryKey"`
	CampaignID string                   `gorm:"type:uuid;not null;index"`
	EventType  domain.CampaignEventType `gorm:"type:varchar(50);not null"`
	Data       datatypes.JSONMap        `gorm:"type:jsonb"`
	CreatedAt  time.Time
}

func (CampaignEventModel) TableName() string {
	return "campaign_events"
}

// ProviderModel is the persistence model for providers.
type ProviderModel struct {
	ID                 string            `gorm:"type:uuid;primaryKey"`
	Name               string            `gorm:"type:varchar(50);not null"`
	Channel            domain.Channel    `gorm:"type:varchar(20);not null"`
	Active             bool              `gorm:"not null;default:true"`
	RateLimitPerMinute int               `gorm:"not null;default:100"`
	RateLimitPerHour   int               `gorm:"not null;default:1000"`
	Priority           int               `gorm:"not null;default:0"`
	Config             datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (ProviderModel) TableName() string {
	return "providers"
}

// BulkNotificationModel is the persistence model for bulk_notifications.
type BulkNotificationModel struct {
	ID              string            `gorm:"type:uuid;primaryKey"`
	MerchantID      string            `gorm:"type:varchar(64);not null;index"`
	Name            string            `gorm:"type:varchar(255);not null;default:''"`
	Channel         domain.Channel    `gorm:"type:varchar(20);not null"`
	Subject         string            `gorm:"type:varchar(255);not null;default:''"`
	Body            string            `gorm:"type:text;not null"`
	Priority        domain.Priority   `gorm:"type:varchar(10);not null"`
	Status          domain.BulkStatus `gorm:"type:varchar(20);not null"`
	Recipients      datatypes.JSON    `gorm:"type:jsonb"`
	TotalRecipients int               `gorm:"not null;default:0"`
	ProcessedCount  int               `gorm:"not null;default:0"`
	SuccessCount    int               `gorm:"not null;default:0"`
	FailedCount     int               `gorm:"not null;default:0"`
	SkippedCount    int               `gorm:"not null;default:0"`
	Metadata        datatypes.JSONMap `gorm:"type:jsonb"`
	ScheduledAt     *time.Time        `gorm:"type:timestamptz"`
	StartedAt       *time.Time        `gorm:"type:timestamptz"`
	CompletedAt     *time.Time        `gorm:"type:timestamptz"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (BulkNotificationModel) TableName() string {
	return "bulk_notifications"
}

// MerchantSettingsModel is the persistence model for merchant_settings.
// Daily usage counters are rolled over lazily on the first send of a new day.
type MerchantSettingsModel struct {
	MerchantID         string            `gorm:"type:varchar(64);primaryKey"`
	PreferredProviders datatypes.JSONMap `gorm:"type:jsonb"`
	DailySMSLimit      int               `gorm:"column:daily_sms_limit;not null;default:1000"`
	DailyEmailLimit    int               `gorm:"column:daily_email_limit;not null;default:10000"`
	DailyPushLimit     int               `gorm:"column:daily_push_limit;not null;default:50000"`
	DailyWhatsAppLimit int               `gorm:"column:daily_whatsapp_limit;not null;default:1000"`
	SMSSentToday       int               `gorm:"column:sms_sent_today;not null;default:0"`
	EmailSentToday     int               `gorm:"column:email_sent_today;not null;default:0"`
	PushSentToday      int               `gorm:"column:push_sent_today;not null;default:0"`
	WhatsAppSentToday  int               `gorm:"column:whatsapp_sent_today;not null;default:0"`
	UsageResetDate     time.Time         `gorm:"type:date;not null"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (MerchantSettingsModel) TableName() string {
	return "merchant_settings"
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}

	return &NotificationModel{
		ID:                  n.ID,
		MerchantID:          n.MerchantID,
		CorrelationID:       n.CorrelationID,
		IdempotencyKey:      n.IdempotencyKey,
		CampaignID:          n.CampaignID,
		CampaignRecipientID: n.CampaignRecipientID,
		BulkID:              n.BulkID,
		Channel:             n.Channel,
		Priority:            n.Priority,
		Recipient:           n.Recipient,
		Subject:             n.Subject,
		Body:                n.Body,
		Metadata:            datatypes.JSONMap(n.Metadata),
		Status:              n.Status,
		ScheduledAt:         n.ScheduledAt,
		AvailableAt:         n.AvailableAt,
		ProcessingStartedAt: n.ProcessingStartedAt,
		SentAt:              n.SentAt,
		DeliveredAt:         n.DeliveredAt,
		ProviderName:        n.ProviderName,
		ProviderMessageID:   n.ProviderMessageID,
		ProviderResponse:    datatypes.JSONMap(n.ProviderResponse),
		RetryCount:          n.RetryCount,
		MaxRetries:          n.MaxRetries,
		Retryable:           n.Retryable,
		ErrorMessage:        n.ErrorMessage,
		CreatedAt:           n.CreatedAt,
		UpdatedAt:           n.UpdatedAt,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	return &domain.Notification{
		ID:                  m.ID,
		MerchantID:          m.MerchantID,
		CorrelationID:       m.CorrelationID,
		IdempotencyKey:      m.IdempotencyKey,
		CampaignID:          m.CampaignID,
		CampaignRecipientID: m.CampaignRecipientID,
		BulkID:              m.BulkID,
		Channel:             m.Channel,
		Priority:            m.Priority,
		Recipient:           m.Recipient,
		Subject:             m.Subject,
		Body:                m.Body,
		Metadata:            map[string]any(m.Metadata),
		Status:              m.Status,
		ScheduledAt:         m.ScheduledAt,
		AvailableAt:         m.AvailableAt,
		ProcessingStartedAt: m.ProcessingStartedAt,
		SentAt:              m.SentAt,
		DeliveredAt:         m.DeliveredAt,
		ProviderName:        m.ProviderName,
		ProviderMessageID:   m.ProviderMessageID,
		ProviderResponse:    map[string]any(m.ProviderResponse),
		RetryCount:          m.RetryCount,
		MaxRetries:          m.MaxRetries,
		Retryable:           m.Retryable,
		ErrorMessage:        m.ErrorMessage,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

func notificationModelsToDomain(models []NotificationModel) []domain.Notification {
	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}
	return notifications
}

func eventModelFromDomain(e *domain.NotificationEvent) *NotificationEventModel {
	if e == nil {
		return nil
	}

	return &NotificationEventModel{
		ID:             e.ID,
		NotificationID: e.NotificationID,
		EventType:      e.EventType,
		Data:           datatypes.JSONMap(e.Data),
		ErrorMessage:   e.ErrorMessage,
		CreatedAt:      e.CreatedAt,
	}
}

func eventModelToDomain(m *NotificationEventModel) *domain.NotificationEvent {
	if m == nil {
		return nil
	}

	return &domain.NotificationEvent{
		ID:             m.ID,
		NotificationID: m.NotificationID,
		EventType:      m.EventType,
		Data:           map[string]any(m.Data),
		ErrorMessage:   m.ErrorMessage,
		CreatedAt:      m.CreatedAt,
	}
}

func campaignModelFromDomain(c *domain.Campaign) (*CampaignModel, error) {
	if c == nil {
		return nil, nil
	}

	audience, err := marshalRecords(c.AudienceData)
	if err != nil {
		return nil, err
	}

	return &CampaignModel{
		ID:                  c.ID,
		MerchantID:          c.MerchantID,
		Name:                c.Name,
		Description:         c.Description,
		Channel:             c.Channel,
		Status:              c.Status,
		TemplateSubject:     c.TemplateSubject,
		TemplateBody:        c.TemplateBody,
		TargetAudience:      datatypes.JSONMap(c.TargetAudience),
		AudienceData:        audience,
		ScheduledAt:         c.ScheduledAt,
		StartedAt:           c.StartedAt,
		CompletedAt:         c.CompletedAt,
		EstimatedRecipients: c.EstimatedRecipients,
		ActualRecipients:    c.ActualRecipients,
		TotalSent:           c.TotalSent,
		TotalDelivered:      c.TotalDelivered,
		TotalFailed:         c.TotalFailed,
		TotalOpened:         c.TotalOpened,
		TotalClicked:        c.TotalClicked,
		BudgetLimit:         c.BudgetLimit,
		DailyLimit:          c.DailyLimit,
		Settings:            datatypes.JSONMap(c.Settings),
		CreatedAt:           c.CreatedAt,
		UpdatedAt:           c.UpdatedAt,
	}, nil
}

func campaignModelToDomain(m *CampaignModel) (*domain.Campaign, error) {
	if m == nil {
		return nil, nil
	}

	audience, err := unmarshalRecords(m.AudienceData)
	if err != nil {
		return nil, err
	}

	return &domain.Campaign{
		ID:                  m.ID,
		MerchantID:          m.MerchantID,
		Name:                m.Name,
		Description:         m.Description,
		Channel:             m.Channel,
		Status:              m.Status,
		TemplateSubject:     m.TemplateSubject,
		TemplateBody:        m.TemplateBody,
		TargetAudience:      map[string]any(m.TargetAudience),
		AudienceData:        audience,
		ScheduledAt:         m.ScheduledAt,
		StartedAt:           m.StartedAt,
		CompletedAt:         m.CompletedAt,
		EstimatedRecipients: m.EstimatedRecipients,
		ActualRecipients:    m.ActualRecipients,
		TotalSent:           m.TotalSent,
		TotalDelivered:      m.TotalDelivered,
		TotalFailed:         m.TotalFailed,
		TotalOpened:         m.TotalOpened,
		TotalClicked:        m.TotalClicked,
		BudgetLimit:         m.BudgetLimit,
		DailyLimit:          m.DailyLimit,
		Settings:            map[string]any(m.Settings),
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}, nil
}

func recipientModelFromDomain(r *domain.CampaignRecipient) *CampaignRecipientModel {
	if r == nil {
		return nil
	}

	return &CampaignRecipientModel{
		ID:             r.ID,
		CampaignID:     r.CampaignID,
		Address:        r.Address,
		Data:           datatypes.JSONMap(r.Data),
		Status:         r.Status,
		NotificationID: r.NotificationID,
		ErrorMessage:   r.ErrorMessage,
		SentAt:         r.SentAt,
		DeliveredAt:    r.DeliveredAt,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func recipientModelToDomain(m *CampaignRecipientModel) *domain.CampaignRecipient {
	if m == nil {
		return nil
	}

	return &domain.CampaignRecipient{
		ID:             m.ID,
		CampaignID:     m.CampaignID,
		Address:        m.Address,
		Data:           map[string]any(m.Data),
		Status:         m.Status,
		NotificationID: m.NotificationID,
		ErrorMessage:   m.ErrorMessage,
		SentAt:         m.SentAt,
		DeliveredAt:    m.DeliveredAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func campaignEventModelFromDomain(e *domain.CampaignEvent) *CampaignEventModel {
	if e == nil {
		return nil
	}

	return &CampaignEventModel{
		ID:         e.ID,
		CampaignID: e.CampaignID,
		EventType:  e.EventType,
		Data:       datatypes.JSONMap(e.Data),
		CreatedAt:  e.CreatedAt,
	}
}

func campaignEventModelToDomain(m *CampaignEventModel) *domain.CampaignEvent {
	if m == nil {
		return nil
	}

	return &domain.CampaignEvent{
		ID:         m.ID,
		CampaignID: m.CampaignID,
		EventType:  m.EventType,
		Data:       map[string]any(m.Data),
		CreatedAt:  m.CreatedAt,
	}
}

func providerModelFromDomain(p *domain.ProviderConfig) *ProviderModel {
	if p == nil {
		return nil
	}

	return &ProviderModel{
		ID:                 p.ID,
		Name:               p.Name,
		Channel:            p.Channel,
		Active:             p.Active,
		RateLimitPerMinute: p.RateLimitPerMinute,
		RateLimitPerHour:   p.RateLimitPerHour,
		Priority:           p.Priority,
		Config:             datatypes.JSONMap(p.Config),
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
}

func providerModelToDomain(m *ProviderModel) *domain.ProviderConfig {
	if m == nil {
		return nil
	}

	return &domain.ProviderConfig{
		ID:                 m.ID,
		Name:               m.Name,
		Channel:            m.Channel,
		Active:             m.Active,
		RateLimitPerMinute: m.RateLimitPerMinute,
		RateLimitPerHour:   m.RateLimitPerHour,
		Priority:           m.Priority,
		Config:             map[string]any(m.Config),
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func bulkModelFromDomain(b *domain.BulkNotification) (*BulkNotificationModel, error) {
	if b == nil {
		return nil, nil
	}

	recipients, err := marshalRecords(b.Recipients)
	if err != nil {
		return nil, err
	}

	return &BulkNotificationModel{
		ID:              b.ID,
		MerchantID:      b.MerchantID,
		Name:            b.Name,
		Channel:         b.Channel,
		Subject:         b.Subject,
		Body:            b.Body,
		Priority:        b.Priority,
		Status:          b.Status,
		Recipients:      recipients,
		TotalRecipients: b.TotalRecipients,
		ProcessedCount:  b.ProcessedCount,
		SuccessCount:    b.SuccessCount,
		FailedCount:     b.FailedCount,
		SkippedCount:    b.SkippedCount,
		Metadata:        datatypes.JSONMap(b.Metadata),
		ScheduledAt:     b.ScheduledAt,
		StartedAt:       b.StartedAt,
		CompletedAt:     b.CompletedAt,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}, nil
}

func bulkModelToDomain(m *BulkNotificationModel) (*domain.BulkNotification, error) {
	if m == nil {
		return nil, nil
	}

	recipients, err := unmarshalRecords(m.Recipients)
	if err != nil {
		return nil, err
	}

	return &domain.BulkNotification{
		ID:              m.ID,
		MerchantID:      m.MerchantID,
		Name:            m.Name,
		Channel:         m.Channel,
		Subject:         m.Subject,
		Body:            m.Body,
		Priority:        m.Priority,
		Status:          m.Status,
		Recipients:      recipients,
		TotalRecipients: m.TotalRecipients,
		ProcessedCount:  m.ProcessedCount,
		SuccessCount:    m.SuccessCount,
		FailedCount:     m.FailedCount,
		SkippedCount:    m.SkippedCount,
		Metadata:        map[string]any(m.Metadata),
		ScheduledAt:     m.ScheduledAt,
		StartedAt:       m.StartedAt,
		CompletedAt:     m.CompletedAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}, nil
}

func merchantSettingsModelFromDomain(s *domain.MerchantSettings) *MerchantSettingsModel {
	if s == nil {
		return nil
	}

	preferred := make(datatypes.JSONMap, len(s.PreferredProviders))
	for ch, name := range s.PreferredProviders {
		preferred[ch.String()] = name
	}

	return &MerchantSettingsModel{
		MerchantID:         s.MerchantID,
		PreferredProviders: preferred,
		DailySMSLimit:      s.DailyLimit(domain.ChannelSMS),
		DailyEmailLimit:    s.DailyLimit(domain.ChannelEmail),
		DailyPushLimit:     s.DailyLimit(domain.ChannelPush),
		DailyWhatsAppLimit: s.DailyLimit(domain.ChannelWhatsApp),
		SMSSentToday:       s.SentToday[domain.ChannelSMS],
		EmailSentToday:     s.SentToday[domain.ChannelEmail],
		PushSentToday:      s.SentToday[domain.ChannelPush],
		WhatsAppSentToday:  s.SentToday[domain.ChannelWhatsApp],
		UsageResetDate:     domain.TruncateDay(s.UsageResetDate),
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}
}

func merchantSettingsModelToDomain(m *MerchantSettingsModel) *domain.MerchantSettings {
	if m == nil {
		return nil
	}

	preferred := make(map[domain.Channel]string, len(m.PreferredProviders))
	for key, value := range m.PreferredProviders {
		if name, ok := value.(string); ok {
			preferred[domain.Channel(key)] = name
		}
	}

	return &domain.MerchantSettings{
		MerchantID:         m.MerchantID,
		PreferredProviders: preferred,
		DailyLimits: map[domain.Channel]int{
			domain.ChannelSMS:      m.DailySMSLimit,
			domain.ChannelEmail:    m.DailyEmailLimit,
			domain.ChannelPush:     m.DailyPushLimit,
			domain.ChannelWhatsApp: m.DailyWhatsAppLimit,
		},
		SentToday: map[domain.Channel]int{
			domain.ChannelSMS:      m.SMSSentToday,
			domain.ChannelEmail:    m.EmailSentToday,
			domain.ChannelPush:     m.PushSentToday,
			domain.ChannelWhatsApp: m.WhatsAppSentToday,
		},
		UsageResetDate: m.UsageResetDate,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func marshalRecords(records []map[string]any) (datatypes.JSON, error) {
	if records == nil {
		return nil, nil
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func unmarshalRecords(raw datatypes.JSON) ([]map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var records []map[string]any
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, err
	}
	return records, nil
}
