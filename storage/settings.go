package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"newsradar/pkg/radar"
)

// DefaultSearchSettings apply to users who never saved their own.
var DefaultSearchSettings = radar.SearchSettings{
	MaxResults:     50,
	IncludeTwitter: true,
	ValidateLinks:  true,
	TodayOnly:      true,
	DeepScrape:     true,
}

const maxResultsLimit = 500

// EmailConfig returns the user's SMTP settings with the password decrypted.
func (s *Store) EmailConfig(ctx context.Context, userID string) (*radar.EmailConfig, error) {
	var row emailConfigRow
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error; err != nil {
		return nil, notFound(err)
	}
	password, err := s.sealer.Open(row.PasswordSealed)
	if err != nil {
		s.logger.Error("Failed to decrypt SMTP password", "user_id", userID, "error", err)
		return nil, fmt.Errorf("smtp password: %w", err)
	}
	return &radar.EmailConfig{
		Host:     row.Host,
		Port:     row.Port,
		Username: row.Username,
		Password: password,
		FromName: row.FromName,
		UseTLS:   row.UseTLS,
	}, nil
}

// SaveEmailConfig stores the user's SMTP settings. An empty password keeps the stored one.
func (s *Store) SaveEmailConfig(ctx context.Context, userID string, cfg *radar.EmailConfig) error {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return &ValidationError{Field: "smtp_port", Reason: "out of range"}
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing emailConfigRow
		if err := tx.Where("user_id = ?", userID).First(&existing).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("load email config: %w", err)
		}

		sealed := existing.PasswordSealed
		if cfg.Password != "" {
			var err error
			if sealed, err = s.sealer.Seal(cfg.Password); err != nil {
				return err
			}
		}

		row := &emailConfigRow{
			UserID:         userID,
			Host:           strings.TrimSpace(cfg.Host),
			Port:           cfg.Port,
			Username:       strings.TrimSpace(cfg.Username),
			PasswordSealed: sealed,
			FromName:       strings.TrimSpace(cfg.FromName),
			UseTLS:         cfg.UseTLS,
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error; err != nil {
			return fmt.Errorf("save email config: %w", err)
		}
		return nil
	})
}

// WhatsAppConfig returns the user's gateway settings with the API key decrypted.
func (s *Store) WhatsAppConfig(ctx context.Context, userID string) (*radar.WhatsAppConfig, error) {
	var row whatsAppConfigRow
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error; err != nil {
		return nil, notFound(err)
	}
	key, err := s.sealer.Open(row.APIKeySealed)
	if err != nil {
		s.logger.Error("Failed to decrypt gateway API key", "user_id", userID, "error", err)
		return nil, fmt.Errorf("gateway api key: %w", err)
	}
	return &radar.WhatsAppConfig{BaseURL: row.BaseURL, APIKey: key}, nil
}

// SaveWhatsAppConfig stores the user's gateway settings. An empty API key keeps the stored one.
func (s *Store) SaveWhatsAppConfig(ctx context.Context, userID string, cfg *radar.WhatsAppConfig) error {
	base := strings.TrimSpace(cfg.BaseURL)
	if base != "" && !isHTTPURL(base) {
		return &ValidationError{Field: "evolution_api_url", Reason: "must be an http or https URL"}
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing whatsAppConfigRow
		if err := tx.Where("user_id = ?", userID).First(&existing).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("load whatsapp config: %w", err)
		}

		sealed := existing.APIKeySealed
		if cfg.APIKey != "" {
			var err error
			if sealed, err = s.sealer.Seal(cfg.APIKey); err != nil {
				return err
			}
		}

		row := &whatsAppConfigRow{UserID: userID, BaseURL: base, APIKeySealed: sealed}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error; err != nil {
			return fmt.Errorf("save whatsapp config: %w", err)
		}
		return nil
	})
}

// Keywords returns the user's search keywords in the order they were saved.
func (s *Store) Keywords(ctx context.Context, userID string) ([]string, error) {
	var rows []keywordRow
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("position").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list keywords: %w", err)
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Keyword)
	}
	return out, nil
}

// ReplaceKeywords swaps the user's keyword list for keywords. Blanks and case-insensitive duplicates are dropped.
func (s *Store) ReplaceKeywords(ctx context.Context, userID string, keywords []string) ([]string, error) {
	seen := make(map[string]bool, len(keywords))
	var rows []keywordRow
	var kept []string
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k == "" || seen[strings.ToLower(k)] {
			continue
		}
		seen[strings.ToLower(k)] = true
		rows = append(rows, keywordRow{ID: uuid.NewString(), UserID: userID, Keyword: k, Position: len(rows)})
		kept = append(kept, k)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&keywordRow{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("replace keywords: %w", err)
	}
	if kept == nil {
		kept = []string{}
	}
	return kept, nil
}

var twitterHandle = regexp.MustCompile(`^[A-Za-z0-9_]{1,15}$`)

// TwitterUsers returns the Twitter accounts the scraper follows for the user.
func (s *Store) TwitterUsers(ctx context.Context, userID string) ([]string, error) {
	var rows []twitterUserRow
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("position").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list twitter users: %w", err)
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Username)
	}
	return out, nil
}

// ReplaceTwitterUsers swaps the user's account list. A leading "@" is dropped and handles are
// deduplicated case-insensitively.
func (s *Store) ReplaceTwitterUsers(ctx context.Context, userID string, usernames []string) ([]string, error) {
	seen := make(map[string]bool, len(usernames))
	var rows []twitterUserRow
	kept := []string{}
	for _, u := range usernames {
		u = strings.TrimPrefix(strings.TrimSpace(u), "@")
		if u == "" || seen[strings.ToLower(u)] {
			continue
		}
		if !twitterHandle.MatchString(u) {
			return nil, &ValidationError{Field: "twitter_users", Reason: fmt.Sprintf("invalid handle %q", u)}
		}
		seen[strings.ToLower(u)] = true
		rows = append(rows, twitterUserRow{ID: uuid.NewString(), UserID: userID, Username: u, Position: len(rows)})
		kept = append(kept, u)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&twitterUserRow{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("replace twitter users: %w", err)
	}
	return kept, nil
}

// Sources returns the user's news sites in the order they were saved.
func (s *Store) Sources(ctx context.Context, userID string) ([]radar.Source, error) {
	var rows []sourceRow
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("position").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	out := make([]radar.Source, 0, len(rows))
	for _, r := range rows {
		out = append(out, radar.Source{ID: r.ID, Name: r.Name, URL: r.URL, Enabled: r.Enabled})
	}
	return out, nil
}

// ReplaceSources swaps the user's source list. Each URL must be http or https; a blank name defaults to the host.
func (s *Store) ReplaceSources(ctx context.Context, userID string, sources []radar.Source) ([]radar.Source, error) {
	rows := make([]sourceRow, 0, len(sources))
	for _, src := range sources {
		raw := strings.TrimSpace(src.URL)
		if !isHTTPURL(raw) {
			return nil, &ValidationError{Field: "url", Reason: fmt.Sprintf("%q is not an http or https URL", src.URL)}
		}
		name := strings.TrimSpace(src.Name)
		if name == "" {
			u, _ := url.Parse(raw)
			name = strings.TrimPrefix(u.Hostname(), "www.")
		}
		rows = append(rows, sourceRow{
			ID:       uuid.NewString(),
			UserID:   userID,
			Name:     name,
			URL:      raw,
			Enabled:  src.Enabled,
			Position: len(rows),
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&sourceRow{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("replace sources: %w", err)
	}

	out := make([]radar.Source, 0, len(rows))
	for _, r := range rows {
		out = append(out, radar.Source{ID: r.ID, Name: r.Name, URL: r.URL, Enabled: r.Enabled})
	}
	return out, nil
}

// SearchSettings returns the user's scraper flags, or DefaultSearchSettings if none were saved.
func (s *Store) SearchSettings(ctx context.Context, userID string) (*radar.SearchSettings, error) {
	var row searchSettingsRow
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			def := DefaultSearchSettings
			return &def, nil
		}
		return nil, fmt.Errorf("load search settings: %w", err)
	}
	return &radar.SearchSettings{
		MaxResults:     row.MaxResults,
		IncludeTwitter: row.IncludeTwitter,
		ValidateLinks:  row.ValidateLinks,
		TodayOnly:      row.TodayOnly,
		DeepScrape:     row.DeepScrape,
	}, nil
}

// SaveSearchSettings stores the user's scraper flags.
func (s *Store) SaveSearchSettings(ctx context.Context, userID string, set *radar.SearchSettings) error {
	if set.MaxResults < 1 || set.MaxResults > maxResultsLimit {
		return &ValidationError{Field: "max_results", Reason: fmt.Sprintf("must be between 1 and %d", maxResultsLimit)}
	}
	row := &searchSettingsRow{
		UserID:         userID,
		MaxResults:     set.MaxResults,
		IncludeTwitter: set.IncludeTwitter,
		ValidateLinks:  set.ValidateLinks,
		TodayOnly:      set.TodayOnly,
		DeepScrape:     set.DeepScrape,
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error; err != nil {
		return fmt.Errorf("save search settings: %w", err)
	}
	return nil
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
