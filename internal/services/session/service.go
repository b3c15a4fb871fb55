package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noctua/internal/browser"
	"github.com/ternarybob/noctua/internal/common"
	"github.com/ternarybob/noctua/internal/interfaces"
	"github.com/ternarybob/noctua/internal/models"
)

// Service establishes authenticated browser sessions for accounts. It
// owns the session-source fallback chain, the interactive login flow,
// and the write-through persistence of successful sessions.
type Service struct {
	driver   interfaces.BrowserDriver
	accounts interfaces.AccountStorage
	config   *common.Config
	logger   arbor.ILogger
}

// NewService creates a session service
func NewService(driver interfaces.BrowserDriver, accounts interfaces.AccountStorage, config *common.Config, logger arbor.ILogger) *Service {
	return &Service{
		driver:   driver,
		accounts: accounts,
		config:   config,
		logger:   logger,
	}
}

// Establish returns a browser session authenticated for the account and
// parked on the chat surface. The caller owns the session and must close
// it. On any error the session is already torn down.
func (s *Service) Establish(ctx context.Context, account *models.Account) (interfaces.BrowserSession, error) {
	sess, err := s.driver.NewSession(ctx, interfaces.SessionOptions{
		Headless:  s.config.Browser.Headless,
		UserAgent: s.config.Browser.UserAgent,
		Stealth:   s.config.Browser.Stealth,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser session: %w", err)
	}

	authenticated, err := s.establishOn(ctx, sess, account)
	if err != nil {
		sess.Close()
		return nil, err
	}
	if !authenticated {
		sess.Close()
		return nil, fmt.Errorf("could not reach authenticated chat surface for %s", account.Email)
	}
	return sess, nil
}

// establishOn runs the source-priority chain on an already-launched
// session: persisted account state, then the shared environment blob,
// then the shared file, then interactive login. Parse failures fall
// through to the next source rather than aborting.
func (s *Service) establishOn(ctx context.Context, sess interfaces.BrowserSession, account *models.Account) (bool, error) {
	for _, source := range s.stateSources(account) {
		if len(source.blob) == 0 {
			continue
		}
		if err := sess.ImportState(ctx, source.blob); err != nil {
			s.logger.Warn().
				Err(err).
				Str("source", source.name).
				Str("account_id", account.ID).
				Msg("Session state unusable, falling through to next source")
			continue
		}
		ok, err := s.probeAuthenticated(ctx, sess)
		if err != nil {
			return false, err
		}
		if ok {
			s.logger.Info().
				Str("source", source.name).
				Str("account_id", account.ID).
				Msg("Session restored without login")
			s.persistState(ctx, sess, account)
			return true, nil
		}
		s.logger.Debug().
			Str("source", source.name).
			Str("account_id", account.ID).
			Msg("Restored state no longer authenticated")
	}

	// All sources exhausted: interactive login
	if err := s.login(ctx, sess, account); err != nil {
		return false, err
	}
	ok, err := s.probeAuthenticated(ctx, sess)
	if err != nil {
		return false, err
	}
	if ok {
		s.persistState(ctx, sess, account)
	}
	return ok, nil
}

type stateSource struct {
	name string
	blob []byte
}

// stateSources returns the candidate session blobs in priority order:
// per-account persisted state wins over the shared environment blob,
// which wins over the shared file.
func (s *Service) stateSources(account *models.Account) []stateSource {
	sources := []stateSource{
		{name: "account", blob: account.SessionState},
	}

	if envVar := s.config.Accounts.SessionEnvVar; envVar != "" {
		if encoded := os.Getenv(envVar); encoded != "" {
			decoded, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				s.logger.Warn().Err(err).Str("env_var", envVar).Msg("Shared session env var is not valid base64")
			} else {
				sources = append(sources, stateSource{name: "environment", blob: decoded})
			}
		}
	}

	if file := s.config.Accounts.SessionFile; file != "" {
		data, err := os.ReadFile(file)
		if err == nil && len(data) > 0 {
			sources = append(sources, stateSource{name: "file", blob: data})
		}
	}

	return sources
}

// probeAuthenticated navigates to the chat surface and checks for the
// prompt-input element. Its presence is the authenticated-state signal;
// probing avoids a needless re-login when restored state still works.
func (s *Service) probeAuthenticated(ctx context.Context, sess interfaces.BrowserSession) (bool, error) {
	navCtx, cancel := context.WithTimeout(ctx, s.config.Browser.NavTimeoutDuration())
	defer cancel()
	if err := sess.Navigate(navCtx, s.config.Chat.BaseURL); err != nil {
		return false, fmt.Errorf("failed to reach chat surface: %w", err)
	}

	_, err := browser.WaitForRole(ctx, sess, browser.RolePromptInput, 10*time.Second)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	return true, nil
}

// persistState exports the session and writes it through to the account
// record so the next task skips authentication. Persistence failures are
// logged, never fatal: the live session is still good.
func (s *Service) persistState(ctx context.Context, sess interfaces.BrowserSession, account *models.Account) {
	blob, err := sess.ExportState(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Str("account_id", account.ID).Msg("Failed to export session state")
		return
	}

	account.SessionState = blob
	if err := s.accounts.SaveAccount(ctx, account); err != nil {
		s.logger.Warn().Err(err).Str("account_id", account.ID).Msg("Failed to persist session state")
		return
	}
	s.logger.Debug().
		Str("account_id", account.ID).
		Int("blob_bytes", len(blob)).
		Msg("Session state persisted for reuse")
}
