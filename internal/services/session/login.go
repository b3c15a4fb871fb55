package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/ternarybob/noctua/internal/common"
	"github.com/ternarybob/noctua/internal/interfaces"
	"github.com/ternarybob/noctua/internal/models"
)

// ErrSecondFactor marks a login that hit a second-factor challenge. That
// path is unsupported and must fail loudly instead of hanging on a
// screen no automation can pass.
var ErrSecondFactor = errors.New("second-factor verification required")

const (
	// perKeyDelay paces credential entry like a human typist
	perKeyDelay = 90 * time.Millisecond
	// thinkingPause runs before each credential field, mimicking the gap
	// between seeing a field and starting to type
	thinkingPauseMin = 800 * time.Millisecond
	thinkingPauseMax = 2 * time.Second

	// interstitialRounds bounds the dismissal loop
	interstitialRounds   = 6
	interstitialInterval = 2 * time.Second
)

var emailSelectors = []string{
	`input[type="email"]`,
	`input#identifierId`,
	`input[name="identifier"]`,
}

var passwordSelectors = []string{
	`input[type="password"]`,
	`input[name="Passwd"]`,
}

// secondFactorMarkers identify verification challenges. Any hit is a
// terminal failure for this login.
var secondFactorMarkers = []string{
	`input[name="totpPin"]`,
	`input[type="tel"][id="idvPin"]`,
	`div[data-challengetype]`,
	`samp`,
}

// dismissPhrases are the known labels on interstitial nudge screens
// (recovery email prompts, passkey offers, trial pitches). Scanned
// repeatedly because the screens come in unpredictable sequences.
var dismissPhrases = []string{
	"Not now",
	"Skip",
	"No thanks",
	"Remind me later",
	"Maybe later",
	"Cancel",
	"Dismiss",
	"Got it",
}

// login performs the full interactive credential flow: account chooser,
// paced email and password entry, and interstitial dismissal.
func (s *Service) login(ctx context.Context, sess interfaces.BrowserSession, account *models.Account) error {
	s.logger.Info().
		Str("account_id", account.ID).
		Str("email", account.Email).
		Msg("Starting interactive login")

	loginURL := s.config.Chat.LoginURL
	if loginURL == "" {
		loginURL = s.config.Chat.BaseURL
	}
	navCtx, cancel := context.WithTimeout(ctx, s.config.Browser.NavTimeoutDuration())
	err := sess.Navigate(navCtx, loginURL)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to open login page: %w", err)
	}

	if err := s.handleAccountChooser(ctx, sess, account); err != nil {
		return err
	}

	if err := s.enterEmail(ctx, sess, account.Email); err != nil {
		return err
	}

	if err := s.enterPassword(ctx, sess, account); err != nil {
		return err
	}

	if err := s.checkSecondFactor(ctx, sess); err != nil {
		return err
	}

	s.dismissInterstitials(ctx, sess)
	return nil
}

// handleAccountChooser deals with the "choose an account" screen when it
// appears: click the matching account, else the use-another-account
// affordance. Absence of the chooser is normal.
func (s *Service) handleAccountChooser(ctx context.Context, sess interfaces.BrowserSession, account *models.Account) error {
	exists, err := sess.Exists(ctx, `div[data-authuser], ul[aria-label]`)
	if err != nil || !exists {
		return nil
	}

	clicked, err := sess.ClickByText(ctx, account.Email)
	if err != nil {
		return fmt.Errorf("account chooser interaction failed: %w", err)
	}
	if clicked {
		s.logger.Debug().Str("email", account.Email).Msg("Picked account from chooser")
		return nil
	}

	clicked, err = sess.ClickByText(ctx, "Use another account")
	if err != nil {
		return fmt.Errorf("account chooser fallback failed: %w", err)
	}
	if clicked {
		s.logger.Debug().Msg("Account not listed, using fresh entry")
	}
	return nil
}

func (s *Service) enterEmail(ctx context.Context, sess interfaces.BrowserSession, email string) error {
	selector, err := waitForAny(ctx, sess, emailSelectors, 20*time.Second)
	if err != nil {
		// No email field: likely already past this step
		return nil
	}

	thinkingPause(ctx)
	if err := sess.TypeText(ctx, selector, email, perKeyDelay); err != nil {
		return fmt.Errorf("email entry failed: %w", err)
	}
	if err := sess.Press(ctx, "Enter"); err != nil {
		return fmt.Errorf("email submit failed: %w", err)
	}
	return nil
}

func (s *Service) enterPassword(ctx context.Context, sess interfaces.BrowserSession, account *models.Account) error {
	selector, err := waitForAny(ctx, sess, passwordSelectors, 20*time.Second)
	if err != nil {
		// Password field never appeared; a challenge screen may have
		// replaced it - check before declaring anything
		if sfErr := s.checkSecondFactor(ctx, sess); sfErr != nil {
			return sfErr
		}
		return fmt.Errorf("password field never appeared: %w", err)
	}

	password, err := common.DecryptString(s.config.Accounts.CredentialKey, account.EncryptedCredential)
	if err != nil {
		return fmt.Errorf("credential decryption failed for %s: %w", account.ID, err)
	}

	thinkingPause(ctx)
	if err := sess.TypeText(ctx, selector, password, perKeyDelay); err != nil {
		return fmt.Errorf("password entry failed: %w", err)
	}
	if err := sess.Press(ctx, "Enter"); err != nil {
		return fmt.Errorf("password submit failed: %w", err)
	}

	// Give the post-submit navigation a moment before the caller probes
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(3 * time.Second):
	}
	return nil
}

// checkSecondFactor fails the login terminally when a verification
// challenge is on screen.
func (s *Service) checkSecondFactor(ctx context.Context, sess interfaces.BrowserSession) error {
	for _, marker := range secondFactorMarkers {
		exists, err := sess.Exists(ctx, marker)
		if err != nil {
			continue
		}
		if exists {
			s.logger.Error().
				Str("marker", marker).
				Msg("Second-factor challenge detected, login cannot proceed")
			return fmt.Errorf("login blocked by verification challenge: %w", ErrSecondFactor)
		}
	}
	return nil
}

// dismissInterstitials repeatedly scans for known nudge-screen dismiss
// phrases for a bounded number of rounds. A round with no hit means the
// screens are done; hitting the round cap just moves on.
func (s *Service) dismissInterstitials(ctx context.Context, sess interfaces.BrowserSession) {
	for round := 0; round < interstitialRounds; round++ {
		dismissed := false
		for _, phrase := range dismissPhrases {
			clicked, err := sess.ClickByText(ctx, phrase)
			if err != nil {
				continue
			}
			if clicked {
				s.logger.Debug().
					Str("phrase", phrase).
					Int("round", round).
					Msg("Dismissed interstitial screen")
				dismissed = true
				break
			}
		}
		if !dismissed {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interstitialInterval):
		}
	}
	s.logger.Warn().Int("rounds", interstitialRounds).Msg("Interstitial dismissal hit round cap")
}

// waitForAny polls a selector list until one matches or the timeout
// elapses.
func waitForAny(ctx context.Context, sess interfaces.BrowserSession, selectors []string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		for _, selector := range selectors {
			found, err := sess.Exists(ctx, selector)
			if err == nil && found {
				return selector, nil
			}
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("none of %d selectors appeared within %s", len(selectors), timeout)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func thinkingPause(ctx context.Context) {
	pause := thinkingPauseMin + time.Duration(rand.Int63n(int64(thinkingPauseMax-thinkingPauseMin)))
	select {
	case <-ctx.Done():
	case <-time.After(pause):
	}
}
