package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/noctua/internal/interfaces"
)

// ElementRole names a functional element on the chat surface. Workers and
// the session layer address the page through roles; the selector lists
// below absorb upstream markup drift so call sites never change when the
// UI does.
type ElementRole string

const (
	RolePromptInput       ElementRole = "prompt-input"
	RoleSendControl       ElementRole = "send-control"
	RoleStopControl       ElementRole = "stop-control"
	RoleModelPicker       ElementRole = "model-picker"
	RoleResponseContainer ElementRole = "response-container"
	RoleNewChat           ElementRole = "new-chat"
	RoleGreeting          ElementRole = "greeting"
	RoleUserTurn          ElementRole = "user-turn"
)

// roleSelectors maps each role to its selector candidates in preference
// order: most specific current markup first, older or looser fallbacks
// after.
var roleSelectors = map[ElementRole][]string{
	RolePromptInput: {
		`rich-textarea div[contenteditable="true"]`,
		`div.ql-editor[contenteditable="true"]`,
		`div[contenteditable="true"][role="textbox"]`,
		`textarea[aria-label*="prompt" i]`,
	},
	RoleSendControl: {
		`button[aria-label="Send message"]`,
		`button[aria-label*="Send" i]`,
		`button.send-button`,
		`button[mattooltip*="Submit" i]`,
	},
	RoleStopControl: {
		`button[aria-label="Stop response"]`,
		`button[aria-label*="Stop" i]`,
		`button.stop-button`,
	},
	RoleModelPicker: {
		`button[aria-haspopup="menu"][aria-label*="model" i]`,
		`bard-mode-switcher button`,
		`button.gds-mode-switch-button`,
	},
	RoleResponseContainer: {
		`message-content.model-response-text`,
		`model-response message-content`,
		`div.model-response-text`,
		`div[data-message-author-role="model"]`,
		`div.markdown`,
	},
	RoleNewChat: {
		`button[aria-label="New chat"]`,
		`a[href="/app"]`,
		`expandable-button[data-test-id="new-chat-button"] button`,
	},
	RoleGreeting: {
		`div.zero-state-wrapper`,
		`h1.greeting`,
		`div[data-test-id="zero-state"]`,
	},
	RoleUserTurn: {
		`user-query message-content`,
		`div[data-message-author-role="user"]`,
		`div.user-query-container`,
	},
}

// Selectors returns the candidate selector list for a role, most
// preferred first.
func Selectors(role ElementRole) []string {
	return roleSelectors[role]
}

// FindFirst probes the role's selector candidates in order and returns
// the first selector that currently matches. The boolean is false when
// no candidate matches; that is a normal answer, not an error.
func FindFirst(ctx context.Context, s interfaces.BrowserSession, role ElementRole) (string, bool, error) {
	for _, selector := range roleSelectors[role] {
		found, err := s.Exists(ctx, selector)
		if err != nil {
			return "", false, err
		}
		if found {
			return selector, true, nil
		}
	}
	return "", false, nil
}

// WaitForRole polls the role's candidates until one matches or the
// timeout elapses. Polling steps at a fixed interval rather than busy
// spinning.
func WaitForRole(ctx context.Context, s interfaces.BrowserSession, role ElementRole, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		selector, found, err := FindFirst(ctx, s, role)
		if err != nil {
			return "", err
		}
		if found {
			return selector, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("no %s element appeared within %s", role, timeout)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}
