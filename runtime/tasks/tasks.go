// Package tasks defines the local task-handler contract the router dispatches
// to, plus the reference handlers covering the classifier's intent set.
// Handlers receive the user text and a short history window and return a
// single string; they never mutate runtime state.
package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/switchboard-ai/switchboard/runtime/memory"
)

type (
	// Input is the handler invocation payload.
	Input struct {
		// Text is the user's message with delegation phrases already stripped.
		Text string
		// History is the tail of the conversation, oldest first. May be empty.
		History []memory.Message
	}

	// Handler executes one local task.
	//
	// Contract: Invoke must be side-effect-free on runtime state and must
	// return either a user-facing string or an error. The router converts
	// errors to a user-visible failure message and never retries.
	Handler interface {
		// Name is the intent the handler serves.
		Name() string
		// DisplayName prefixes the handler's responses in router output.
		DisplayName() string
		Invoke(ctx context.Context, in Input) (string, error)
	}

	// Set maps intent names to handlers.
	Set map[string]Handler
)

// DefaultSet returns the reference handlers keyed by intent.
func DefaultSet() Set {
	return Set{
		"tickets":  Tickets{},
		"account":  Account{},
		"payments": Payments{},
		"general":  General{},
	}
}

// Tickets files a support ticket and reports its id.
type Tickets struct{}

func (Tickets) Name() string        { return "tickets" }
func (Tickets) DisplayName() string { return "🎫 **Tickets Agent**" }

func (Tickets) Invoke(_ context.Context, in Input) (string, error) {
	if strings.TrimSpace(in.Text) == "" {
		return "", fmt.Errorf("ticket description is empty")
	}
	id := "TKT-" + strings.ToUpper(uuid.NewString()[:8])
	summary := in.Text
	if len(summary) > 120 {
		summary = summary[:120] + "…"
	}
	return fmt.Sprintf("I've created support ticket %s for you: %q. Our team will follow up within one business day.", id, summary), nil
}

// Account answers account and profile questions from the history window.
type Account struct{}

func (Account) Name() string        { return "account" }
func (Account) DisplayName() string { return "👤 **Account Agent**" }

func (Account) Invoke(_ context.Context, in Input) (string, error) {
	lower := strings.ToLower(in.Text)
	switch {
	case strings.Contains(lower, "password"):
		return "To reset your password, use the \"Forgot password\" link on the sign-in page. A reset email arrives within a few minutes.", nil
	case strings.Contains(lower, "email"):
		return "You can change the email on your account from Settings > Profile. The change takes effect after you confirm the new address.", nil
	case strings.Contains(lower, "delete"):
		return "Account deletion is permanent. You can request it from Settings > Privacy; the grace period is 30 days.", nil
	default:
		return "I can help with passwords, profile changes, and account settings. What would you like to do with your account?", nil
	}
}

// Payments refuses every request. Payment execution is out of scope, so the
// handler returns a fixed not-supported string rather than an error.
type Payments struct{}

// PaymentsRefusal is the fixed response of the payments handler.
const PaymentsRefusal = "Payment operations are not supported through this assistant. " +
	"Please use the billing portal or contact your account manager for payment and refund requests."

func (Payments) Name() string        { return "payments" }
func (Payments) DisplayName() string { return "💳 **Payments Agent**" }

func (Payments) Invoke(context.Context, Input) (string, error) {
	return PaymentsRefusal, nil
}

// General handles everything the specific handlers do not.
type General struct{}

func (General) Name() string        { return "general" }
func (General) DisplayName() string { return "💬 **General Agent**" }

func (General) Invoke(_ context.Context, in Input) (string, error) {
	if len(in.History) > 0 {
		return "Thanks for the extra context. I can help with support tickets, account questions, and general information. What do you need?", nil
	}
	return "Hello! I can help with support tickets, account questions, and general information. What do you need?", nil
}
