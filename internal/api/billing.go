package api

import (
	"errors"
	"io"
	"net/http"

	"tiltbook/internal/account"
	"tiltbook/internal/billing"
)

const maxWebhookBody = 1 << 20

func (s *Server) handleBillingCheckout(w http.ResponseWriter, r *http.Request) {
	if s.billing == nil {
		writeError(w, http.StatusServiceUnavailable, "billing not configured")
		return
	}
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	profile, err := s.accounts.Profile(r.Context(), user.UserID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	customerID := profile.StripeCustomerID
	if customerID == "" {
		customerID, err = s.billing.CreateCustomer(r.Context(), profile.Email, user.UserID)
		if err != nil {
			s.log.Error("create stripe customer failed", "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if err := s.accounts.AttachStripeCustomer(r.Context(), user.UserID, customerID); err != nil {
			s.writeDomainError(w, err)
			return
		}
	}
	checkoutURL, err := s.billing.CreateCheckoutSession(r.Context(), customerID)
	if err != nil {
		s.log.Error("create checkout session failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": checkoutURL})
}

func (s *Server) handleBillingCancel(w http.ResponseWriter, r *http.Request) {
	if s.billing == nil {
		writeError(w, http.StatusServiceUnavailable, "billing not configured")
		return
	}
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	profile, err := s.accounts.Profile(r.Context(), user.UserID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if profile.SubscriptionID == "" {
		writeError(w, http.StatusBadRequest, "no active subscription")
		return
	}
	if err := s.billing.CancelAtPeriodEnd(r.Context(), profile.SubscriptionID); err != nil {
		s.log.Error("cancel subscription failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleBillingWebhook is unauthenticated; the signature is the credential.
// Unknown customers and event types are acknowledged so Stripe stops
// retrying them.
func (s *Server) handleBillingWebhook(w http.ResponseWriter, r *http.Request) {
	if s.billing == nil {
		writeError(w, http.StatusServiceUnavailable, "billing not configured")
		return
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body failed")
		return
	}
	event, err := s.billing.VerifyWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, billing.ErrBadSignature) || errors.Is(err, billing.ErrStaleTimestamp) {
			writeError(w, http.StatusBadRequest, "invalid signature")
			return
		}
		s.log.Error("webhook decode failed", "err", err)
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	switch {
	case event.Type == "checkout.session.completed" && event.Mode == "subscription":
		err = s.accounts.SetTierByCustomer(r.Context(), event.CustomerID, event.SubscriptionID, account.TierBasic)
	case event.Type == "customer.subscription.updated" && event.CancelAtPeriodEnd && event.Status == "active":
		err = s.accounts.SetTierByCustomer(r.Context(), event.CustomerID, event.SubscriptionID, account.TierExpiring)
	case event.Type == "customer.subscription.deleted":
		err = s.accounts.SetTierByCustomer(r.Context(), event.CustomerID, "", account.TierFree)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"received": true})
		return
	}
	if err != nil && !errors.Is(err, account.ErrProfileNotFound) {
		s.log.Error("apply webhook failed", "type", event.Type, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"received": true})
}
