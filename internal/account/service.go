// Package account manages user profiles: email, subscription tier, Stripe
// linkage, and the free-tier upload allowance.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	TierFree     = "Free"
	TierBasic    = "Basic"
	TierExpiring = "Expiring"
)

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrNoUploadsLeft   = errors.New("no uploads left")
)

type Profile struct {
	UserID           string `json:"userId"`
	Email            string `json:"email"`
	SubscriptionTier string `json:"subscriptionTier"`
	StripeCustomerID string `json:"-"`
	SubscriptionID   string `json:"-"`
	UploadsLeft      int    `json:"uploadsLeft"`
}

type Service struct {
	db          *pgxpool.Pool
	log         *slog.Logger
	freeUploads int
}

func NewService(db *pgxpool.Pool, logger *slog.Logger, freeUploads int) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if freeUploads <= 0 {
		freeUploads = 3
	}
	return &Service{db: db, log: logger, freeUploads: freeUploads}
}

// EnsureProfile creates the profile row on first login. Safe to call on
// every authenticated request.
func (s *Service) EnsureProfile(ctx context.Context, userID, email string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO users.profiles (user_id, email, subscription_tier, uploads_left, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (user_id) DO NOTHING
	`, userID, email, TierFree, s.freeUploads)
	if err != nil {
		return fmt.Errorf("ensure profile: %w", err)
	}
	return nil
}

func (s *Service) Profile(ctx context.Context, userID string) (Profile, error) {
	var (
		p        Profile
		customer *string
		sub      *string
	)
	err := s.db.QueryRow(ctx, `
		SELECT user_id, email, subscription_tier, stripe_customer_id, subscription_id, uploads_left
		FROM users.profiles
		WHERE user_id = $1
	`, userID).Scan(&p.UserID, &p.Email, &p.SubscriptionTier, &customer, &sub, &p.UploadsLeft)
	if err == pgx.ErrNoRows {
		return Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	if customer != nil {
		p.StripeCustomerID = *customer
	}
	if sub != nil {
		p.SubscriptionID = *sub
	}
	return p, nil
}

// ConsumeUpload answers whether the user may upload one more game, and for
// free-tier users burns one credit atomically. Paid tiers never decrement.
func (s *Service) ConsumeUpload(ctx context.Context, userID string) (allowed bool, left int, err error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return false, 0, err
	}
	defer tx.Rollback(ctx)

	var tier string
	err = tx.QueryRow(ctx, `
		SELECT subscription_tier, uploads_left
		FROM users.profiles
		WHERE user_id = $1
		FOR UPDATE
	`, userID).Scan(&tier, &left)
	if err == pgx.ErrNoRows {
		return false, 0, ErrProfileNotFound
	}
	if err != nil {
		return false, 0, err
	}

	allowed, decrement := decideUpload(tier, left)
	if decrement {
		left--
		_, err = tx.Exec(ctx, `
			UPDATE users.profiles
			SET uploads_left = $2
			WHERE user_id = $1
		`, userID, left)
		if err != nil {
			return false, 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, 0, err
	}
	return allowed, left, nil
}

// decideUpload is the tier gate: paid tiers upload freely, free tier spends
// credits until none remain.
func decideUpload(tier string, uploadsLeft int) (allowed, decrement bool) {
	switch tier {
	case TierBasic, TierExpiring:
		return true, false
	default:
		if uploadsLeft > 0 {
			return true, true
		}
		return false, false
	}
}

// AttachStripeCustomer records the Stripe customer id created for this user.
func (s *Service) AttachStripeCustomer(ctx context.Context, userID, customerID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE users.profiles
		SET stripe_customer_id = $2
		WHERE user_id = $1
	`, userID, customerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// SetTierByCustomer flips the subscription tier for the profile linked to a
// Stripe customer. The webhook path only knows the customer id.
func (s *Service) SetTierByCustomer(ctx context.Context, customerID, subscriptionID, tier string) error {
	if strings.TrimSpace(customerID) == "" {
		return ErrProfileNotFound
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE users.profiles
		SET subscription_tier = $2, subscription_id = NULLIF($3, '')
		WHERE stripe_customer_id = $1
	`, customerID, tier, subscriptionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		s.log.Warn("webhook for unknown stripe customer", "customer_id", customerID)
		return ErrProfileNotFound
	}
	return nil
}
