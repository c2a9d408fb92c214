package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"couple-sync-backend/internal/couple"
	"couple-sync-backend/internal/metrics"
	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const maxCodeAttempts = 10

// PairStore is the persistence PairService needs
type PairStore interface {
	repository.UserStore
	repository.ConnectionStore
}

// PairEvents is told about pairing changes so online partners can be notified
type PairEvents interface {
	NotifyPairCreated(userID string, conn *models.PartnerConnection)
	NotifyPairDeleted(userID string)
}

// PairService handles invite codes and partner linking
type PairService struct {
	store         PairStore
	events        PairEvents
	codeTTL       time.Duration
	redeemTimeout time.Duration
	generate      func() (string, error)
	now           func() time.Time
}

// NewPairService creates a new pair service
func NewPairService(store PairStore, events PairEvents, codeTTL, redeemTimeout time.Duration) *PairService {
	return &PairService{
		store:         store,
		events:        events,
		codeTTL:       codeTTL,
		redeemTimeout: redeemTimeout,
		generate:      generateCode,
		now:           time.Now,
	}
}

// PairingStatus describes a user's current pairing state
type PairingStatus struct {
	PartnerID     *string                   `json:"partner_id,omitempty"`
	PendingInvite *models.PartnerConnection `json:"pending_invite,omitempty"`
	ExpiresAt     *time.Time                `json:"expires_at,omitempty"`
}

// NormalizeCode trims and upper-cases user input so codes compare case-insensitively
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func validCode(code string) bool {
	if len(code) != codeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(codeChars, rune(code[i])) {
			return false
		}
	}
	return true
}

// CreateInvite issues a new invite code for userID, replacing any pending one
func (s *PairService) CreateInvite(ctx context.Context, userID string) (*models.PartnerConnection, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.generate()
		if err != nil {
			return nil, fmt.Errorf("failed to generate code: %w", err)
		}

		conn := &models.PartnerConnection{
			ID:          uuid.NewString(),
			Partner1ID:  userID,
			PartnerCode: code,
			Status:      models.ConnectionPending,
			CreatedAt:   s.now(),
		}

		err = s.store.RunInTx(ctx, func(tx repository.PairingTx) error {
			user, err := tx.GetUser(ctx, userID)
			if err != nil {
				return err
			}
			if user.HasPartner() {
				return ErrAlreadyPaired
			}
			if err := tx.DeletePendingByInviter(ctx, userID); err != nil {
				return err
			}
			if err := tx.InsertConnection(ctx, conn); err != nil {
				return err
			}
			return tx.SetPartnerCode(ctx, userID, &code)
		})
		if errors.Is(err, repository.ErrDuplicate) {
			metrics.CodeCollisions.Inc()
			log.Debug().Str("user_id", userID).Int("attempt", attempt+1).Msg("Invite code collision, retrying")
			continue
		}
		if err != nil {
			return nil, storeErr("failed to create invite", err)
		}

		metrics.InvitesCreated.Inc()
		return conn, nil
	}
	return nil, fmt.Errorf("%w after %d attempts", ErrCodeCollision, maxCodeAttempts)
}

// RedeemInvite links userID with the inviter behind code. The connection and
// both profiles are updated in one transaction. Redeeming an already
// redeemed code again by the same user succeeds without writing while the
// link it created still stands.
func (s *PairService) RedeemInvite(ctx context.Context, userID, code string) (*models.PartnerConnection, error) {
	code = NormalizeCode(code)
	if !validCode(code) {
		metrics.Redemptions.WithLabelValues("invalid_code").Inc()
		return nil, fmt.Errorf("%w: code must be %d letters or digits", ErrInvalidCode, codeLength)
	}

	ctx, cancel := context.WithTimeout(ctx, s.redeemTimeout)
	defer cancel()

	var (
		result *models.PartnerConnection
		linked bool
	)
	err := s.store.RunInTx(ctx, func(tx repository.PairingTx) error {
		conn, err := tx.FindConnectionByCode(ctx, code)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidCode
		}
		if err != nil {
			return err
		}

		if conn.Status == models.ConnectionConnected {
			if conn.Partner2ID == nil || *conn.Partner2ID != userID {
				return ErrAlreadyConnected
			}
			// A repeat redemption only succeeds while the link it made still stands.
			linked, err := stillLinked(ctx, tx, conn.Partner1ID, userID)
			if err != nil {
				return err
			}
			if !linked {
				return ErrAlreadyConnected
			}
			result = conn
			return nil
		}
		now := s.now()
		if now.After(conn.ExpiresAt(s.codeTTL)) {
			return ErrCodeExpired
		}
		if conn.Partner1ID == userID {
			return ErrSelfPairing
		}

		// Lock both profiles in key order so concurrent redemptions cannot deadlock.
		key, err := couple.NewKey(conn.Partner1ID, userID)
		if err != nil {
			return err
		}
		profiles := make(map[string]*models.UserProfile, 2)
		for _, id := range []string{key.Low, key.High} {
			p, err := tx.GetUser(ctx, id)
			if err != nil {
				return err
			}
			profiles[id] = p
		}
		if profiles[conn.Partner1ID].HasPartner() || profiles[userID].HasPartner() {
			return ErrAlreadyPaired
		}

		if err := tx.MarkConnected(ctx, conn.ID, userID, now); err != nil {
			return err
		}
		inviterID := conn.Partner1ID
		if err := tx.SetPartner(ctx, inviterID, &userID); err != nil {
			return err
		}
		if err := tx.SetPartner(ctx, userID, &inviterID); err != nil {
			return err
		}
		// The redeemer's own outstanding invite can no longer be redeemed.
		if err := tx.DeletePendingByInviter(ctx, userID); err != nil {
			return err
		}

		conn.Partner2ID = &userID
		conn.Status = models.ConnectionConnected
		conn.ConnectedAt = &now
		result = conn
		linked = true
		return nil
	})
	if err != nil {
		metrics.Redemptions.WithLabelValues(redemptionOutcome(err)).Inc()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("failed to redeem invite: %w: %w", ErrTransientIO, err)
		}
		return nil, storeErr("failed to redeem invite", err)
	}

	if !linked {
		metrics.Redemptions.WithLabelValues("idempotent").Inc()
		return result, nil
	}

	metrics.Redemptions.WithLabelValues("connected").Inc()
	log.Info().
		Str("connection_id", result.ID).
		Str("inviter_id", result.Partner1ID).
		Str("user_id", userID).
		Msg("Partners connected")

	s.events.NotifyPairCreated(result.Partner1ID, result)
	s.events.NotifyPairCreated(userID, result)
	return result, nil
}

// stillLinked reports whether both profiles still point at each other,
// reading them in key order under the transaction's locks
func stillLinked(ctx context.Context, tx repository.PairingTx, inviterID, redeemerID string) (bool, error) {
	key, err := couple.NewKey(inviterID, redeemerID)
	if err != nil {
		return false, err
	}
	for _, id := range []string{key.Low, key.High} {
		p, err := tx.GetUser(ctx, id)
		if err != nil {
			return false, err
		}
		if p.PartnerID == nil || *p.PartnerID != key.Other(id) {
			return false, nil
		}
	}
	return true, nil
}

func redemptionOutcome(err error) string {
	switch {
	case errors.Is(err, ErrCodeExpired):
		return "expired"
	case errors.Is(err, ErrAlreadyConnected):
		return "already_connected"
	case errors.Is(err, ErrInvalidCode):
		return "invalid_code"
	case errors.Is(err, ErrAlreadyPaired):
		return "already_paired"
	case errors.Is(err, ErrSelfPairing):
		return "self"
	}
	return "error"
}

// CancelInvite withdraws the caller's pending invite
func (s *PairService) CancelInvite(ctx context.Context, userID, connectionID string) error {
	err := s.store.RunInTx(ctx, func(tx repository.PairingTx) error {
		conn, err := tx.GetConnection(ctx, connectionID)
		if err != nil {
			return err
		}
		if conn.Partner1ID != userID {
			return ErrUnauthorized
		}
		if conn.Status != models.ConnectionPending {
			return fmt.Errorf("%w: invite already redeemed", ErrInvalidInput)
		}
		if err := tx.DeleteConnection(ctx, conn.ID); err != nil {
			return err
		}
		return tx.SetPartnerCode(ctx, userID, nil)
	})
	if err != nil {
		return storeErr("failed to cancel invite", err)
	}
	return nil
}

// Status returns the caller's partner and outstanding invite
func (s *PairService) Status(ctx context.Context, userID string) (*PairingStatus, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, storeErr("failed to get pairing status", err)
	}
	status := &PairingStatus{PartnerID: user.PartnerID}
	if user.HasPartner() {
		return status, nil
	}

	pending, err := s.store.GetPendingByInviter(ctx, userID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return status, nil
	case err != nil:
		return nil, storeErr("failed to get pending invite", err)
	}
	if exp := pending.ExpiresAt(s.codeTTL); s.now().Before(exp) {
		status.PendingInvite = pending
		status.ExpiresAt = &exp
	}
	return status, nil
}

// Unpair unlinks the caller and their partner
func (s *PairService) Unpair(ctx context.Context, userID string) error {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return storeErr("failed to unpair", err)
	}
	if !user.HasPartner() {
		return ErrNotPaired
	}
	partnerID := *user.PartnerID
	key, err := couple.NewKey(userID, partnerID)
	if err != nil {
		return storeErr("failed to unpair", err)
	}

	err = s.store.RunInTx(ctx, func(tx repository.PairingTx) error {
		profiles := make(map[string]*models.UserProfile, 2)
		for _, id := range []string{key.Low, key.High} {
			p, err := tx.GetUser(ctx, id)
			if errors.Is(err, repository.ErrNotFound) && id == partnerID {
				continue
			}
			if err != nil {
				return err
			}
			profiles[id] = p
		}
		me := profiles[userID]
		if me.PartnerID == nil || *me.PartnerID != partnerID {
			return ErrNotPaired
		}
		if err := tx.SetPartner(ctx, userID, nil); err != nil {
			return err
		}
		if p := profiles[partnerID]; p != nil && p.PartnerID != nil && *p.PartnerID == userID {
			return tx.SetPartner(ctx, partnerID, nil)
		}
		return nil
	})
	if err != nil {
		return storeErr("failed to unpair", err)
	}

	log.Info().Str("user_id", userID).Str("partner_id", partnerID).Msg("Partners unpaired")
	s.events.NotifyPairDeleted(userID)
	s.events.NotifyPairDeleted(partnerID)
	return nil
}

// ReapExpired deletes pending invites older than the code TTL
func (s *PairService) ReapExpired(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpiredPending(ctx, s.now().Add(-s.codeTTL))
	if err != nil {
		return 0, storeErr("failed to reap invites", err)
	}
	metrics.InvitesReaped.Add(float64(n))
	return n, nil
}

// coupleOf resolves the couple for actor. When other is empty the actor's
// partner is used; otherwise actor must be linked to other.
func coupleOf(ctx context.Context, users repository.UserStore, actor, other string) (couple.Key, error) {
	user, err := users.GetUser(ctx, actor)
	if err != nil {
		return couple.Key{}, storeErr("failed to resolve couple", err)
	}
	if other == "" {
		if !user.HasPartner() {
			return couple.Key{}, ErrNotPaired
		}
		other = *user.PartnerID
	}
	key, err := couple.NewKey(actor, other)
	if err != nil {
		return couple.Key{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if !user.HasPartner() || *user.PartnerID != other {
		return couple.Key{}, ErrUnauthorized
	}
	return key, nil
}
