package billing

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/ProUnlock/app/models"
	"github.com/ManuelReschke/ProUnlock/internal/pkg/database"
)

// Repository provides DB operations used by the billing service.
type Repository interface {
	// InsertEventIfNotExists stores event unless its EventID is already
	// present. created is false for a redelivery.
	InsertEventIfNotExists(ctx context.Context, event *models.PaymentEvent) (created bool, err error)
	GetEvent(ctx context.Context, eventID string) (*models.PaymentEvent, error)
	// ListCandidateEvents returns the newest events for payerEmail of the given
	// types received at or after since.
	ListCandidateEvents(ctx context.Context, payerEmail string, eventTypes []string, since time.Time, limit int) ([]models.PaymentEvent, error)
	ClaimedEventIDs(ctx context.Context, eventIDs []string) (map[string]bool, error)
	// CreateClaim inserts the claim row. It returns ErrClaimConflict when the
	// event already has a claim.
	CreateClaim(ctx context.Context, claim *models.PaymentClaim) error
	LatestClaimAt(ctx context.Context, claimant Claimant) (*time.Time, error)
	ClaimsForUser(ctx context.Context, userID uint) ([]models.PaymentClaim, error)
}

type gormRepository struct {
	db      *gorm.DB
	timeout time.Duration
}

// NewRepository creates a billing repository backed by GORM. Each call runs
// under timeout.
func NewRepository(db *gorm.DB, timeout time.Duration) Repository {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &gormRepository{db: db, timeout: timeout}
}

func (r *gormRepository) conn(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	return r.db.WithContext(ctx), cancel
}

func (r *gormRepository) InsertEventIfNotExists(ctx context.Context, event *models.PaymentEvent) (bool, error) {
	db, cancel := r.conn(ctx)
	defer cancel()

	tx := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		// A concurrent insert of the same id can still surface as 1062.
		if database.IsDuplicateKey(tx.Error) {
			return false, nil
		}
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) GetEvent(ctx context.Context, eventID string) (*models.PaymentEvent, error) {
	db, cancel := r.conn(ctx)
	defer cancel()

	var ev models.PaymentEvent
	if err := db.Where("event_id = ?", eventID).First(&ev).Error; err != nil {
		return nil, err
	}
	return &ev, nil
}

func (r *gormRepository) ListCandidateEvents(ctx context.Context, payerEmail string, eventTypes []string, since time.Time, limit int) ([]models.PaymentEvent, error) {
	db, cancel := r.conn(ctx)
	defer cancel()

	var events []models.PaymentEvent
	err := db.
		Where("payer_email = ? AND event_type IN ? AND received_at >= ?", payerEmail, eventTypes, since).
		Order("received_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *gormRepository) ClaimedEventIDs(ctx context.Context, eventIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(eventIDs))
	if len(eventIDs) == 0 {
		return out, nil
	}
	db, cancel := r.conn(ctx)
	defer cancel()

	var claimed []string
	if err := db.Model(&models.PaymentClaim{}).
		Where("event_id IN ?", eventIDs).
		Pluck("event_id", &claimed).Error; err != nil {
		return nil, err
	}
	for _, id := range claimed {
		out[id] = true
	}
	return out, nil
}

func (r *gormRepository) CreateClaim(ctx context.Context, claim *models.PaymentClaim) error {
	db, cancel := r.conn(ctx)
	defer cancel()

	if err := db.Create(claim).Error; err != nil {
		if database.IsDuplicateKey(err) {
			return ErrClaimConflict
		}
		return err
	}
	return nil
}

func (r *gormRepository) LatestClaimAt(ctx context.Context, claimant Claimant) (*time.Time, error) {
	db, cancel := r.conn(ctx)
	defer cancel()

	q := db.Model(&models.PaymentClaim{})
	switch {
	case claimant.UserID != 0 && claimant.PayerEmail != "":
		q = q.Where("user_id = ? OR payer_email = ?", claimant.UserID, claimant.PayerEmail)
	case claimant.UserID != 0:
		q = q.Where("user_id = ?", claimant.UserID)
	case claimant.PayerEmail != "":
		q = q.Where("payer_email = ?", claimant.PayerEmail)
	default:
		return nil, nil
	}

	var latest models.PaymentClaim
	if err := q.Order("created_at DESC").First(&latest).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &latest.CreatedAt, nil
}

func (r *gormRepository) ClaimsForUser(ctx context.Context, userID uint) ([]models.PaymentClaim, error) {
	db, cancel := r.conn(ctx)
	defer cancel()

	var claims []models.PaymentClaim
	err := db.Where("user_id = ?", userID).Order("created_at DESC").Find(&claims).Error
	return claims, err
}
