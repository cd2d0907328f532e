package pipeline

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"photoenhance/internal/domain"
	"photoenhance/internal/imaging"
	"photoenhance/internal/infra"
)

const (
	maxNameLength        = 200
	maxTitleLength       = 200
	maxDescriptionLength = 2000
)

// Upload is a photo submitted for enhancement.
type Upload struct {
	Filename     string
	Data         []byte
	DeclaredMIME string
	Title        string
	Description  string
}

// Admitted describes a newly created job.
type Admitted struct {
	PhotoID          string
	Status           domain.PhotoStatus
	CreditsRemaining *int
	Unlimited        bool
}

// Admission validates uploads, stores them, and creates a PENDING job while
// charging its owner.
type Admission struct {
	store   domain.AdmissionStore
	ledger  domain.CreditLedger
	objects domain.ObjectStore
	limits  imaging.Limits
	logger  infra.Logger
	now     func() time.Time
}

func NewAdmission(store domain.AdmissionStore, ledger domain.CreditLedger, objects domain.ObjectStore, limits imaging.Limits, logger infra.Logger) *Admission {
	if limits.MaxBytes == 0 {
		limits = imaging.DefaultLimits
	}
	return &Admission{
		store:   store,
		ledger:  ledger,
		objects: objects,
		limits:  limits,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Submit admits an upload for ownerID. Validation and balance failures leave
// nothing behind. The record and the debit are applied together by the store;
// if that unit rejects, the stored object is removed again.
func (a *Admission) Submit(ctx context.Context, ownerID string, up Upload) (*Admitted, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, domain.NewError(domain.CodeUnauthorized, "authentication required", nil)
	}
	info, err := imaging.Validate(up.Data, a.limits)
	if err != nil {
		return nil, err
	}

	balance, err := a.ledger.GetBalance(ctx, ownerID)
	if err != nil {
		return nil, domain.NewError(domain.CodeStorageError, "read credit balance", err)
	}
	if !balance.CanSpend(domain.EnhancementCost) {
		return nil, domain.NewError(domain.CodeInsufficientCredits, "not enough credits to enhance a photo", nil)
	}

	id := uuid.NewString()
	key := domain.SourceKey(ownerID, id, info.Ext)
	ref, err := a.objects.Write(ctx, key, up.Data)
	if err != nil {
		return nil, domain.NewError(domain.CodeStorageError, "store source image", err)
	}

	now := a.now()
	photo := &domain.Photo{
		ID:             id,
		OwnerID:        ownerID,
		SourceRef:      ref,
		SourceName:     SanitizeName(up.Filename, info.Ext),
		SourceMIME:     info.MIME,
		SourceChecksum: info.Checksum,
		SourceBytes:    info.Bytes,
		Status:         domain.StatusPending,
		Title:          clip(up.Title, maxTitleLength),
		Description:    clip(up.Description, maxDescriptionLength),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	remaining, err := a.store.Admit(ctx, photo, domain.EnhancementCost)
	if err != nil {
		a.discard(ctx, ref)
		if errors.Is(err, domain.ErrInsufficientCredits) {
			return nil, domain.NewError(domain.CodeInsufficientCredits, "not enough credits to enhance a photo", err)
		}
		return nil, domain.NewError(domain.CodeStorageError, "create photo record", err)
	}

	a.logger.Info().
		Str("photo_id", id).
		Str("owner_id", ownerID).
		Str("image", info.Describe()).
		Msg("admission: photo accepted")

	out := &Admitted{PhotoID: id, Status: domain.StatusPending, Unlimited: remaining.Unlimited}
	if !remaining.Unlimited {
		credits := remaining.Credits
		out.CreditsRemaining = &credits
	}
	return out, nil
}

func (a *Admission) discard(ctx context.Context, ref string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
	defer cancel()
	if err := a.objects.Delete(ctx, ref); err != nil {
		a.logger.Warn().Err(err).Str("ref", ref).Msg("admission: orphaned source object")
	}
}

// SanitizeName reduces a client-supplied filename to a safe base name.
func SanitizeName(name, fallbackExt string) string {
	name = norm.NFC.String(strings.ReplaceAll(name, "\\", "/"))
	name = path.Base(strings.TrimSpace(name))
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == '/' {
			return -1
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "upload" + fallbackExt
	}
	return clip(name, maxNameLength)
}

func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
