package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
)

// Users is the account store.
type Users interface {
	// RunInTx runs fn in a transaction, rolled back when fn returns an error.
	RunInTx(ctx context.Context, opts *sql.TxOptions, fn func(ctx context.Context, tx bun.Tx) error) error

	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	// GetByLogin resolves an email (contains "@") or a phone number.
	GetByLogin(ctx context.Context, login string) (*User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByEmailTx(ctx context.Context, tx bun.IDB, email string) (bool, error)
	ExistsByPhone(ctx context.Context, phone string) (bool, error)
	ExistsByPhoneTx(ctx context.Context, tx bun.IDB, phone string) (bool, error)

	Create(ctx context.Context, record *User) (*User, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *User) (*User, error)
	// FindOrCreateByEmail inserts record unless an account with the same email
	// exists, in which case the existing account is returned. The boolean
	// reports whether record was inserted.
	FindOrCreateByEmail(ctx context.Context, record *User) (*User, bool, error)

	UpdateProfileImage(ctx context.Context, id uuid.UUID, path string) error
	TrackSuccessfulLogin(ctx context.Context, user *User) error
}

type users struct {
	db          *bun.DB
	phoneRegion string
	now         func() time.Time
}

var _ Users = (*users)(nil)

type UsersOption func(*users)

// WithPhoneRegion sets the region used to normalize phone logins.
func WithPhoneRegion(region string) UsersOption {
	return func(u *users) {
		if region != "" {
			u.phoneRegion = region
		}
	}
}

// NewUsersRepository creates a bun backed Users store.
func NewUsersRepository(db *bun.DB, opts ...UsersOption) Users {
	u := &users{
		db:          db,
		phoneRegion: DefaultPhoneRegion,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(u)
		}
	}
	return u
}

func (a *users) RunInTx(ctx context.Context, opts *sql.TxOptions, fn func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return a.db.RunInTx(ctx, opts, fn)
	}
}

func (a *users) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return a.getBy(ctx, a.db, "id", id)
}

func (a *users) GetByEmail(ctx context.Context, email string) (*User, error) {
	return a.getBy(ctx, a.db, "email", NormalizeEmail(email))
}

func (a *users) GetByLogin(ctx context.Context, login string) (*User, error) {
	login = strings.TrimSpace(login)
	if login == "" {
		return nil, WrapError(ErrIdentityNotFound, nil, map[string]any{"login": login})
	}

	if strings.Contains(login, "@") {
		return a.GetByEmail(ctx, login)
	}

	phone, err := NormalizePhone(login, a.phoneRegion)
	if err != nil {
		return nil, WrapError(ErrIdentityNotFound, err, map[string]any{"login": login})
	}

	return a.getBy(ctx, a.db, "phone_number", phone)
}

func (a *users) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return a.ExistsByEmailTx(ctx, a.db, email)
}

func (a *users) ExistsByEmailTx(ctx context.Context, tx bun.IDB, email string) (bool, error) {
	return tx.NewSelect().
		Model((*User)(nil)).
		Where("?TableAlias.email = ?", NormalizeEmail(email)).
		Exists(ctx)
}

func (a *users) ExistsByPhone(ctx context.Context, phone string) (bool, error) {
	return a.ExistsByPhoneTx(ctx, a.db, phone)
}

func (a *users) ExistsByPhoneTx(ctx context.Context, tx bun.IDB, phone string) (bool, error) {
	return tx.NewSelect().
		Model((*User)(nil)).
		Where("?TableAlias.phone_number = ?", phone).
		Exists(ctx)
}

func (a *users) Create(ctx context.Context, record *User) (*User, error) {
	return a.CreateTx(ctx, a.db, record)
}

func (a *users) CreateTx(ctx context.Context, tx bun.IDB, record *User) (*User, error) {
	a.prepareUserDefaults(record)

	if _, err := tx.NewInsert().Model(record).Returning("NULL").Exec(ctx); err != nil {
		if field, ok := uniqueViolationField(err); ok {
			return nil, WrapError(ErrValidation, err, map[string]any{
				"field":  field,
				"reason": "already taken",
			})
		}
		return nil, err
	}

	return record, nil
}

func (a *users) FindOrCreateByEmail(ctx context.Context, record *User) (*User, bool, error) {
	a.prepareUserDefaults(record)

	res, err := a.db.NewInsert().
		Model(record).
		On("CONFLICT (email) DO NOTHING").
		Returning("NULL").
		Exec(ctx)
	if err != nil {
		return nil, false, err
	}

	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return record, true, nil
	}

	existing, err := a.getBy(ctx, a.db, "email", record.Email)
	if err != nil {
		return nil, false, err
	}

	return existing, false, nil
}

func (a *users) UpdateProfileImage(ctx context.Context, id uuid.UUID, path string) error {
	var value any
	if path != "" {
		value = path
	}

	res, err := a.db.NewUpdate().
		Model((*User)(nil)).
		Set("profile_image_path = ?", value).
		Set("updated_at = ?", a.now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return WrapError(ErrIdentityNotFound, nil, map[string]any{"id": id.String()})
	}

	return nil
}

func (a *users) TrackSuccessfulLogin(ctx context.Context, user *User) error {
	loggedInAt := a.now()
	_, err := a.db.NewUpdate().
		Model((*User)(nil)).
		Set("loggedin_at = ?", loggedInAt).
		Where("id = ?", user.ID).
		Exec(ctx)
	if err != nil {
		return err
	}
	user.LoggedInAt = &loggedInAt
	return nil
}

func (a *users) getBy(ctx context.Context, tx bun.IDB, column string, value any) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where(fmt.Sprintf("?TableAlias.%s = ?", column), value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, WrapError(ErrIdentityNotFound, err, map[string]any{column: value})
		}
		return nil, err
	}
	return record, nil
}

func (a *users) prepareUserDefaults(record *User) {
	if record == nil {
		return
	}

	record.Email = NormalizeEmail(record.Email)

	if record.Role == "" {
		record.Role = DefaultRole
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	now := a.now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	record.normalizeProfileShape()
}

// uniqueViolationField reports whether err is a unique constraint violation
// and, when it can tell, which column caused it.
func uniqueViolationField(err error) (string, bool) {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		if pgErr.Field('C') != pgerrcode.UniqueViolation {
			return "", false
		}
		return violatedColumn(pgErr.Field('n') + " " + pgErr.Field('D')), true
	}

	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return violatedColumn(msg), true
	}

	return "", false
}

func violatedColumn(detail string) string {
	switch {
	case strings.Contains(detail, "phone_number"):
		return "phone_number"
	case strings.Contains(detail, "email"):
		return "email"
	default:
		return ""
	}
}
