package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"geopatch/internal/fsconn"
)

var (
	// ErrUserExists is returned by Register when the email is taken.
	ErrUserExists = errors.New("user already exists")

	// ErrBadCredentials is returned by Authenticate for an unknown email or
	// a wrong password. Callers cannot tell the two apart.
	ErrBadCredentials = errors.New("invalid email or password")
)

// User is one credential document. Passwords are stored as salted scrypt
// keys, never in clear.
type User struct {
	Email     string    `firestore:"email"`
	Salt      []byte    `firestore:"salt"`
	Key       []byte    `firestore:"key"`
	CreatedAt time.Time `firestore:"createdAt"`
}

// Users keeps credentials in a Firestore collection, one document per email.
type Users struct {
	Collection string
	Pepper     []byte

	conn   *fsconn.Conn
	logger *zap.SugaredLogger
}

const DefaultCollection = "users"

func NewUsers(conn *fsconn.Conn, logger *zap.SugaredLogger) *Users {
	return &Users{
		Collection: DefaultCollection,
		conn:       conn,
		logger:     logger,
	}
}

// docID maps an email to a document ID. Document paths are forward slash
// separated, so a slash inside the email must not pass through literally.
func docID(email string) string {
	return strings.ReplaceAll(email, "/", "\\")
}

// Register creates the credential document for email. The Create call is
// atomic on the document ID, so two racing registrations for the same email
// cannot both succeed.
func (u *Users) Register(ctx context.Context, email, password string) error {
	client, err := u.conn.Client(ctx)
	if err != nil {
		return err
	}

	salt, err := NewSalt()
	if err != nil {
		return err
	}
	key, err := HashPassword(password, salt, u.Pepper)
	if err != nil {
		return err
	}

	_, err = client.Collection(u.Collection).Doc(docID(email)).Create(ctx, &User{
		Email:     email,
		Salt:      salt,
		Key:       key,
		CreatedAt: fsconn.UTCNow(),
	})
	if err != nil {
		if fsconn.IsDocExists(err) {
			return ErrUserExists
		}
		return err
	}

	u.logger.Infof("registered user %s", email)
	return nil
}

// Authenticate verifies email/password against the stored credential.
func (u *Users) Authenticate(ctx context.Context, email, password string) error {
	client, err := u.conn.Client(ctx)
	if err != nil {
		return err
	}

	doc, err := client.Collection(u.Collection).Doc(docID(email)).Get(ctx)
	if err != nil {
		if fsconn.IsDocNotFound(err) {
			return ErrBadCredentials
		}
		return err
	}

	var usr User
	if err := doc.DataTo(&usr); err != nil {
		return err
	}

	ok, err := VerifyPassword(password, usr.Salt, u.Pepper, usr.Key)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBadCredentials
	}
	return nil
}
