// Package turnrest mints short-lived TURN credentials that coturn accepts
// with `use-auth-secret`:
//
//	username   = <unix expiry>:<prefix>:<subject>
//	credential = base64(hmac-sha1(secret, username))
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNoSecret   = errors.New("turnrest: shared secret is required")
	ErrBadTTL     = errors.New("turnrest: ttl must be > 0")
	ErrBadPrefix  = errors.New("turnrest: username prefix must be non-empty and contain no ':'")
	ErrBadSubject = errors.New("turnrest: subject must be non-empty and contain no ':'")
)

type Options struct {
	SharedSecret   string
	TTL            time.Duration
	UsernamePrefix string

	// Now defaults to time.Now.
	Now func() time.Time
}

type Issuer struct {
	secret []byte
	ttl    int64
	prefix string
	now    func() time.Time
}

type Credentials struct {
	Username   string
	Credential string
	Expires    time.Time
}

func NewIssuer(opts Options) (*Issuer, error) {
	if opts.SharedSecret == "" {
		return nil, ErrNoSecret
	}
	ttl := int64(opts.TTL / time.Second)
	if ttl <= 0 {
		return nil, ErrBadTTL
	}
	if opts.UsernamePrefix == "" || strings.Contains(opts.UsernamePrefix, ":") {
		return nil, ErrBadPrefix
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Issuer{
		secret: []byte(opts.SharedSecret),
		ttl:    ttl,
		prefix: opts.UsernamePrefix,
		now:    opts.Now,
	}, nil
}

// Issue mints credentials bound to subject, typically a signaling
// connection handle.
func (i *Issuer) Issue(subject string) (Credentials, error) {
	if subject == "" || strings.Contains(subject, ":") {
		return Credentials{}, ErrBadSubject
	}
	expiry := i.now().UTC().Unix() + i.ttl
	username := strconv.FormatInt(expiry, 10) + ":" + i.prefix + ":" + subject
	return Credentials{
		Username:   username,
		Credential: Sign(i.secret, username),
		Expires:    time.Unix(expiry, 0).UTC(),
	}, nil
}

// IssueAnonymous mints credentials for a random subject.
func (i *Issuer) IssueAnonymous() (Credentials, error) {
	return i.Issue(uuid.NewString())
}

// Sign computes the coturn credential for username.
func Sign(secret []byte, username string) string {
	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
