package watcher

import (
	"errors"
	"mime"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-message/charset"
)

var (
	errNoEnvelope = errors.New("message has no envelope")
	errNoSender   = errors.New("envelope has no sender display name")
	errNoSubject  = errors.New("envelope has no subject")
	errNoDate     = errors.New("envelope has no parsable date")
)

// wordDecoder undoes RFC 2047 encoded-words in header fields. The charset
// table from go-message covers the legacy encodings (ISO-8859-*, KOI8,
// Windows-125x) that the standard library alone rejects.
var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// decodeHeader returns the decoded form of a header value, or the raw string
// unchanged when it is not encoded or fails to decode.
func decodeHeader(s string) string {
	decoded, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}

// Candidate is the decoded per-message view the classifier works on. It is
// built fresh for each unseen message and never persisted.
type Candidate struct {
	ID      MessageID
	Sender  string
	Subject string
	Date    time.Time
}

// newCandidate extracts and decodes the envelope fields classification
// needs. Any missing field is an error; the caller decides whether to skip
// the message or give up on the batch.
func newCandidate(id MessageID, env *imap.Envelope) (Candidate, error) {
	if env == nil {
		return Candidate{}, errNoEnvelope
	}
	if len(env.From) == 0 || env.From[0] == nil || env.From[0].PersonalName == "" {
		return Candidate{}, errNoSender
	}
	if env.Subject == "" {
		return Candidate{}, errNoSubject
	}
	if env.Date.IsZero() {
		return Candidate{}, errNoDate
	}

	return Candidate{
		ID:      id,
		Sender:  decodeHeader(env.From[0].PersonalName),
		Subject: decodeHeader(env.Subject),
		Date:    env.Date,
	}, nil
}
