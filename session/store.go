package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Store persists one Session as a JSON document at a well-known path.
//
// Load fails softly: a missing or corrupt file is reported as "no session",
// never as an error the caller has to handle. Save is atomic: the document is
// written to a temp file in the same directory and renamed into place, so a
// crash mid-write cannot leave a truncated session behind.
type Store struct {
	path string
	log  zerolog.Logger
}

// NewStore creates a Store persisting to the given file path.
func NewStore(path string, log zerolog.Logger) *Store {
	return &Store{path: path, log: log}
}

// Path returns the session file location.
func (st *Store) Path() string {
	return st.path
}

// Load reads the persisted session. Returns nil if the file is absent,
// unreadable or malformed.
func (st *Store) Load() *Session {
	data, err := os.ReadFile(st.path)
	if err != nil {
		if !os.IsNotExist(err) {
			st.log.Warn().Err(err).Str("path", st.path).Msg("session file unreadable")
		}
		return nil
	}

	s, err := decodeSession(data)
	if err != nil {
		st.log.Warn().Err(err).Str("path", st.path).Msg("session file malformed")
		return nil
	}

	if s.DisplayName != "" {
		st.log.Debug().
			Str("account", s.DisplayName).
			Str("account_id", truncateID(s.AccountID)).
			Dur("expires_in", s.TimeUntilExpiry(time.Now())).
			Msg("session loaded")
	}
	return s
}

// Save atomically persists the session.
func (st *Store) Save(s *Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(st.path), 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(st.path), ".session-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, st.path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}

	st.log.Debug().Str("path", st.path).Str("account", s.DisplayName).Msg("session saved")
	return nil
}

// Clear deletes the persisted session, if any.
func (st *Store) Clear() error {
	err := os.Remove(st.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// legacyCookie is one entry of the legacy cookie-array session format that
// earlier releases persisted directly from the automation layer.
type legacyCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func decodeSession(data []byte) (*Session, error) {
	// The legacy format stores "cookies" as an array of {name,value} objects
	// instead of a map. Probe for it first and convert.
	var probe struct {
		Cookies json.RawMessage `json:"cookies"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}
	if len(probe.Cookies) > 0 && probe.Cookies[0] == '[' {
		return decodeLegacySession(probe.Cookies)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func decodeLegacySession(raw json.RawMessage) (*Session, error) {
	var entries []legacyCookie
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}

	cookies := make(map[string]string, len(entries))
	for _, c := range entries {
		cookies[c.Name] = c.Value
	}

	if token, ok := cookies[CookieAccessToken]; ok {
		if s, err := FromAccessToken(token); err == nil {
			s.Cookies = cookies
			return s, nil
		}
	}
	return &Session{Cookies: cookies}, nil
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "..."
}
