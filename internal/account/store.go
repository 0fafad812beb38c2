package account

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"DiceSentinel/internal/model"
)

var (
	ErrEmptyName = errors.New("account name is empty")
	ErrDuplicate = errors.New("account already exists")
	ErrNotFound  = errors.New("account not found")
)

// PersistenceError reports that the in-memory collection could not be
// written to disk. The in-memory state stays authoritative.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist accounts to %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Store holds the account collection with concurrency safety and writes
// the whole collection back to disk after every mutation.
type Store struct {
	mu       sync.Mutex
	accounts []model.Account
	filePath string
}

// NewStore loads the collection from filePath.
func NewStore(filePath string) *Store {
	accounts := Load(filePath)
	log.Printf("[INFO] loaded %d account(s) from %s", len(accounts), filePath)
	return &Store{accounts: accounts, filePath: filePath}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.filePath }

// List returns a copy of all accounts in file order.
func (s *Store) List() []model.Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Account, len(s.accounts))
	for i, a := range s.accounts {
		out[i] = a.Clone()
	}
	return out
}

// Get returns a copy of the named account.
func (s *Store) Get(name string) (model.Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexLocked(name); i >= 0 {
		return s.accounts[i].Clone(), true
	}
	return model.Account{}, false
}

// Add appends a new account and persists the collection.
func (s *Store) Add(name string, cred model.Credential) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexLocked(name) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	s.accounts = append(s.accounts, model.Account{Name: name, Cookie: cred})
	return s.saveLocked()
}

// SetCookie replaces the session cookies of an account and persists.
func (s *Store) SetCookie(name string, cred model.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(name)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	s.accounts[i].Cookie = cred
	return s.saveLocked()
}

// SetLastResult stores the latest result of an account and persists the
// whole collection once. On a write failure the in-memory update is kept
// and a *PersistenceError is returned.
func (s *Store) SetLastResult(name string, res model.ResultRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(name)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	r := res
	s.accounts[i].Stats = &r
	return s.saveLocked()
}

func (s *Store) indexLocked(name string) int {
	for i, a := range s.accounts {
		if a.Name == name {
			return i
		}
	}
	return -1
}

func (s *Store) saveLocked() error {
	if err := Save(s.filePath, s.accounts); err != nil {
		log.Printf("[ERROR] failed to save accounts: %v", err)
		return &PersistenceError{Path: s.filePath, Err: err}
	}
	return nil
}
