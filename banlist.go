package soulshare

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/sirupsen/logrus"
)

// BanList is a persistent set of usernames banned at the connection level.
// The upload manager feeds it through its NetworkFilter dependency; the
// transport layer consults it before accepting peer connections.
type BanList struct {
	path  string
	users map[string]struct{}
}

// NewBanList creates a ban list persisted at the given path and loads any
// existing entries.
func NewBanList(path string) *BanList {
	b := &BanList{
		path:  path,
		users: make(map[string]struct{}),
	}

	if err := b.load(); err != nil {
		logrus.WithFields(logrus.Fields{
			"path":  path,
			"error": err,
		}).Error("Failed to load ban list")
	}

	return b
}

// BanUser adds a user to the ban list and persists it.
func (b *BanList) BanUser(username string) {
	if _, banned := b.users[username]; banned {
		return
	}

	b.users[username] = struct{}{}

	logrus.WithField("username", username).Info("Banned user")

	if err := b.save(); err != nil {
		logrus.WithFields(logrus.Fields{
			"path":  b.path,
			"error": err,
		}).Error("Failed to save ban list")
	}
}

// UnbanUser removes a user from the ban list and persists it.
func (b *BanList) UnbanUser(username string) {
	if _, banned := b.users[username]; !banned {
		return
	}

	delete(b.users, username)

	if err := b.save(); err != nil {
		logrus.WithFields(logrus.Fields{
			"path":  b.path,
			"error": err,
		}).Error("Failed to save ban list")
	}
}

// IsBanned reports whether the user is banned.
func (b *BanList) IsBanned(username string) bool {
	_, banned := b.users[username]
	return banned
}

// Users returns the banned usernames in sorted order.
func (b *BanList) Users() []string {
	users := make([]string, 0, len(b.users))
	for username := range b.users {
		users = append(users, username)
	}

	slices.Sort(users)
	return users
}

func (b *BanList) load() error {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read ban list: %w", err)
	}

	var users []string
	if err := json.Unmarshal(data, &users); err != nil {
		return fmt.Errorf("parse ban list: %w", err)
	}

	for _, username := range users {
		b.users[username] = struct{}{}
	}

	return nil
}

func (b *BanList) save() error {
	data, err := json.Marshal(b.Users())
	if err != nil {
		return fmt.Errorf("encode ban list: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("create ban list folder: %w", err)
	}

	tmpPath := b.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write ban list: %w", err)
	}

	if err := os.Rename(tmpPath, b.path); err != nil {
		return fmt.Errorf("replace ban list: %w", err)
	}

	return nil
}
