package soulshare

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/soulshare/downloads"
	"github.com/opd-ai/soulshare/event"
	"github.com/opd-ai/soulshare/network"
	"github.com/opd-ai/soulshare/shares"
	"github.com/opd-ai/soulshare/transfer"
	"github.com/opd-ai/soulshare/uploads"
)

var (
	// ErrNoUsername is returned when Options.Username is empty.
	ErrNoUsername = errors.New("username is required")

	// ErrNoMessenger is returned when Options.Net is nil.
	ErrNoMessenger = errors.New("network messenger is required")

	// ErrNoSharesIndex is returned when Options.Shares is nil.
	ErrNoSharesIndex = errors.New("shares index is required")

	// ErrNoBuddyList is returned when Options.Buddies is nil.
	ErrNoBuddyList = errors.New("buddy list is required")
)

// Options configures a new Client. Net, Shares and Buddies are the
// collaborator implementations supplied by the embedding application.
type Options struct {
	// Username is our own login name.
	Username string

	// DataDir holds the persisted transfer lists and the ban list.
	DataDir string

	Downloads *downloads.Config
	Uploads   *uploads.Config

	Net     network.Messenger
	Shares  shares.Index
	Buddies shares.BuddyList
}

// NewOptions returns options with sensible defaults: downloads land under
// dataDir and two upload slots are served.
func NewOptions(username, dataDir string) *Options {
	return &Options{
		Username: username,
		DataDir:  dataDir,
		Downloads: &downloads.Config{
			DownloadFolder:   filepath.Join(dataDir, "downloads"),
			IncompleteFolder: filepath.Join(dataDir, "incomplete"),
			ReceiveFolder:    filepath.Join(dataDir, "received"),
			EnableFilters:    false,
		},
		Uploads: &uploads.Config{
			UseUploadSlots: true,
			UploadSlots:    2,
		},
	}
}

// Client wires the transfer core together: the event bus, the session
// presence tracker, the ban list, and the download and upload managers.
type Client struct {
	bus       *event.Bus
	session   *Session
	banlist   *BanList
	downloads *downloads.Manager
	uploads   *uploads.Manager
}

// New creates a Client from options and loads its persisted state. The
// returned client is inert until Run is called.
func New(options *Options) (*Client, error) {
	switch {
	case options.Username == "":
		return nil, ErrNoUsername
	case options.Net == nil:
		return nil, ErrNoMessenger
	case options.Shares == nil:
		return nil, ErrNoSharesIndex
	case options.Buddies == nil:
		return nil, ErrNoBuddyList
	}

	bus := event.NewBus()

	// The session subscribes first so presence is current when the
	// managers handle the same events.
	session := newSession(options.Username, bus)
	banlist := NewBanList(filepath.Join(options.DataDir, "banlist.json"))

	c := &Client{
		bus:     bus,
		session: session,
		banlist: banlist,
		downloads: downloads.New(options.Downloads, downloads.Deps{
			Bus:      bus,
			Net:      options.Net,
			Shares:   options.Shares,
			Buddies:  options.Buddies,
			Presence: session,
			Store:    transfer.NewStore(filepath.Join(options.DataDir, "downloads.json")),
		}),
		uploads: uploads.New(options.Uploads, uploads.Deps{
			Bus:      bus,
			Net:      options.Net,
			Shares:   options.Shares,
			Buddies:  options.Buddies,
			Presence: session,
			Filter:   banlist,
			Store:    transfer.NewStore(filepath.Join(options.DataDir, "uploads.json")),
		}),
	}

	c.downloads.Start()
	c.uploads.Start()

	logrus.WithFields(logrus.Fields{
		"username": options.Username,
		"data_dir": options.DataDir,
	}).Debug("Transfer core initialized")

	return c, nil
}

// Run drives the event loop until the context is cancelled. Transfer lists
// are saved on the way out.
func (c *Client) Run(ctx context.Context) {
	c.bus.Run(ctx)

	if err := c.Save(); err != nil {
		logrus.WithField("error", err).Error("Failed to save transfer lists")
	}
}

// Events returns the client's event bus. The transport layer posts inbound
// traffic and worker reports onto it.
func (c *Client) Events() *event.Bus {
	return c.bus
}

// Invoke runs fn on the event loop. All manager methods must be called
// through it once the loop is running.
func (c *Client) Invoke(fn func()) {
	c.bus.Invoke(fn)
}

// Downloads returns the download manager.
func (c *Client) Downloads() *downloads.Manager {
	return c.downloads
}

// Uploads returns the upload manager.
func (c *Client) Uploads() *uploads.Manager {
	return c.uploads
}

// Session returns the presence tracker.
func (c *Client) Session() *Session {
	return c.session
}

// BanList returns the persistent network ban list.
func (c *Client) BanList() *BanList {
	return c.banlist
}

// Save writes both transfer lists to disk.
func (c *Client) Save() error {
	return errors.Join(
		c.downloads.SaveTransfers(),
		c.uploads.SaveTransfers(),
	)
}
