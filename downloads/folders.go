package downloads

import (
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/opd-ai/soulshare/event"
	"github.com/opd-ai/soulshare/protocol"
)

// largeFolderThreshold is the number of files above which a folder download
// requires explicit confirmation before it is enqueued.
const largeFolderThreshold = 100

// basenameCollator orders folder listings the way a user expects, not by
// raw code points.
var basenameCollator = collate.New(language.Und, collate.Loose)

// EnqueueFolder requests the contents of a remote folder and remembers the
// destination chosen for it. Files are enqueued when the listing arrives.
func (m *Manager) EnqueueFolder(username, folderPath, downloadFolderPath string) {
	if m.requestedFolders[username] == nil {
		m.requestedFolders[username] = make(map[string]string)
	}
	m.requestedFolders[username][folderPath] = downloadFolderPath

	m.requestedFolderToken = protocol.IncrementToken(m.requestedFolderToken)

	m.net.SendToPeer(username, protocol.FolderContentsRequest{
		Directory: folderPath,
		Token:     m.requestedFolderToken,
	})
}

// onFolderContentsResponse enqueues the files of a requested folder listing.
// Listings above the confirmation threshold are deferred to the caller
// unless the response bypasses the check.
func (m *Manager) onFolderContentsResponse(e event.Event) {
	msg := e.(event.FolderContentsResponse)
	username := msg.Username

	if len(m.requestedFolders[username]) == 0 {
		return
	}

	for folderPath, files := range msg.Msg.Folders {
		if _, requested := m.requestedFolders[username][folderPath]; !requested {
			continue
		}

		logrus.WithField("username", username).Debug("Received response for folder content request")

		numFiles := len(files)

		if !msg.BypassCheck && numFiles > largeFolderThreshold {
			m.bus.Emit(event.LargeFolderDownload{
				Username:   username,
				FolderPath: folderPath,
				NumFiles:   numFiles,
				Response:   msg,
			})
			return
		}

		destFolderPath := m.FolderDestination(username, folderPath, "", "")
		delete(m.requestedFolders[username], folderPath)

		if numFiles > 1 {
			files = append([]protocol.FolderEntry(nil), files...)
			basenameCollator.Sort(folderEntriesByName(files))
		}

		logrus.WithFields(logrus.Fields{
			"folder":      folderPath,
			"username":    username,
			"destination": destFolderPath,
		}).Debug("Attempting to download files in folder")

		for _, file := range files {
			virtualPath := strings.TrimRight(folderPath, "\\") + "\\" + file.Name

			m.enqueueDownload(username, virtualPath, destFolderPath, file.Size, false)
		}
	}
}

// folderEntriesByName adapts a listing to the collator's sort interface.
type folderEntriesByName []protocol.FolderEntry

func (f folderEntriesByName) Len() int           { return len(f) }
func (f folderEntriesByName) Swap(i, j int)      { f[i], f[j] = f[j], f[i] }
func (f folderEntriesByName) Bytes(i int) []byte { return []byte(f[i].Name) }
