// Package models holds the wire types exchanged with an Emby or Jellyfin
// server. Field names follow the server's PascalCase JSON.
package models

import (
	"encoding/json"
	"strings"
)

// Wildcard matches every library or every user in a LibraryKey.
const Wildcard = "*"

// ServerIdentity describes the server answering on the configured address.
// It is fetched on every connect and replaced wholesale.
type ServerIdentity struct {
	ID              string `json:"Id"`
	ServerName      string `json:"ServerName"`
	Version         string `json:"Version"`
	OperatingSystem string `json:"OperatingSystem"`
	LocalAddress    string `json:"LocalAddress,omitempty"`

	// Ping is the raw body of the ping endpoint; its prefix selects the dialect.
	Ping    string `json:"-"`
	Dialect string `json:"-"`
}

// SessionKey is the composite identity of a session.
type SessionKey struct {
	DeviceID string
	Client   string
}

func (k SessionKey) String() string { return k.DeviceID + "-" + k.Client }

// Session is one remote playback client as reported by the server.
type Session struct {
	ID                    string          `json:"Id"`
	UserID                string          `json:"UserId,omitempty"`
	UserName              string          `json:"UserName,omitempty"`
	Client                string          `json:"Client"`
	DeviceName            string          `json:"DeviceName,omitempty"`
	DeviceID              string          `json:"DeviceId"`
	ApplicationVersion    string          `json:"ApplicationVersion,omitempty"`
	RemoteEndPoint        string          `json:"RemoteEndPoint,omitempty"`
	LastActivityDate      string          `json:"LastActivityDate,omitempty"`
	SupportsRemoteControl bool            `json:"SupportsRemoteControl"`
	SupportsMediaControl  bool            `json:"SupportsMediaControl"`
	SupportedCommands     []string        `json:"SupportedCommands,omitempty"`
	PlayableMediaTypes    []string        `json:"PlayableMediaTypes,omitempty"`
	IsActive              bool            `json:"IsActive"`
	AppIconURL            string          `json:"AppIconUrl,omitempty"`
	PlaylistIndex         int             `json:"PlaylistIndex"`
	PlaylistLength        int             `json:"PlaylistLength"`
	PlayState             *PlayState      `json:"PlayState,omitempty"`
	NowPlayingItem        *NowPlayingItem `json:"NowPlayingItem,omitempty"`
}

// Key returns the session's composite identity.
func (s Session) Key() SessionKey {
	return SessionKey{DeviceID: s.DeviceID, Client: s.Client}
}

// IsWeb reports whether the session belongs to a browser client.
func (s Session) IsWeb() bool {
	return strings.Contains(strings.ToLower(s.Client), " web")
}

// IsMobile reports whether the session belongs to an Android or iOS client.
func (s Session) IsMobile() bool {
	c := strings.ToLower(s.Client)
	return strings.Contains(c, " android") || strings.Contains(c, " ios")
}

// IsDLNA reports whether the session is a DLNA renderer.
func (s Session) IsDLNA() bool {
	return strings.Contains(strings.ToLower(s.Client), "dlna")
}

// PlayState is the transport state of a session.
type PlayState struct {
	PositionTicks int64  `json:"PositionTicks"`
	CanSeek       bool   `json:"CanSeek"`
	IsPaused      bool   `json:"IsPaused"`
	IsMuted       bool   `json:"IsMuted"`
	VolumeLevel   int    `json:"VolumeLevel"`
	RepeatMode    string `json:"RepeatMode,omitempty"`
	MediaSourceID string `json:"MediaSourceId,omitempty"`
	PlayMethod    string `json:"PlayMethod,omitempty"`
}

// NowPlayingItem is the projection of the item a session is playing. Only Id
// is authoritative; the rest is used for display and artwork.
type NowPlayingItem struct {
	Item
}

// Item is a library item as returned by item queries.
type Item struct {
	ID                       string            `json:"Id"`
	Name                     string            `json:"Name,omitempty"`
	Type                     string            `json:"Type,omitempty"`
	MediaType                string            `json:"MediaType,omitempty"`
	CollectionType           string            `json:"CollectionType,omitempty"`
	RunTimeTicks             int64             `json:"RunTimeTicks,omitempty"`
	DateCreated              string            `json:"DateCreated,omitempty"`
	IsFolder                 bool              `json:"IsFolder,omitempty"`
	ParentID                 string            `json:"ParentId,omitempty"`
	SeriesID                 string            `json:"SeriesId,omitempty"`
	SeriesName               string            `json:"SeriesName,omitempty"`
	SeasonName               string            `json:"SeasonName,omitempty"`
	Album                    string            `json:"Album,omitempty"`
	AlbumID                  string            `json:"AlbumId,omitempty"`
	AlbumArtist              string            `json:"AlbumArtist,omitempty"`
	Artists                  []string          `json:"Artists,omitempty"`
	IndexNumber              int               `json:"IndexNumber,omitempty"`
	ChannelID                string            `json:"ChannelId,omitempty"`
	ImageTags                map[string]string `json:"ImageTags,omitempty"`
	BackdropImageTags        []string          `json:"BackdropImageTags,omitempty"`
	ScreenshotImageTags      []string          `json:"ScreenshotImageTags,omitempty"`
	ParentBackdropItemID     string            `json:"ParentBackdropItemId,omitempty"`
	ParentBackdropImageTags  []string          `json:"ParentBackdropImageTags,omitempty"`
	ParentThumbItemID        string            `json:"ParentThumbItemId,omitempty"`
	ParentThumbImageTag      string            `json:"ParentThumbImageTag,omitempty"`
	ParentArtItemID          string            `json:"ParentArtItemId,omitempty"`
	ParentArtImageTag        string            `json:"ParentArtImageTag,omitempty"`
	ParentPrimaryImageItemID string            `json:"ParentPrimaryImageItemId,omitempty"`
	ParentPrimaryImageTag    string            `json:"ParentPrimaryImageTag,omitempty"`
	ParentLogoItemID         string            `json:"ParentLogoItemId,omitempty"`
	ParentLogoImageTag       string            `json:"ParentLogoImageTag,omitempty"`
	SeriesThumbImageTag      string            `json:"SeriesThumbImageTag,omitempty"`
	SeriesPrimaryImageTag    string            `json:"SeriesPrimaryImageTag,omitempty"`
	AlbumPrimaryImageTag     string            `json:"AlbumPrimaryImageTag,omitempty"`
	ChannelPrimaryImageTag   string            `json:"ChannelPrimaryImageTag,omitempty"`
}

// User is a server account.
type User struct {
	ID     string `json:"Id"`
	Name   string `json:"Name"`
	Policy Policy `json:"Policy"`
}

// Policy holds the permissions relevant to impersonation.
type Policy struct {
	IsAdministrator  bool `json:"IsAdministrator"`
	IsDisabled       bool `json:"IsDisabled"`
	EnableAllFolders bool `json:"EnableAllFolders"`
}

// LibraryKey identifies one cached "latest items" query.
type LibraryKey struct {
	LibraryID string
	UserID    string
	ItemType  string
}

func (k LibraryKey) String() string {
	return k.LibraryID + "/" + k.UserID + "/" + k.ItemType
}

// MatchesLibrary reports whether a change to any of libraryIDs affects k.
func (k LibraryKey) MatchesLibrary(libraryIDs []string) bool {
	if k.LibraryID == Wildcard {
		return true
	}
	for _, id := range libraryIDs {
		if id == k.LibraryID {
			return true
		}
	}
	return false
}

// LibraryResult is the result of an item query.
type LibraryResult struct {
	Items            []Item `json:"Items"`
	TotalRecordCount int    `json:"TotalRecordCount"`

	// Raw is the response body the result was decoded from.
	Raw json.RawMessage `json:"-"`
}

// ActivityLogEntry is one server activity log record.
type ActivityLogEntry struct {
	ID            int64  `json:"Id"`
	Name          string `json:"Name"`
	Type          string `json:"Type,omitempty"`
	Date          string `json:"Date"`
	Severity      string `json:"Severity,omitempty"`
	UserID        string `json:"UserId,omitempty"`
	ItemID        string `json:"ItemId,omitempty"`
	ShortOverview string `json:"ShortOverview,omitempty"`
	Overview      string `json:"Overview,omitempty"`
}

// ActivityLogResult is the activity log endpoint's response.
type ActivityLogResult struct {
	Items            []ActivityLogEntry `json:"Items"`
	TotalRecordCount int                `json:"TotalRecordCount"`
}

// AuthResult is the response of an authenticate-by-name call.
type AuthResult struct {
	AccessToken string `json:"AccessToken"`
	User        User   `json:"User"`
	ServerID    string `json:"ServerId,omitempty"`
}
