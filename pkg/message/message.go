// Package message decodes push channel frames into typed messages and
// encodes the frames the connector sends.
//
// Every frame is a JSON object {"MessageType": ..., "Data": ...}. Parse turns
// it into exactly one of the types below; types the connector does not model
// become Unknown.
package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/germanamz/mediahub/pkg/models"
)

// Message types known to the connector.
const (
	TypeSessions          = "Sessions"
	TypeKeepAlive         = "KeepAlive"
	TypeForceKeepAlive    = "ForceKeepAlive"
	TypeLibraryChanged    = "LibraryChanged"
	TypeActivityLogEntry  = "ActivityLogEntry"
	TypeScheduledTaskInfo = "ScheduledTaskInfo"
	TypeUserDataChanged   = "UserDataChanged"

	TypeSessionsStart           = "SessionsStart"
	TypeActivityLogEntryStart   = "ActivityLogEntryStart"
	TypeScheduledTasksInfoStart = "ScheduledTasksInfoStart"
)

// ErrMalformed is returned by Parse for frames that are not valid envelopes
// or whose data does not match the declared type.
var ErrMalformed = errors.New("message: malformed frame")

// Message is one decoded inbound frame.
type Message interface {
	// Type returns the frame's MessageType.
	Type() string
}

// Sessions carries the full list of server sessions.
type Sessions struct {
	Sessions []models.Session
}

// KeepAlive is the server's answer to a keepalive.
type KeepAlive struct{}

// ForceKeepAlive announces the server's idle timeout. The connector must
// send keepalives at half that period.
type ForceKeepAlive struct {
	Timeout time.Duration
}

// LibraryChanged lists library folders and items touched by a change.
type LibraryChanged struct {
	CollectionFolders  []string `json:"CollectionFolders"`
	FoldersAddedTo     []string `json:"FoldersAddedTo"`
	FoldersRemovedFrom []string `json:"FoldersRemovedFrom"`
	ItemsAdded         []string `json:"ItemsAdded"`
	ItemsRemoved       []string `json:"ItemsRemoved"`
	ItemsUpdated       []string `json:"ItemsUpdated"`

	Raw json.RawMessage `json:"-"`
}

// ActivityLogEntry signals new activity log records. The records themselves
// are fetched over REST.
type ActivityLogEntry struct {
	Raw json.RawMessage
}

// ScheduledTaskInfo carries scheduled task progress.
type ScheduledTaskInfo struct {
	Raw json.RawMessage
}

// UserDataChanged reports per-user item state such as played or favourite.
type UserDataChanged struct {
	UserID       string            `json:"UserId"`
	UserDataList []json.RawMessage `json:"UserDataList"`

	Raw json.RawMessage `json:"-"`
}

// Unknown is any frame whose type is not modelled.
type Unknown struct {
	MessageType string
	Raw         json.RawMessage
}

func (Sessions) Type() string          { return TypeSessions }
func (KeepAlive) Type() string         { return TypeKeepAlive }
func (ForceKeepAlive) Type() string    { return TypeForceKeepAlive }
func (LibraryChanged) Type() string    { return TypeLibraryChanged }
func (ActivityLogEntry) Type() string  { return TypeActivityLogEntry }
func (ScheduledTaskInfo) Type() string { return TypeScheduledTaskInfo }
func (UserDataChanged) Type() string   { return TypeUserDataChanged }
func (u Unknown) Type() string         { return u.MessageType }

type envelope struct {
	MessageType string          `json:"MessageType"`
	Data        json.RawMessage `json:"Data,omitempty"`
}

// Parse decodes one text frame.
func Parse(frame []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if env.MessageType == "" {
		return nil, fmt.Errorf("%w: missing MessageType", ErrMalformed)
	}

	data := env.Data
	if isNull(data) {
		data = nil
	}

	switch env.MessageType {
	case TypeSessions:
		var m Sessions
		if data != nil {
			if err := json.Unmarshal(data, &m.Sessions); err != nil {
				return nil, malformed(env.MessageType, err)
			}
		}
		return m, nil

	case TypeKeepAlive:
		return KeepAlive{}, nil

	case TypeForceKeepAlive:
		secs, err := seconds(data)
		if err != nil {
			return nil, malformed(env.MessageType, err)
		}
		return ForceKeepAlive{Timeout: time.Duration(secs * float64(time.Second))}, nil

	case TypeLibraryChanged:
		var m LibraryChanged
		if data != nil {
			if err := json.Unmarshal(data, &m); err != nil {
				return nil, malformed(env.MessageType, err)
			}
		}
		m.Raw = data
		return m, nil

	case TypeActivityLogEntry:
		return ActivityLogEntry{Raw: data}, nil

	case TypeScheduledTaskInfo:
		return ScheduledTaskInfo{Raw: data}, nil

	case TypeUserDataChanged:
		var m UserDataChanged
		if data != nil {
			if err := json.Unmarshal(data, &m); err != nil {
				return nil, malformed(env.MessageType, err)
			}
		}
		m.Raw = data
		return m, nil
	}

	return Unknown{MessageType: env.MessageType, Raw: data}, nil
}

func malformed(typ string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrMalformed, typ, err)
}

func isNull(b json.RawMessage) bool {
	b = bytes.TrimSpace(b)
	return len(b) == 0 || bytes.Equal(b, []byte("null"))
}

// seconds reads a ForceKeepAlive payload, which is a number of seconds sent
// either as a JSON number or a numeric string.
func seconds(data json.RawMessage) (float64, error) {
	if data == nil {
		return 0, errors.New("missing timeout")
	}

	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		return positive(n)
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return 0, err
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	return positive(n)
}

func positive(n float64) (float64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("timeout must be positive, got %v", n)
	}
	return n, nil
}

// Encode renders an outbound frame. A nil data omits the Data field.
func Encode(messageType string, data any) ([]byte, error) {
	frame := struct {
		MessageType string `json:"MessageType"`
		Data        any    `json:"Data,omitempty"`
	}{messageType, data}

	return json.Marshal(frame)
}

// KeepAliveFrame is the frame sent to keep the channel open.
func KeepAliveFrame() []byte {
	b, _ := Encode(TypeKeepAlive, nil)
	return b
}

// Greeting returns the subscription frames sent right after connecting.
// Sessions are always requested; activity log and scheduled task streams
// only when asked for.
func Greeting(activityLog, tasks bool) [][]byte {
	start := func(typ, window string) []byte {
		b, _ := Encode(typ, window)
		return b
	}

	frames := [][]byte{start(TypeSessionsStart, "0,1500")}
	if activityLog {
		frames = append(frames, start(TypeActivityLogEntryStart, "0,1000"))
	}
	if tasks {
		frames = append(frames, start(TypeScheduledTasksInfoStart, "0,1500"))
	}
	return frames
}

// SnakeCase converts a message type to the name used on the event surface,
// e.g. "ScheduledTaskInfo" becomes "scheduled_task_info".
func SnakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			prevLower := i > 0 && !unicode.IsUpper(runes[i-1])
			nextLower := i > 0 && i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1])
			if prevLower || nextLower {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
