// Package model holds the plain data types shared by the ingestor,
// scheduler, downloader and policy packages: channels, messages, media
// descriptors, tasks and chunks.
package model

import "fmt"

// MediaKind classifies a media descriptor into one of the four buckets the
// filter and path policies operate on.
type MediaKind string

const (
	KindPhoto MediaKind = "photo"
	KindVideo MediaKind = "video"
	KindAudio MediaKind = "audio"
	KindFile  MediaKind = "file"
)

// AllMediaKinds is the fixed, ordered set the dispatcher invokes the
// downloader for, one message at a time.
var AllMediaKinds = []MediaKind{KindPhoto, KindVideo, KindAudio, KindFile}

// Channel is the immutable-after-creation descriptor of a Telegram
// broadcast or group surface. "me" is the reserved id for the user's own
// saved-messages sink.
type Channel struct {
	ID         string
	AccessHash int64
	Title      string
	IsForum    bool
	Topics     []Topic
}

// Topic is a sub-thread of a forum-enabled channel.
type Topic struct {
	ID    string
	Title string
}

// PhotoSize is one entry of a Photo's sizes[] — either a named size or the
// progressive variant, which carries multiple byte-size candidates.
type PhotoSize struct {
	Type           string
	Size           int64
	ProgressiveLen []int64 // non-nil only for PhotoSizeProgressive
}

// Photo is the Photo variant of Media.
type Photo struct {
	ID            int64
	AccessHash    int64
	FileReference []byte
	DCID          int
	Sizes         []PhotoSize
}

// largest returns the PhotoSize with the greatest byte size, and false
// when the photo has no sizes.
func (p Photo) largest() (PhotoSize, bool) {
	if len(p.Sizes) == 0 {
		return PhotoSize{}, false
	}
	best := p.Sizes[0]
	bestSize := best.size()
	for _, s := range p.Sizes[1:] {
		if sz := s.size(); sz > bestSize {
			best, bestSize = s, sz
		}
	}
	return best, true
}

func (s PhotoSize) size() int64 {
	if len(s.ProgressiveLen) > 0 {
		max := s.ProgressiveLen[0]
		for _, v := range s.ProgressiveLen[1:] {
			if v > max {
				max = v
			}
		}
		return max
	}
	return s.Size
}

// ThumbSize returns the selector the RPC facade needs to request this
// photo's largest size: the size's Type string, or empty if the largest
// entry is a PhotoSizeProgressive.
func (p Photo) ThumbSize() string {
	best, ok := p.largest()
	if !ok {
		return ""
	}
	if len(best.ProgressiveLen) > 0 {
		return ""
	}
	return best.Type
}

// SizeBytes returns the byte size of the photo's largest size, and false
// if no size is known.
func (p Photo) SizeBytes() (int64, bool) {
	best, ok := p.largest()
	if !ok {
		return 0, false
	}
	return best.size(), true
}

// DocumentAttribute is the subset of document attributes the engine reads.
type DocumentAttribute struct {
	Filename string
	IsAudio  bool
	IsVideo  bool
}

// Document is the Document variant of Media.
type Document struct {
	ID            int64
	AccessHash    int64
	FileReference []byte
	DCID          int
	Size          int64
	MimeType      string
	Attributes    []DocumentAttribute
}

// RawFileName returns the filename attribute's value, if present.
func (d Document) RawFileName() (string, bool) {
	for _, a := range d.Attributes {
		if a.Filename != "" {
			return a.Filename, true
		}
	}
	return "", false
}

// Kind classifies the document: video or audio if the corresponding
// attribute is present, else "file" if its only attribute is a filename,
// else "file" by default (anything not recognized as photo/video/audio
// falls to the generic file bucket).
func (d Document) Kind() MediaKind {
	for _, a := range d.Attributes {
		if a.IsVideo {
			return KindVideo
		}
		if a.IsAudio {
			return KindAudio
		}
	}
	return KindFile
}

// Media is a tagged variant: exactly one of Photo/Document is set, or
// neither for a message carrying no media.
type Media struct {
	Photo    *Photo
	Document *Document
}

// None reports whether the message carries no media at all.
func (m Media) None() bool {
	return m.Photo == nil && m.Document == nil
}

// Kind classifies the media into the filter/path bucket.
func (m Media) Kind() (MediaKind, bool) {
	switch {
	case m.Photo != nil:
		return KindPhoto, true
	case m.Document != nil:
		return m.Document.Kind(), true
	default:
		return "", false
	}
}

// SizeBytes returns the media's size, or false if it cannot be determined
// (callers must then default to "accept" per the filter policy).
func (m Media) SizeBytes() (int64, bool) {
	switch {
	case m.Photo != nil:
		return m.Photo.SizeBytes()
	case m.Document != nil:
		return m.Document.Size, true
	default:
		return 0, false
	}
}

// DCID returns the data center the media's bytes live on.
func (m Media) DCID() int {
	switch {
	case m.Photo != nil:
		return m.Photo.DCID
	case m.Document != nil:
		return m.Document.DCID
	default:
		return 0
	}
}

// RawFileName returns the document's filename attribute, if any.
func (m Media) RawFileName() (string, bool) {
	if m.Document != nil {
		return m.Document.RawFileName()
	}
	return "", false
}

// Message is the subset of a Telegram message the engine acts on.
type Message struct {
	ChannelID  string
	MessageID  int
	GroupedID  string
	TopicID    string
	Media      Media
	Date       int64
	IsComment  bool
	IsService  bool // non-media service message — always a skip condition
	ReplyCount int
	ReplyChan  string // replies.channelId, empty if no reply thread
}

// ChannelState is the persistent per-channel checkpoint record.
type ChannelState struct {
	ChannelID     string
	LastID        int
	MediasAllowed map[MediaKind]bool
	Downloading   bool
	LastDownload  int64 // unix seconds, zero value sorts first (oldest-first fairness)
}

// Allows reports whether kind is in the channel's allowed set.
func (s ChannelState) Allows(kind MediaKind) bool {
	if s.MediasAllowed == nil {
		return true
	}
	return s.MediasAllowed[kind]
}

// Task is the unit of work the Ingestor produces and the Scheduler
// consumes: one message paired with the media kinds still to attempt.
type Task struct {
	ChannelID     string
	Message       Message
	AllowedKinds  []MediaKind
}

func (t Task) String() string {
	return fmt.Sprintf("task(channel=%s msg=%d kinds=%v)", t.ChannelID, t.Message.MessageID, t.AllowedKinds)
}

// Progress is the wire shape of a progress event, emitted after every
// successful chunk write.
type Progress struct {
	ChannelID       string `json:"channelId"`
	FileName        string `json:"fileName"`
	DownloadedBytes int64  `json:"downloadedBytes"`
	TotalBytes      int64  `json:"totalBytes"`
}
