package domain

// InboundMessage is one message received from MAX, handed to the relay once.
type InboundMessage struct {
	SenderID    int64
	ChatID      int64
	MessageID   int64
	Text        string
	Attachments []Attachment
}

// Attachment is a closed set: Photo, Video, File and Unsupported are the only
// implementations. Code that switches on an Attachment should cover all four.
type Attachment interface {
	// Kind is a short lowercase name used in logs and metric labels.
	Kind() string
	attachment()
}

// Photo is retrieved directly from its URL.
type Photo struct {
	URL string
}

// Video needs a lookup keyed by (chat, message, video) before download.
type Video struct {
	VideoID int64
}

// File needs a lookup keyed by (chat, message, file) before download.
type File struct {
	FileID int64
}

// Unsupported carries the wire type name of an attachment the relay does not forward.
type Unsupported struct {
	TypeName string
}

func (Photo) Kind() string       { return "photo" }
func (Video) Kind() string       { return "video" }
func (File) Kind() string        { return "file" }
func (Unsupported) Kind() string { return "unsupported" }

func (Photo) attachment()       {}
func (Video) attachment()       {}
func (File) attachment()        {}
func (Unsupported) attachment() {}

// Payload is a downloaded attachment body ready for upload.
type Payload struct {
	Bytes    []byte
	Filename string
}

// User is a MAX profile. Names holds the profile's name entries in server order.
type User struct {
	ID    int64
	Names []string
}

// DisplayName returns the first non-empty name, or "" if there is none.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	for _, n := range u.Names {
		if n != "" {
			return n
		}
	}
	return ""
}
