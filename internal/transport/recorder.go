package transport

import (
	"context"
	"encoding/base64"
	"sync"

	"github.com/pitabwire/operations/model"
)

// Notification is a notification raised during a remote run.
type Notification struct {
	Level model.NotificationLevel `json:"level"`
	Text  string                  `json:"text"`
}

// File is a downloaded file returned to the remote caller.
type File struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType,omitempty"`
	Content     string `json:"content"`
	Size        int    `json:"size"`
}

// URLEffect is a URL the client should open or redirect to.
type URLEffect struct {
	URL      string `json:"url"`
	Redirect bool   `json:"redirect,omitempty"`
}

// effectRecorder collects the direct effects of one gateway run so they can
// be returned in the response body. It implements model.Notifier,
// model.FileSaver and model.Browser.
type effectRecorder struct {
	mu            sync.Mutex
	notifications []Notification
	files         []File
	urls          []URLEffect
}

func (r *effectRecorder) add(level model.NotificationLevel, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, Notification{Level: level, Text: text})
}

func (r *effectRecorder) Info(_ context.Context, text string) {
	r.add(model.LevelInformation, text)
}

func (r *effectRecorder) Warning(_ context.Context, text string) {
	r.add(model.LevelWarning, text)
}

func (r *effectRecorder) Error(_ context.Context, text string) {
	r.add(model.LevelError, text)
}

func (r *effectRecorder) Save(_ context.Context, blob []byte, filename, contentType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = append(r.files, fileOf(blob, filename, contentType))
	return nil
}

func fileOf(blob []byte, filename, contentType string) File {
	return File{
		Filename:    filename,
		ContentType: contentType,
		Content:     base64.StdEncoding.EncodeToString(blob),
		Size:        len(blob),
	}
}

func (r *effectRecorder) Open(_ context.Context, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append(r.urls, URLEffect{URL: url})
	return nil
}

func (r *effectRecorder) Redirect(_ context.Context, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append(r.urls, URLEffect{URL: url, Redirect: true})
	return nil
}

// effects returns copies of everything recorded so far.
func (r *effectRecorder) effects() ([]Notification, []File, []URLEffect) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.notifications...),
		append([]File(nil), r.files...),
		append([]URLEffect(nil), r.urls...)
}
