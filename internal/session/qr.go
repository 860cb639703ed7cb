package session

import (
	"encoding/base64"
	"time"

	qrcode "github.com/skip2/go-qrcode"
)

// Artifact is the linking code shown to the user while a device is
// being linked. DataURL is a PNG rendering suitable for an <img> tag; it
// is empty when rendering failed.
type Artifact struct {
	Code     string    `json:"code"`
	DataURL  string    `json:"dataUrl,omitempty"`
	IssuedAt time.Time `json:"issuedAt"`
}

const qrSize = 256

func newArtifact(code string) *Artifact {
	a := &Artifact{Code: code, IssuedAt: time.Now().UTC()}
	if png, err := qrcode.Encode(code, qrcode.Medium, qrSize); err == nil {
		a.DataURL = "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	}
	return a
}
