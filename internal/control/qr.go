package control

import (
	"io"
	"net/url"

	"github.com/mdp/qrterminal/v3"
)

// URL returns the WebSocket address of the control endpoint on addr, with
// token attached when non-empty.
func URL(addr, token string) string {
	u := url.URL{Scheme: "ws", Host: addr, Path: Path}
	if token != "" {
		u.RawQuery = url.Values{"token": []string{token}}.Encode()
	}
	return u.String()
}

// RenderQR draws data as a QR code using terminal block characters.
func RenderQR(w io.Writer, data string) {
	qrterminal.GenerateWithConfig(data, qrterminal.Config{
		Level:     qrterminal.M,
		Writer:    w,
		BlackChar: qrterminal.BLACK,
		WhiteChar: qrterminal.WHITE,
		QuietZone: 2,
	})
}
