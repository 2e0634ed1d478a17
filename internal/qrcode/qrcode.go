// Package qrcode renders WhatsApp pairing codes for browsers and terminals.
package qrcode

import (
	"errors"
	"fmt"
	"io"

	"github.com/mdp/qrterminal/v3"
	"rsc.io/qr"
)

const pngScale = 8

// PNG encodes code as a PNG image.
func PNG(code string) ([]byte, error) {
	if code == "" {
		return nil, errors.New("empty qr code")
	}
	c, err := qr.Encode(code, qr.M)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	c.Scale = pngScale
	return c.PNG(), nil
}

// PrintTerminal draws code to w using half-block characters.
func PrintTerminal(w io.Writer, code string) {
	qrterminal.GenerateHalfBlock(code, qrterminal.L, w)
}
