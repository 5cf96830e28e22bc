package main

import (
	"fmt"
	"html"
	"math/rand/v2"
	"strings"
)

const (
	captchaWidth  = 120
	captchaHeight = 40
)

// svgRenderer draws captcha text as an SVG with jittered glyphs and noise
// lines.
type svgRenderer struct {
	noiseLines int
}

func (r svgRenderer) Render(text string) ([]byte, string, error) {
	if text == "" {
		return nil, "", fmt.Errorf("render captcha: empty text")
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`,
		captchaWidth, captchaHeight, captchaWidth, captchaHeight)
	fmt.Fprintf(&b, `<rect width="100%%" height="100%%" fill="#f4f4f4"/>`)

	for i := 0; i < r.noiseLines; i++ {
		fmt.Fprintf(&b, `<line x1="%d" y1="%d" x2="%d" y2="%d" stroke="#%06x" stroke-width="1"/>`,
			rand.IntN(captchaWidth), rand.IntN(captchaHeight),
			rand.IntN(captchaWidth), rand.IntN(captchaHeight),
			rand.IntN(0xaaaaaa))
	}

	step := captchaWidth / (len(text) + 1)
	for i, ch := range text {
		x := step*(i+1) - 6 + rand.IntN(5)
		y := 26 + rand.IntN(8)
		rotate := rand.IntN(41) - 20
		fmt.Fprintf(&b, `<text x="%d" y="%d" font-family="monospace" font-size="22" font-weight="bold" fill="#%06x" transform="rotate(%d %d %d)">%s</text>`,
			x, y, rand.IntN(0x666666), rotate, x, y, html.EscapeString(string(ch)))
	}

	b.WriteString(`</svg>`)
	return []byte(b.String()), "image/svg+xml", nil
}
