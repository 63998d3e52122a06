package media

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"image/color"
	"os"
	"strings"
	"sync"
	"unicode"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"

	"github.com/yungbote/kidslab-backend/internal/modules/experts"
	"github.com/yungbote/kidslab-backend/internal/platform/logger"
)

const avatarSize = 512

var fallbackAvatarColor = color.NRGBA{R: 0x9C, G: 0xA3, B: 0xAF, A: 0xFF}

// AvatarRenderer draws a circular initial avatar for personas without artwork.
type AvatarRenderer struct {
	log      *logger.Logger
	fontFace font.Face

	mu    sync.Mutex
	cache map[string][]byte
}

// NewAvatarRenderer loads fontPath, or the bundled Go Bold face when empty.
func NewAvatarRenderer(log *logger.Logger, fontPath string) (*AvatarRenderer, error) {
	serviceLog := log.With("service", "AvatarRenderer")
	raw := gobold.TTF
	if strings.TrimSpace(fontPath) != "" {
		b, err := os.ReadFile(fontPath)
		if err != nil {
			return nil, fmt.Errorf("read avatar font: %w", err)
		}
		raw = b
		serviceLog.Info("Loading avatar font", "font", fontPath)
	}
	parsed, err := truetype.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse avatar font: %w", err)
	}
	face := truetype.NewFace(parsed, &truetype.Options{
		Size:    206,
		DPI:     72,
		Hinting: font.HintingNone,
	})
	return &AvatarRenderer{log: serviceLog, fontFace: face, cache: map[string][]byte{}}, nil
}

// Render returns the PNG bytes for e, cached by id.
func (r *AvatarRenderer) Render(e experts.Expert) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.cache[string(e.ID)]; ok {
		return b, nil
	}

	dc := gg.NewContext(avatarSize, avatarSize)
	dc.DrawCircle(avatarSize/2, avatarSize/2, avatarSize/2)
	dc.Clip()
	dc.SetColor(parseColor(e.Color))
	dc.DrawRectangle(0, 0, avatarSize, avatarSize)
	dc.Fill()

	// font.Face is not safe for concurrent use; r.mu serializes drawing.
	dc.SetFontFace(r.fontFace)
	dc.SetColor(color.White)
	dc.DrawStringAnchored(Initial(e.Name), avatarSize/2, avatarSize/2, 0.5, 0.35)

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode avatar: %w", err)
	}
	r.cache[string(e.ID)] = buf.Bytes()
	return buf.Bytes(), nil
}

// Initial is the first letter of the first word that is not an abbreviation.
func Initial(name string) string {
	for _, w := range strings.Fields(name) {
		if strings.HasSuffix(w, ".") {
			continue
		}
		for _, c := range w {
			if unicode.IsLetter(c) {
				return string(unicode.ToUpper(c))
			}
		}
	}
	return "?"
}

func parseColor(s string) color.NRGBA {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 3 {
		return fallbackAvatarColor
	}
	return color.NRGBA{R: raw[0], G: raw[1], B: raw[2], A: 0xFF}
}
