// Package report renders the printable prescription slip handed to the
// patient at the end of a visit.
package report

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/signintech/gopdf"

	"globule-intake/pkg"
)

var (
	ErrNoFont         = errors.New("no usable font for the slip")
	ErrNoPrescription = errors.New("visit has no prescription")
)

const (
	fontName = "slip"

	marginTop = 40
	// pageBottom is the lowest baseline used on an A4 page (841.89pt high).
	pageBottom = 780
)

// needsPage reports whether a line of height h starting at y would run past
// the bottom margin.
func needsPage(y, h float64) bool {
	return y+h > pageBottom
}

// DefaultFontPaths are tried in order when no font is configured.  The first
// ones cover Devanagari.
var DefaultFontPaths = []string{
	"/usr/share/fonts/truetype/noto/NotoSansDevanagari-Regular.ttf",
	"/usr/share/fonts/noto/NotoSansDevanagari-Regular.ttf",
	"/usr/share/fonts/ttf-dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
}

// Slip builds prescription slips.
type Slip struct {
	// FontPaths overrides DefaultFontPaths when set.
	FontPaths []string
	Clinic    string
}

// NewSlip returns a slip renderer.  fontPath may be empty.
func NewSlip(fontPath string) *Slip {
	s := &Slip{Clinic: "Clinic Intake Kiosk"}
	if fontPath != "" {
		s.FontPaths = []string{fontPath}
	}
	return s
}

func (s *Slip) fonts() []string {
	if len(s.FontPaths) > 0 {
		return s.FontPaths
	}
	return DefaultFontPaths
}

// Render returns the slip for a finished visit as PDF bytes.
func (s *Slip) Render(rec *pkg.CaseRecord, at time.Time) ([]byte, error) {
	if rec == nil || rec.Prescription == nil || rec.Prescription.Failed {
		return nil, ErrNoPrescription
	}

	pdf := gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()

	var fontErr error
	loaded := false
	for _, path := range s.fonts() {
		if err := pdf.AddTTFFont(fontName, path); err != nil {
			fontErr = err
			continue
		}
		loaded = true
		break
	}
	if !loaded {
		return nil, fmt.Errorf("%w: %v", ErrNoFont, fontErr)
	}

	if err := pdf.SetFont(fontName, "", 18); err != nil {
		return nil, err
	}
	pdf.SetX(40)
	pdf.SetY(marginTop)
	if err := pdf.Cell(nil, s.Clinic); err != nil {
		return nil, err
	}
	pdf.Br(30)

	if err := pdf.SetFont(fontName, "", 12); err != nil {
		return nil, err
	}
	header := []string{
		"Reg No: " + rec.RegistrationNumber,
		"Name: " + rec.Name,
		"Mobile: " + rec.Phone,
		"Visit: " + string(rec.PatientType),
		"Date: " + at.Format("02.01.2006 15:04"),
	}
	for _, line := range header {
		pdf.SetX(40)
		if err := pdf.Cell(nil, line); err != nil {
			return nil, err
		}
		pdf.Br(16)
	}
	pdf.Br(10)

	if err := pdf.SetFont(fontName, "", 14); err != nil {
		return nil, err
	}
	pdf.SetX(40)
	if err := pdf.Cell(nil, "Rx: "+rec.Prescription.Remedy); err != nil {
		return nil, err
	}
	pdf.Br(22)

	if err := pdf.SetFont(fontName, "", 11); err != nil {
		return nil, err
	}
	for _, para := range strings.Split(rec.Prescription.Text, "\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		lines, err := pdf.SplitText(para, 500)
		if err != nil {
			lines = []string{para}
		}
		for _, l := range lines {
			if needsPage(pdf.GetY(), 14) {
				pdf.AddPage()
				pdf.SetY(marginTop)
			}
			pdf.SetX(40)
			if err := pdf.Cell(nil, l); err != nil {
				return nil, err
			}
			pdf.Br(14)
		}
		pdf.Br(4)
	}

	var buf bytes.Buffer
	if _, err := pdf.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}
