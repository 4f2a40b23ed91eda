package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Certificate describes the data rendered onto a completion certificate.
type Certificate struct {
	StudentName string
	SeriesTitle string
	CompletedAt time.Time
	Reference   string
}

// CertificateRenderer renders series-completion certificates as PDF.
type CertificateRenderer struct{}

// NewCertificateRenderer constructs a certificate renderer.
func NewCertificateRenderer() *CertificateRenderer {
	return &CertificateRenderer{}
}

// Render produces a single-page landscape certificate.
func (r *CertificateRenderer) Render(cert Certificate) ([]byte, error) {
	if cert.StudentName == "" || cert.SeriesTitle == "" {
		return nil, fmt.Errorf("certificate requires student and series names")
	}

	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(20, 25, 20)
	pdf.AddPage()

	pdf.SetDrawColor(60, 60, 60)
	pdf.SetLineWidth(0.8)
	pdf.Rect(10, 10, 277, 190, "D")

	pdf.SetFont("Arial", "B", 26)
	pdf.CellFormat(0, 18, "CERTIFICATE OF COMPLETION", "", 1, "C", false, 0, "")
	pdf.Ln(8)

	pdf.SetFont("Arial", "", 13)
	pdf.CellFormat(0, 8, "This certifies that", "", 1, "C", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Arial", "B", 20)
	pdf.CellFormat(0, 12, cert.StudentName, "", 1, "C", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Arial", "", 13)
	pdf.CellFormat(0, 8, "has completed all lessons of the series", "", 1, "C", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, cert.SeriesTitle, "", 1, "C", false, 0, "")
	pdf.Ln(10)

	pdf.SetFont("Arial", "", 11)
	completed := cert.CompletedAt
	if completed.IsZero() {
		completed = time.Now().UTC()
	}
	pdf.CellFormat(0, 7, fmt.Sprintf("Completed on %s", completed.Format("2 January 2006")), "", 1, "C", false, 0, "")
	if cert.Reference != "" {
		pdf.SetFont("Arial", "", 8)
		pdf.CellFormat(0, 6, fmt.Sprintf("Reference: %s", cert.Reference), "", 1, "C", false, 0, "")
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render certificate: %w", err)
	}
	return buf.Bytes(), nil
}
