package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jung-kurt/gofpdf"

	"pbc/internal/domain/org"
	"pbc/internal/domain/pbc"
)

// Service renders evaluation reports as PDF files under Dir.
type Service struct {
	Goals *pbc.Service
	Org   *org.Service
	Dir   string
}

func NewService(goals *pbc.Service, orgService *org.Service, dir string) *Service {
	return &Service{Goals: goals, Org: orgService, Dir: dir}
}

// GenerateEvaluationPDF writes the evaluation report for one user and
// period and returns the file path. Access checks belong to the caller.
func (s *Service) GenerateEvaluationPDF(ctx context.Context, userID, periodID int64) (string, error) {
	user, err := s.Org.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	period, err := s.Goals.GetPeriod(ctx, periodID)
	if err != nil {
		return "", err
	}
	view, err := s.Goals.GetEvaluation(ctx, userID, periodID)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", err
	}
	filePath := filepath.Join(s.Dir, fmt.Sprintf("evaluation-%d-%d.pdf", userID, periodID))

	label := pbc.PeriodLabel(period.Year, period.Quarter)

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(40, 10, "PBC Evaluation Report")
	pdf.Ln(12)
	pdf.SetFont("Helvetica", "", 12)
	pdf.Cell(0, 8, fmt.Sprintf("Employee: %s (%s)", user.RealName, user.Username))
	pdf.Ln(7)
	pdf.Cell(0, 8, fmt.Sprintf("Period: %s", label))
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Goals")
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 11)
	for _, g := range view.Goals {
		pdf.Cell(0, 7, fmt.Sprintf("%s (%s, weight %.1f%%, %s)", g.Name, g.Type, g.Weight, g.Status))
		pdf.Ln(6)
		pdf.Cell(0, 7, fmt.Sprintf("  Self score: %s   Supervisor score: %s",
			scoreText(g.SelfScore), scoreText(g.SupervisorScore)))
		pdf.Ln(7)
	}
	if len(view.Goals) == 0 {
		pdf.Cell(0, 7, "No goals recorded for this period.")
		pdf.Ln(7)
	}

	if e := view.Evaluation; e != nil {
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "B", 12)
		pdf.Cell(0, 8, "Overall")
		pdf.Ln(8)
		pdf.SetFont("Helvetica", "", 11)
		if e.SelfOverallComment != nil {
			pdf.MultiCell(0, 6, fmt.Sprintf("Self: %s", *e.SelfOverallComment), "", "L", false)
		}
		if e.SupervisorOverallComment != nil {
			pdf.MultiCell(0, 6, fmt.Sprintf("Supervisor: %s", *e.SupervisorOverallComment), "", "L", false)
		}
	}

	if err := pdf.OutputFileAndClose(filePath); err != nil {
		return "", err
	}
	return filePath, nil
}

func scoreText(score *float64) string {
	if score == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *score)
}
