package service

import (
	"context"
	"fmt"
	"io"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldops/internal/authorization"
	"github.com/smallbiznis/fieldops/internal/money"
	"github.com/smallbiznis/fieldops/internal/period"
	userdomain "github.com/smallbiznis/fieldops/internal/user/domain"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

var exportHeader = []string{
	"Technician",
	"Email",
	"Tasks",
	"Gross",
	"Bonus",
	"Deductions",
	"Net Pay",
	"Status",
}

// ExportWeek writes the week's payrolls as an xlsx workbook with one row
// per technician.
func (s *Service) ExportWeek(ctx context.Context, actorID snowflake.ID, year, week int, w io.Writer) error {
	if err := s.authz.Authorize(ctx, actorID, authorization.ObjectPayroll, authorization.ActionPayrollView); err != nil {
		return err
	}
	resolved, err := period.Resolve(year, week, s.settings.Get().Location())
	if err != nil {
		return err
	}
	payrolls, err := s.ListForWeek(ctx, year, week)
	if err != nil {
		return err
	}

	ids := make([]snowflake.ID, 0, len(payrolls))
	for _, p := range payrolls {
		ids = append(ids, p.TechnicianID)
	}
	var users []userdomain.User
	if len(ids) > 0 {
		if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
			return err
		}
	}
	byID := make(map[snowflake.ID]userdomain.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := "Payroll " + resolved.Label()
	index, err := f.NewSheet(sheet)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	for col, title := range exportHeader {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(sheet, cell, title); err != nil {
			return err
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(exportHeader), 1)
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return err
	}

	for i, p := range payrolls {
		user := byID[p.TechnicianID]
		name := user.Name
		if name == "" {
			name = p.TechnicianID.String()
		}
		row := []any{
			name,
			user.Email,
			p.TaskCount,
			money.Format(p.GrossAmount),
			money.Format(p.BonusAmount),
			money.Format(p.DeductionsAmount),
			money.Format(p.NetPay),
			string(p.Status),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(sheet, "A", "B", 28)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	s.log.Info("payroll exported",
		zap.String("week", resolved.Label()),
		zap.Int("rows", len(payrolls)),
	)
	return nil
}
