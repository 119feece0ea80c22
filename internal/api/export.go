package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"

	"github.com/goatkit/ticketforge/internal/apierrors"
	"github.com/goatkit/ticketforge/internal/models"
)

const (
	ticketsSheet = "Tickets"
	jobsSheet    = "Jobs"
	xlsxMIME     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var (
	ticketHeader = []any{"ID", "External ID", "Title", "Verdict", "Reason", "Creating Jobs", "Changed"}
	jobHeader    = []any{"ID", "Ticket ID", "Title", "Status", "PR", "Finished", "Verified"}
)

// GET /api/v1/projects/:id/export.xlsx
func (h *Handler) exportProject(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	project, err := h.Projects.GetByID(ctx, id)
	if err != nil {
		h.fail(c, err, apierrors.CodeProjectNotFound)
		return
	}
	tickets, err := h.Tickets.ListByProject(ctx, id)
	if err != nil {
		h.fail(c, err, apierrors.CodeProjectNotFound)
		return
	}
	jobs, err := h.Jobs.ListByProject(ctx, id)
	if err != nil {
		h.fail(c, err, apierrors.CodeProjectNotFound)
		return
	}

	data, err := BuildWorkbook(tickets, jobs)
	if err != nil {
		h.fail(c, err, apierrors.CodeProjectNotFound)
		return
	}
	filename := fmt.Sprintf("project-%d-%s.xlsx", project.ID, h.now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, xlsxMIME, data)
}

// BuildWorkbook writes tickets and jobs to a two-sheet XLSX file.
func BuildWorkbook(tickets []*models.Ticket, jobs []*models.Job) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", ticketsSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(jobsSheet); err != nil {
		return nil, fmt.Errorf("add jobs sheet: %w", err)
	}

	if err := writeRow(f, ticketsSheet, 1, ticketHeader); err != nil {
		return nil, err
	}
	for i, t := range tickets {
		row := []any{t.ID, t.ExternalID, t.Title, string(t.Verdict), t.Reason(), yesNo(t.CreatingJobs), formatTime(t.ChangeTime)}
		if err := writeRow(f, ticketsSheet, i+2, row); err != nil {
			return nil, err
		}
	}

	if err := writeRow(f, jobsSheet, 1, jobHeader); err != nil {
		return nil, err
	}
	for i, j := range jobs {
		row := []any{j.ID, j.TicketID, j.Title, string(j.Status()), j.PRID.String, nullTime(j.FinishedAt.Valid, j.FinishedAt.Time), nullTime(j.VerifiedAt.Valid, j.VerifiedAt.Time)}
		if err := writeRow(f, jobsSheet, i+2, row); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func nullTime(valid bool, t time.Time) string {
	if !valid {
		return ""
	}
	return formatTime(t)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
