package attendancesync

import (
	"fmt"
	"time"

	"github.com/mmdatafocus/attendance_backend/models"
	"github.com/xuri/excelize/v2"
)

const attendanceSheet = "Attendance"

var attendanceHeadings = []string{"UserID", "UID", "Timestamp", "Status", "Punch", "Terminal"}

func attendanceWorkbook(rows []models.Attendance, loc *time.Location) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", attendanceSheet); err != nil {
		_ = f.Close()
		return nil, err
	}

	for i, h := range attendanceHeadings {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		if err := f.SetCellValue(attendanceSheet, cell, h); err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	for i, r := range rows {
		row := i + 2
		values := []any{r.UserID, r.UID, r.Timestamp.In(loc).Format(models.TimestampLayout), r.Status, r.Punch, r.Terminal}
		if err := f.SetSheetRow(attendanceSheet, fmt.Sprintf("A%d", row), &values); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return f, nil
}
