package reporting

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	devicesapp "roomcast-cloud/internal/devices/application"
	receipts "roomcast-cloud/internal/receipts/domain"
)

// BuildReceiptsXLSX renders a receipt export for one time window.
func BuildReceiptsXLSX(from, to time.Time, list []receipts.Receipt) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	receiptsSheet := "receipts"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(receiptsSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Command Receipts")
	_ = f.SetCellValue(summarySheet, "A3", "From")
	_ = f.SetCellValue(summarySheet, "B3", from.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A4", "To")
	_ = f.SetCellValue(summarySheet, "B4", to.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A5", "Total")
	_ = f.SetCellValue(summarySheet, "B5", len(list))

	_ = f.SetCellValue(receiptsSheet, "A1", "Receipt")
	_ = f.SetCellValue(receiptsSheet, "B1", "Command")
	_ = f.SetCellValue(receiptsSheet, "C1", "Device")
	_ = f.SetCellValue(receiptsSheet, "D1", "Status")
	_ = f.SetCellValue(receiptsSheet, "E1", "Received At")
	_ = f.SetCellValue(receiptsSheet, "F1", "Details")
	for i, receipt := range list {
		row := i + 2
		_ = f.SetCellValue(receiptsSheet, fmt.Sprintf("A%d", row), receipt.ID)
		_ = f.SetCellValue(receiptsSheet, fmt.Sprintf("B%d", row), receipt.CommandID)
		_ = f.SetCellValue(receiptsSheet, fmt.Sprintf("C%d", row), receipt.DeviceID)
		_ = f.SetCellValue(receiptsSheet, fmt.Sprintf("D%d", row), receipt.Status)
		_ = f.SetCellValue(receiptsSheet, fmt.Sprintf("E%d", row), receipt.ReceivedAt.Format(time.RFC3339))
		_ = f.SetCellValue(receiptsSheet, fmt.Sprintf("F%d", row), string(receipt.Details))
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildFleetPDF renders a fleet overview for one property.
func BuildFleetPDF(propertyID string, generatedAt time.Time, entries []devicesapp.FleetEntry) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Fleet Overview")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Property: %s", propertyID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", generatedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	online := 0
	for _, entry := range entries {
		if entry.Online {
			online++
		}
	}
	pdf.Cell(0, 6, fmt.Sprintf("Devices: %d (%d online)", len(entries), online))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(55, 6, "Device", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Type", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "Name", "1", 0, "C", false, 0, "")
	pdf.CellFormat(20, 6, "Online", "1", 0, "C", false, 0, "")
	pdf.CellFormat(45, 6, "Last Seen", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "App Version", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, entry := range entries {
		lastSeen := "-"
		if entry.LastSeenAt != nil {
			lastSeen = entry.LastSeenAt.Format(time.RFC3339)
		}
		onlineLabel := "no"
		if entry.Online {
			onlineLabel = "yes"
		}
		pdf.CellFormat(55, 6, entry.DeviceID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, entry.DeviceType, "1", 0, "L", false, 0, "")
		pdf.CellFormat(50, 6, entry.Name, "1", 0, "L", false, 0, "")
		pdf.CellFormat(20, 6, onlineLabel, "1", 0, "C", false, 0, "")
		pdf.CellFormat(45, 6, lastSeen, "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, entry.AppVersion, "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
