package dashboard

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/lgu-emis/emis-web/internal/emisapi"
)

// WriteBarangayCSV serialises per-barangay statistics.
func WriteBarangayCSV(w io.Writer, year int, stats []emisapi.BarangayStat) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"Year", "Barangay", "Businesses", "Total Paid"}); err != nil {
		return err
	}
	y := strconv.Itoa(year)
	for _, row := range stats {
		if err := writer.Write([]string{
			y,
			row.Barangay,
			strconv.Itoa(row.Count),
			formatFloat(row.TotalPaid),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
