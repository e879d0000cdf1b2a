package admin

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/hitoshi/eplan/internal/model"
)

// CSVFilename はエクスポートのダウンロード名。
const CSVFilename = "user_stats.csv"

var csvHeader = []string{"User ID", "Email", "Name", "Task Count", "Completed Tasks", "Completion Rate", "Last Active"}

// lastActiveLayout はCSVの最終アクティブ日時の書式。UTCで出力する。
const lastActiveLayout = "2006-01-02 15:04:05"

// WriteCSV は一覧をCSVで書き出す。並び順は引数のまま。
func WriteCSV(w io.Writer, stats []model.UserStats) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, s := range stats {
		row := []string{
			s.ID,
			orNA(s.Email),
			orNA(s.DisplayName),
			strconv.Itoa(s.TaskCount),
			strconv.Itoa(s.CompletedCount),
			fmt.Sprintf("%d%%", Rate(s.CompletedCount, s.TaskCount)),
			s.LastActive.UTC().Format(lastActiveLayout),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
